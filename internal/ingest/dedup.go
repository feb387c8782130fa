package ingest

import (
	"time"

	"mesh-logger/pkg/geo"
	"mesh-logger/pkg/types"
)

// 默认去重阈值
const (
	DefaultMaxDistance = 150.0             // 米
	DefaultMaxInterval = 100 * time.Second // 秒
)

// DedupPolicy 决定新的位置观测是否需要存储
type DedupPolicy struct {
	MaxDistance float64
	MaxInterval time.Duration
}

// DefaultDedupPolicy 返回默认阈值的策略
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{
		MaxDistance: DefaultMaxDistance,
		MaxInterval: DefaultMaxInterval,
	}
}

// ShouldUpdate 判断位置是否需要存储
// 没有历史位置时总是存储；距离过近或时间过近任一条件成立即视为重复
func (p DedupPolicy) ShouldUpdate(lat, lng int32, now int64, last *types.GeoEntry) bool {
	if last == nil {
		return true
	}

	dist := geo.Distance(geo.FromScaled(lat), geo.FromScaled(lng), geo.FromScaled(last.Lat), geo.FromScaled(last.Lng))
	dtime := now - last.Time
	if dtime < 0 {
		dtime = -dtime
	}

	if dist < p.MaxDistance || float64(dtime) < p.MaxInterval.Seconds() {
		return false
	}
	return true
}
