package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"mesh-logger/pkg/types"
)

var (
	// ErrMissingSource 数据包缺少发送方 id
	ErrMissingSource = errors.New("packet has no source id")
	// ErrMalformedSource 发送方 id 存在但不是整数
	ErrMalformedSource = errors.New("packet source id is not an integer")
	// ErrInvalidText 文本消息不是合法的 UTF-8
	ErrInvalidText = errors.New("message payload is not valid UTF-8")
)

// NodeDirectory 节点目录，由数据源维护
type NodeDirectory interface {
	// LongName 按文本 id（如 "!a1b2c3d4"）查找节点长名称
	LongName(nodeID string) (string, bool)
}

// Position 整数缩放坐标（度 × 1e7）
type Position struct {
	Lat int32
	Lng int32
}

// Summary 规范化后的数据包
type Summary struct {
	Source    int64
	Name      string
	HaveName  bool
	SNR       float64
	Hops      int
	HopsKnown bool
	Position  *Position
	Message   *string
}

// Classify 从数据包中提取各字段，缺失的可选字段使用默认值
func Classify(pkt *types.Packet, dir NodeDirectory) (*Summary, error) {
	if pkt == nil {
		return nil, ErrMissingSource
	}
	if pkt.From == nil {
		if len(pkt.FromRaw) > 0 {
			return nil, fmt.Errorf("%w: from=%s", ErrMalformedSource, pkt.FromRaw)
		}
		return nil, ErrMissingSource
	}

	s := &Summary{Source: *pkt.From}

	if pkt.RxSnr != nil {
		s.SNR = *pkt.RxSnr
	}
	if pkt.HopLimit != nil {
		s.Hops = *pkt.HopLimit
		s.HopsKnown = true
	}

	s.Name, s.HaveName = lookupName(pkt, dir)
	if !s.HaveName {
		s.Name = strconv.FormatInt(s.Source, 10)
	}

	d := pkt.Decoded
	if d == nil {
		return s, nil
	}

	if pos := d.Position; pos != nil && pos.LatitudeI != nil && pos.LongitudeI != nil {
		s.Position = &Position{Lat: *pos.LatitudeI, Lng: *pos.LongitudeI}
	}

	if d.Portnum == types.PortTextMessage && d.Payload != nil {
		if !utf8.Valid(d.Payload) {
			return nil, ErrInvalidText
		}
		text := string(d.Payload)
		s.Message = &text
	}

	return s, nil
}

// lookupName 查询节点目录，查不到时返回 false
func lookupName(pkt *types.Packet, dir NodeDirectory) (string, bool) {
	if dir == nil {
		return "", false
	}
	id := pkt.FromID
	if id == "" {
		id = types.NodeIDString(*pkt.From)
	}
	name, ok := dir.LongName(id)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
