package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 已知的端口类型
const (
	PortTextMessage = "TEXT_MESSAGE_APP"
	PortPosition    = "POSITION_APP"
	PortNodeInfo    = "NODEINFO_APP"
)

// Packet 已解码的网状网络数据包
// 除 From 外的字段都可能缺失，用指针表示是否存在
// 解码时类型不对的可选字段按缺失处理
type Packet struct {
	ID       uint32   `json:"id,omitempty"`
	From     *int64   `json:"from,omitempty"`
	FromID   string   `json:"fromId,omitempty"`
	To       *int64   `json:"to,omitempty"`
	RxSnr    *float64 `json:"rxSnr,omitempty"`
	HopLimit *int     `json:"hopLimit,omitempty"`
	RxTime   int64    `json:"rxTime,omitempty"`
	Decoded  *Decoded `json:"decoded,omitempty"`

	// FromRaw from 字段存在但不是整数时保留原始 JSON
	FromRaw json.RawMessage `json:"-"`
}

// UnmarshalJSON 宽松解析数据包，只有文档本身不是 JSON 对象时返回错误
func (p *Packet) UnmarshalJSON(data []byte) error {
	*p = Packet{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("packet is null")
	}

	if raw := fields["from"]; !isAbsent(raw) {
		if p.From = optional[int64](raw); p.From == nil {
			p.FromRaw = raw
		}
	}
	if v := optional[uint32](fields["id"]); v != nil {
		p.ID = *v
	}
	if v := optional[string](fields["fromId"]); v != nil {
		p.FromID = *v
	}
	if v := optional[int64](fields["rxTime"]); v != nil {
		p.RxTime = *v
	}
	p.To = optional[int64](fields["to"])
	p.RxSnr = optional[float64](fields["rxSnr"])
	p.HopLimit = optional[int](fields["hopLimit"])
	p.Decoded = optional[Decoded](fields["decoded"])
	return nil
}

// Decoded 数据包的应用层负载
type Decoded struct {
	Portnum  string    `json:"portnum,omitempty"`
	Payload  []byte    `json:"payload,omitempty"` // JSON 中为 base64
	Position *Position `json:"position,omitempty"`
	User     *User     `json:"user,omitempty"`
}

// UnmarshalJSON 宽松解析负载字段
func (d *Decoded) UnmarshalJSON(data []byte) error {
	*d = Decoded{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if v := optional[string](fields["portnum"]); v != nil {
		d.Portnum = *v
	}
	if v := optional[[]byte](fields["payload"]); v != nil {
		d.Payload = *v
	}
	d.Position = optional[Position](fields["position"])
	d.User = optional[User](fields["user"])
	return nil
}

// User 节点信息包中的用户描述
type User struct {
	ID        string `json:"id,omitempty"`
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

// Position 位置负载，坐标为 度 × 1e7
// 解码时类型不对的字段按缺失处理，不返回错误
type Position struct {
	LatitudeI  *int32 `json:"latitudeI,omitempty"`
	LongitudeI *int32 `json:"longitudeI,omitempty"`
}

// UnmarshalJSON 宽松解析位置字段
func (p *Position) UnmarshalJSON(data []byte) error {
	*p = Position{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}

	p.LatitudeI = optional[int32](fields["latitudeI"])
	p.LongitudeI = optional[int32](fields["longitudeI"])
	return nil
}

// optional 解码可选字段，缺失、null 或类型不对时返回 nil
func optional[T any](raw json.RawMessage) *T {
	if isAbsent(raw) {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// NodeIDString 返回节点的文本标识，例如 "!a1b2c3d4"
func NodeIDString(num int64) string {
	return fmt.Sprintf("!%08x", uint32(num))
}

// DecodePacket 从 JSON 文档解码数据包
func DecodePacket(data []byte) (*Packet, error) {
	var pkt Packet
	if err := json.Unmarshal(data, &pkt); err != nil {
		return nil, fmt.Errorf("decoding packet: %w", err)
	}
	return &pkt, nil
}
