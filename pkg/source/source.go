package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"mesh-logger/pkg/types"
)

// DefaultDestination 回复消息的默认目标（广播）
const DefaultDestination = "^all"

// DefaultStreamAddress 未配置地址和路径时连接的 TCP 地址
const DefaultStreamAddress = "localhost:4403"

// Handler 每个数据包调用一次，同步执行
// 返回错误时数据源停止投递并把错误返回给 Run 的调用方
type Handler func(ctx context.Context, pkt *types.Packet) error

// Source 数据包来源，同时提供节点目录和发送能力
type Source interface {
	Run(ctx context.Context, handler Handler) error
	LongName(nodeID string) (string, bool)
	SendText(ctx context.Context, text string) error
	Close() error
}

// Config 数据源配置
type Config struct {
	Type        string      `yaml:"type"`        // stream, kafka
	Address     string      `yaml:"address"`     // stream: TCP 地址
	Path        string      `yaml:"path"`        // stream: 设备或文件路径
	Destination string      `yaml:"destination"` // 回复目标
	Kafka       KafkaConfig `yaml:"kafka"`
}

// KafkaConfig Kafka 数据源配置
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	ReplyTopic string   `yaml:"reply_topic"`
	GroupID    string   `yaml:"group_id"`
}

// Outbound 发往无线电的文本消息
type Outbound struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Destination string `json:"destination"`
}

func encodeOutbound(text, destination string) ([]byte, error) {
	if destination == "" {
		destination = DefaultDestination
	}
	data, err := json.Marshal(Outbound{Type: "sendText", Text: text, Destination: destination})
	if err != nil {
		return nil, fmt.Errorf("encoding outbound message: %w", err)
	}
	return data, nil
}

// NewSource 按配置创建数据源
func NewSource(cfg *Config, logger zerolog.Logger) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Type {
	case "stream":
		address := cfg.Address
		if address == "" && cfg.Path == "" {
			address = DefaultStreamAddress
		}
		return DialStream(address, cfg.Path, cfg.Destination, logger)
	case "kafka":
		return NewKafkaSource(cfg.Kafka, cfg.Destination, logger)
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
