package store

import (
	"context"
	"fmt"

	"mesh-logger/pkg/types"
)

// Store 定义存储接口
// 实现不保证并发安全，所有调用应在同一个 goroutine 中进行
type Store interface {
	// Transaction 在一个事务中执行 fn，fn 返回错误时回滚
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// Queries
	ListNodes(ctx context.Context) ([]*types.NodeSummary, error)
	LatestPosition(ctx context.Context, nodeID int64) (*types.GeoEntry, error)
	Counts(ctx context.Context) (*types.Counts, error)

	// Maintenance
	Close() error
}

// Tx 单个数据包处理期间的写操作
type Tx interface {
	// UpsertNode 仅在 (id, name) 不存在时插入
	UpsertNode(node types.Node) error
	AppendLog(entry types.LogEntry) error
	// LatestPosition 返回节点最近一次位置，不存在时返回 nil
	LatestPosition(nodeID int64) (*types.GeoEntry, error)
	AppendPosition(entry types.GeoEntry) error
	AppendMessage(entry types.MessageEntry) error
}

// Config 存储配置
type Config struct {
	Type     string         `yaml:"type"`     // 存储类型：sqlite, postgres, memory
	SQLite   SQLiteConfig   `yaml:"sqlite"`   // SQLite配置
	Postgres PostgresConfig `yaml:"postgres"` // PostgreSQL配置
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path string `yaml:"path"` // 数据库文件路径
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// NewStore 创建存储实例，并确保表结构存在
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(&cfg.SQLite)
	case "postgres":
		return NewPostgreStore(cfg.Postgres)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
