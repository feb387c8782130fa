package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
)

// SQLiteStore 基于 SQLite 的存储（纯 Go 驱动）
type SQLiteStore struct {
	*GormStore
	path string
}

// DefaultSQLiteConfig 返回默认的 SQLite 配置
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	return &SQLiteConfig{Path: path}
}

// NewSQLiteStore 打开或创建 SQLite 数据库
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := config.Path
	if config.Path != ":memory:" {
		// 确保目录存在
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	gs, err := NewGormStore(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	// 只使用一个连接，写入按到达顺序串行提交
	sqlDB, err := gs.db.DB()
	if err != nil {
		_ = gs.Close()
		return nil, fmt.Errorf("getting sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteStore{GormStore: gs, path: config.Path}, nil
}

// Path 返回数据库文件路径
func (s *SQLiteStore) Path() string {
	return s.path
}
