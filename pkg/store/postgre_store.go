package store

import (
	"fmt"

	"gorm.io/driver/postgres"
)

// PostgreStore PostgreSQL存储实现
type PostgreStore struct {
	*GormStore
}

// NewPostgreStore 创建PostgreSQL存储实例
func NewPostgreStore(config PostgresConfig) (*PostgreStore, error) {
	if config.Host == "" || config.DBName == "" {
		return nil, fmt.Errorf("postgres host and dbname are required")
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	store, err := NewGormStore(postgres.Open(config.DSN()))
	if err != nil {
		return nil, err
	}

	// 与 SQLite 一致，单连接保证提交顺序
	sqlDB, err := store.db.DB()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("getting sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &PostgreStore{GormStore: store}, nil
}

// DSN 生成连接字符串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}
