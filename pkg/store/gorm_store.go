package store

import (
	"context"
	"fmt"

	"mesh-logger/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore 通用GORM存储实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建GORM存储实例
func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &GormStore{db: db}

	if err := store.initialize(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return store, nil
}

// initialize 创建缺失的表和索引
func (s *GormStore) initialize() error {
	err := s.db.AutoMigrate(&types.Node{}, &types.LogEntry{}, &types.GeoEntry{}, &types.MessageEntry{})
	if err != nil {
		return fmt.Errorf("auto migrating tables: %w", err)
	}
	return nil
}

// Transaction 在一个数据库事务中执行 fn
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

// ListNodes 列出所有节点名称及其最近位置
func (s *GormStore) ListNodes(ctx context.Context) ([]*types.NodeSummary, error) {
	var nodes []types.Node
	result := s.db.WithContext(ctx).Order("id").Order("name").Find(&nodes)
	if result.Error != nil {
		return nil, fmt.Errorf("querying nodes: %w", result.Error)
	}

	positions := make(map[int64]*types.GeoEntry)
	summaries := make([]*types.NodeSummary, 0, len(nodes))
	for _, node := range nodes {
		pos, seen := positions[node.ID]
		if !seen {
			var err error
			pos, err = latestPosition(s.db.WithContext(ctx), node.ID)
			if err != nil {
				return nil, err
			}
			positions[node.ID] = pos
		}
		summaries = append(summaries, &types.NodeSummary{Node: node, LastPosition: pos})
	}

	return summaries, nil
}

// LatestPosition 获取节点最近一次位置
func (s *GormStore) LatestPosition(ctx context.Context, nodeID int64) (*types.GeoEntry, error) {
	return latestPosition(s.db.WithContext(ctx), nodeID)
}

// Counts 统计各表记录数
func (s *GormStore) Counts(ctx context.Context) (*types.Counts, error) {
	db := s.db.WithContext(ctx)
	counts := &types.Counts{}

	for _, c := range []struct {
		model interface{}
		dest  *int64
	}{
		{&types.Node{}, &counts.Nodes},
		{&types.LogEntry{}, &counts.Logs},
		{&types.GeoEntry{}, &counts.Positions},
		{&types.MessageEntry{}, &counts.Messages},
	} {
		if err := db.Model(c.model).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	return counts, nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}
	return sqlDB.Close()
}

func latestPosition(db *gorm.DB, nodeID int64) (*types.GeoEntry, error) {
	var entries []types.GeoEntry
	result := db.Where("node = ?", nodeID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "time"}, Desc: true}).
		Limit(1).
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("querying latest position: %w", result.Error)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// gormTx 事务内的写操作
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) UpsertNode(node types.Node) error {
	result := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&node)
	if result.Error != nil {
		return fmt.Errorf("upserting node: %w", result.Error)
	}
	return nil
}

func (t *gormTx) AppendLog(entry types.LogEntry) error {
	if err := t.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

func (t *gormTx) LatestPosition(nodeID int64) (*types.GeoEntry, error) {
	return latestPosition(t.db, nodeID)
}

func (t *gormTx) AppendPosition(entry types.GeoEntry) error {
	if err := t.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("inserting position: %w", err)
	}
	return nil
}

func (t *gormTx) AppendMessage(entry types.MessageEntry) error {
	if err := t.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}
