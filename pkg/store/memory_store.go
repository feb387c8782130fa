package store

import (
	"context"
	"sort"
	"sync"

	"mesh-logger/pkg/types"
)

// MemoryStore 内存存储实现，用于测试和不落盘的试运行
type MemoryStore struct {
	sync.RWMutex
	nodes     map[types.Node]struct{}
	logs      []types.LogEntry
	positions []types.GeoEntry
	messages  []types.MessageEntry
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[types.Node]struct{}),
	}
}

// Transaction 暂存 fn 中的写入，fn 成功后一次性提交
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	tx := &memoryTx{store: s, nodes: make(map[types.Node]struct{})}
	if err := fn(tx); err != nil {
		return err
	}

	for node := range tx.nodes {
		s.nodes[node] = struct{}{}
	}
	s.logs = append(s.logs, tx.logs...)
	s.positions = append(s.positions, tx.positions...)
	s.messages = append(s.messages, tx.messages...)
	return nil
}

// ListNodes 列出所有节点名称及其最近位置
func (s *MemoryStore) ListNodes(ctx context.Context) ([]*types.NodeSummary, error) {
	s.RLock()
	defer s.RUnlock()

	summaries := make([]*types.NodeSummary, 0, len(s.nodes))
	for node := range s.nodes {
		summaries = append(summaries, &types.NodeSummary{
			Node:         node,
			LastPosition: latestIn(s.positions, node.ID),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].ID != summaries[j].ID {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].Name < summaries[j].Name
	})
	return summaries, nil
}

// LatestPosition 获取节点最近一次位置
func (s *MemoryStore) LatestPosition(ctx context.Context, nodeID int64) (*types.GeoEntry, error) {
	s.RLock()
	defer s.RUnlock()
	return latestIn(s.positions, nodeID), nil
}

// Counts 统计各类记录数
func (s *MemoryStore) Counts(ctx context.Context) (*types.Counts, error) {
	s.RLock()
	defer s.RUnlock()
	return &types.Counts{
		Nodes:     int64(len(s.nodes)),
		Logs:      int64(len(s.logs)),
		Positions: int64(len(s.positions)),
		Messages:  int64(len(s.messages)),
	}, nil
}

// Logs 返回已提交日志的副本
func (s *MemoryStore) Logs() []types.LogEntry {
	s.RLock()
	defer s.RUnlock()
	return append([]types.LogEntry(nil), s.logs...)
}

// Positions 返回已提交位置的副本
func (s *MemoryStore) Positions() []types.GeoEntry {
	s.RLock()
	defer s.RUnlock()
	return append([]types.GeoEntry(nil), s.positions...)
}

// Messages 返回已提交消息的副本
func (s *MemoryStore) Messages() []types.MessageEntry {
	s.RLock()
	defer s.RUnlock()
	return append([]types.MessageEntry(nil), s.messages...)
}

// Close 内存存储无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}

// latestIn 返回时间最大的位置，相同时间取后插入的
func latestIn(positions []types.GeoEntry, nodeID int64) *types.GeoEntry {
	var latest *types.GeoEntry
	for i := range positions {
		p := positions[i]
		if p.Node != nodeID {
			continue
		}
		if latest == nil || p.Time >= latest.Time {
			latest = &p
		}
	}
	return latest
}

// memoryTx 未提交的写入
type memoryTx struct {
	store     *MemoryStore
	nodes     map[types.Node]struct{}
	logs      []types.LogEntry
	positions []types.GeoEntry
	messages  []types.MessageEntry
}

func (t *memoryTx) UpsertNode(node types.Node) error {
	if _, exists := t.store.nodes[node]; exists {
		return nil
	}
	t.nodes[node] = struct{}{}
	return nil
}

func (t *memoryTx) AppendLog(entry types.LogEntry) error {
	t.logs = append(t.logs, entry)
	return nil
}

func (t *memoryTx) LatestPosition(nodeID int64) (*types.GeoEntry, error) {
	all := append(append([]types.GeoEntry(nil), t.store.positions...), t.positions...)
	return latestIn(all, nodeID), nil
}

func (t *memoryTx) AppendPosition(entry types.GeoEntry) error {
	t.positions = append(t.positions, entry)
	return nil
}

func (t *memoryTx) AppendMessage(entry types.MessageEntry) error {
	t.messages = append(t.messages, entry)
	return nil
}
