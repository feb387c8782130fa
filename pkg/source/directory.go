package source

import (
	"sync"

	"mesh-logger/pkg/types"
)

// Directory 节点目录，从节点信息包中学习节点名称
type Directory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewDirectory 创建空的节点目录
func NewDirectory() *Directory {
	return &Directory{names: make(map[string]string)}
}

// Observe 如果是节点信息包则记录其长名称
func (d *Directory) Observe(pkt *types.Packet) {
	if pkt == nil || pkt.Decoded == nil || pkt.Decoded.Portnum != types.PortNodeInfo {
		return
	}
	user := pkt.Decoded.User
	if user == nil || user.LongName == "" {
		return
	}

	id := user.ID
	if id == "" {
		id = pkt.FromID
	}
	if id == "" && pkt.From != nil {
		id = types.NodeIDString(*pkt.From)
	}
	if id == "" {
		return
	}

	d.Set(id, user.LongName)
}

// Set 设置节点名称
func (d *Directory) Set(nodeID, longName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[nodeID] = longName
}

// LongName 查询节点长名称
func (d *Directory) LongName(nodeID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[nodeID]
	return name, ok
}

// Len 返回已知节点数量
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}
