package types

// Node 节点名称记录，(id, name) 唯一
// 节点改名后会累积多条历史名称，记录只插入不更新
type Node struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Name string `gorm:"column:name;primaryKey" json:"name"`
}

// TableName 指定表名
func (Node) TableName() string { return "nodes" }

// LogEntry 每个收到的数据包对应一条日志
type LogEntry struct {
	Time int64   `gorm:"column:time;index" json:"time"` // unix 秒
	Src  int64   `gorm:"column:src" json:"src"`
	SNR  float64 `gorm:"column:snr" json:"snr"`
	Hops int     `gorm:"column:hops" json:"hops"`
}

// TableName 指定表名
func (LogEntry) TableName() string { return "log" }

// GeoEntry 被接受的位置观测
type GeoEntry struct {
	Node int64 `gorm:"column:node;index:idx_geo_node_time,priority:1" json:"node"`
	Lat  int32 `gorm:"column:lat" json:"lat"` // 度 × 1e7
	Lng  int32 `gorm:"column:lng" json:"lng"` // 度 × 1e7
	Time int64 `gorm:"column:time;index:idx_geo_node_time,priority:2" json:"time"`
}

// TableName 指定表名
func (GeoEntry) TableName() string { return "geo" }

// MessageEntry 收到的文本消息
type MessageEntry struct {
	Time int64  `gorm:"column:time" json:"time"`
	Src  int64  `gorm:"column:src" json:"src"`
	Text string `gorm:"column:text" json:"text"`
}

// TableName 指定表名
func (MessageEntry) TableName() string { return "msg" }

// NodeSummary 节点概览，用于命令行输出
type NodeSummary struct {
	Node
	LastPosition *GeoEntry `json:"last_position,omitempty"`
}

// Counts 各表的记录数
type Counts struct {
	Nodes     int64 `json:"nodes"`
	Logs      int64 `json:"logs"`
	Positions int64 `json:"positions"`
	Messages  int64 `json:"messages"`
}
