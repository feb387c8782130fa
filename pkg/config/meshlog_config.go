package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mesh-logger/internal/ingest"
	"mesh-logger/pkg/server"
	"mesh-logger/pkg/source"
	"mesh-logger/pkg/store"
)

// DefaultConfigPath 未指定 --config 时尝试读取的文件
const DefaultConfigPath = "meshlog.yaml"

// 环境变量
const (
	EnvDebug         = "DEBUG"
	EnvDatabase      = "MESHLOG_DB"
	EnvSourceAddress = "MESHLOG_SOURCE_ADDRESS"
)

// MeshlogConfig 日志记录器配置
type MeshlogConfig struct {
	// 数据源
	Source source.Config `yaml:"source"`

	// 存储配置
	Storage store.Config `yaml:"storage"`

	// 日志配置
	Log struct {
		Debug bool   `yaml:"debug"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	// 状态服务
	HTTP server.Config `yaml:"http"`

	// 位置去重阈值
	Dedup struct {
		MaxDistance float64       `yaml:"max_distance"` // 米
		MaxInterval time.Duration `yaml:"max_interval"`
	} `yaml:"dedup"`

	Pipeline struct {
		OnError string `yaml:"on_error"` // crash 或 skip
	} `yaml:"pipeline"`

	Reply struct {
		Trigger string `yaml:"trigger"`
	} `yaml:"reply"`
}

// LoadMeshlogConfig 加载配置
// path 为空时使用工作目录下的 meshlog.yaml（如果存在），否则只使用默认值
func LoadMeshlogConfig(path string, workspaceRoot string) (*MeshlogConfig, error) {
	if path == "" && fileExists(filepath.Join(workspaceRoot, DefaultConfigPath)) {
		path = filepath.Join(workspaceRoot, DefaultConfigPath)
	}

	cfg := DefaultMeshlogConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}

	// 处理相对路径
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// ApplyEnv 实现EnvOverrider接口
func (c *MeshlogConfig) ApplyEnv() {
	if os.Getenv(EnvDebug) != "" {
		c.Log.Debug = true
	}
	if db := os.Getenv(EnvDatabase); db != "" {
		c.Storage.Type = "sqlite"
		c.Storage.SQLite.Path = db
	}
	if addr := os.Getenv(EnvSourceAddress); addr != "" {
		c.Source.Type = "stream"
		c.Source.Address = addr
		c.Source.Path = ""
	}
}

// Validate 实现Config接口
func (c *MeshlogConfig) Validate() error {
	switch c.Source.Type {
	case "stream":
		if c.Source.Address != "" && c.Source.Path != "" {
			return fmt.Errorf("source.address and source.path are mutually exclusive")
		}
	case "kafka":
		if len(c.Source.Kafka.Brokers) == 0 {
			return fmt.Errorf("source.kafka.brokers is required")
		}
		if c.Source.Kafka.Topic == "" {
			return fmt.Errorf("source.kafka.topic is required")
		}
	default:
		return fmt.Errorf("invalid source.type: %q", c.Source.Type)
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid storage.type: %q", c.Storage.Type)
	}

	if c.HTTP.Enabled && (c.HTTP.Port < 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("invalid http.port: %d", c.HTTP.Port)
	}
	if c.Dedup.MaxDistance < 0 {
		return fmt.Errorf("invalid dedup.max_distance: %v", c.Dedup.MaxDistance)
	}
	if c.Dedup.MaxInterval < 0 {
		return fmt.Errorf("invalid dedup.max_interval: %s", c.Dedup.MaxInterval)
	}

	switch ingest.FailurePolicy(c.Pipeline.OnError) {
	case ingest.FailCrash, ingest.FailSkip:
	default:
		return fmt.Errorf("invalid pipeline.on_error: %q", c.Pipeline.OnError)
	}

	if c.Reply.Trigger == "" {
		return fmt.Errorf("reply.trigger is required")
	}
	return nil
}

// DedupPolicy 返回位置去重策略
func (c *MeshlogConfig) DedupPolicy() ingest.DedupPolicy {
	return ingest.DedupPolicy{
		MaxDistance: c.Dedup.MaxDistance,
		MaxInterval: c.Dedup.MaxInterval,
	}
}

// resolveRelativePaths 处理相对路径
func (c *MeshlogConfig) resolveRelativePaths(baseDir string) error {
	// 处理日志文件路径
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		c.Log.File = filepath.Join(baseDir, c.Log.File)
	}

	// 处理SQLite数据库路径
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path != ":memory:" && !filepath.IsAbs(c.Storage.SQLite.Path) {
		c.Storage.SQLite.Path = filepath.Join(baseDir, c.Storage.SQLite.Path)
	}

	// 处理设备路径
	if c.Source.Path != "" && !filepath.IsAbs(c.Source.Path) {
		c.Source.Path = filepath.Join(baseDir, c.Source.Path)
	}

	return nil
}

// DefaultMeshlogConfig 返回默认配置
func DefaultMeshlogConfig() *MeshlogConfig {
	cfg := &MeshlogConfig{}

	// 数据源配置
	cfg.Source.Type = "stream"
	cfg.Source.Destination = source.DefaultDestination
	cfg.Source.Kafka.GroupID = "mesh-logger"

	// 存储配置
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = "mesh.db"
	cfg.Storage.Postgres.Port = 5432
	cfg.Storage.Postgres.SSLMode = "disable"

	// 日志配置
	cfg.Log.Debug = false
	cfg.Log.File = ""

	// 状态服务配置
	cfg.HTTP.Enabled = false
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 9464

	// 去重配置
	cfg.Dedup.MaxDistance = ingest.DefaultMaxDistance
	cfg.Dedup.MaxInterval = ingest.DefaultMaxInterval

	cfg.Pipeline.OnError = string(ingest.FailCrash)
	cfg.Reply.Trigger = ingest.DefaultReplyTrigger

	return cfg
}
