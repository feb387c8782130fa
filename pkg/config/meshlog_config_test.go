package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesh-logger/internal/ingest"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "meshlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDebug, EnvDatabase, EnvSourceAddress} {
		t.Setenv(key, "")
	}
}

func TestDefaultMeshlogConfig(t *testing.T) {
	cfg := DefaultMeshlogConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "stream", cfg.Source.Type)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "mesh.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, ingest.DefaultDedupPolicy(), cfg.DedupPolicy())
	assert.Equal(t, "crash", cfg.Pipeline.OnError)
	assert.Equal(t, "QSA", cfg.Reply.Trigger)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestLoadMeshlogConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, `
source:
  type: stream
  path: dev/radio
storage:
  type: sqlite
  sqlite:
    path: data/mesh.db
log:
  debug: true
  file: logs/meshlog.log
http:
  enabled: true
  port: 9000
dedup:
  max_distance: 50
  max_interval: 30s
pipeline:
  on_error: skip
reply:
  trigger: PING
`)

	cfg, err := LoadMeshlogConfig(path, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "dev/radio"), cfg.Source.Path)
	assert.Empty(t, cfg.Source.Address)
	assert.Equal(t, filepath.Join(dir, "data/mesh.db"), cfg.Storage.SQLite.Path)
	assert.Equal(t, filepath.Join(dir, "logs/meshlog.log"), cfg.Log.File)
	assert.True(t, cfg.Log.Debug)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, ingest.DedupPolicy{MaxDistance: 50, MaxInterval: 30 * time.Second}, cfg.DedupPolicy())
	assert.Equal(t, "skip", cfg.Pipeline.OnError)
	assert.Equal(t, "PING", cfg.Reply.Trigger)
}

func TestLoadMeshlogConfig_NoFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := LoadMeshlogConfig("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mesh.db"), cfg.Storage.SQLite.Path)

	// 工作目录下的 meshlog.yaml 会被自动读取
	writeConfig(t, dir, "reply:\n  trigger: HELLO\n")
	cfg, err = LoadMeshlogConfig("", dir)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", cfg.Reply.Trigger)
}

func TestLoadMeshlogConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvDatabase, "/var/lib/meshlog/mesh.db")
	t.Setenv(EnvSourceAddress, "radio.local:4403")

	dir := t.TempDir()
	path := writeConfig(t, dir, `
source:
  path: /dev/ttyUSB0
storage:
  type: memory
`)

	cfg, err := LoadMeshlogConfig(path, dir)
	require.NoError(t, err)

	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/meshlog/mesh.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, "stream", cfg.Source.Type)
	assert.Equal(t, "radio.local:4403", cfg.Source.Address)
	assert.Empty(t, cfg.Source.Path)
}

func TestLoadMeshlogConfig_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := LoadMeshlogConfig(filepath.Join(dir, "missing.yaml"), dir)
	assert.Error(t, err)

	_, err = LoadMeshlogConfig(writeConfig(t, dir, "source: [oops"), dir)
	assert.Error(t, err)
}

func TestMeshlogConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *MeshlogConfig)
	}{
		{"unknown source", func(c *MeshlogConfig) { c.Source.Type = "serial" }},
		{"address and path", func(c *MeshlogConfig) { c.Source.Address = "a:1"; c.Source.Path = "/dev/x" }},
		{"kafka without brokers", func(c *MeshlogConfig) { c.Source.Type = "kafka"; c.Source.Kafka.Topic = "t" }},
		{"kafka without topic", func(c *MeshlogConfig) { c.Source.Type = "kafka"; c.Source.Kafka.Brokers = []string{"b:9092"} }},
		{"unknown storage", func(c *MeshlogConfig) { c.Storage.Type = "mysql" }},
		{"sqlite without path", func(c *MeshlogConfig) { c.Storage.SQLite.Path = "" }},
		{"bad http port", func(c *MeshlogConfig) { c.HTTP.Enabled = true; c.HTTP.Port = 70000 }},
		{"negative distance", func(c *MeshlogConfig) { c.Dedup.MaxDistance = -1 }},
		{"negative interval", func(c *MeshlogConfig) { c.Dedup.MaxInterval = -time.Second }},
		{"unknown failure policy", func(c *MeshlogConfig) { c.Pipeline.OnError = "retry" }},
		{"empty trigger", func(c *MeshlogConfig) { c.Reply.Trigger = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMeshlogConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
