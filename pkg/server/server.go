package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"mesh-logger/internal/ingest"
)

// Config HTTP 状态服务配置
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr 返回监听地址
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StatsSource 提供流水线计数
type StatsSource interface {
	Stats() ingest.Stats
}

// NodeCounter 提供已知节点数量
type NodeCounter interface {
	Len() int
}

// Server 状态服务器，只读取原子计数和指标，不访问存储
type Server struct {
	config   Config
	logger   zerolog.Logger
	pipeline StatsSource
	nodes    NodeCounter
	started  time.Time

	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New 创建服务器实例，nodes 可以为 nil
func New(cfg Config, pipeline StatsSource, nodes NodeCounter, logger zerolog.Logger) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		pipeline: pipeline,
		nodes:    nodes,
		started:  time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler 返回注册了全部路由的 gin 引擎
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Start 启动服务器
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("Status server started")
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	s.wg.Wait()

	s.logger.Info().Msg("Status server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus 返回流水线计数和主机信息
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"pipeline":       s.pipeline.Stats(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.nodes != nil {
		status["nodes_known"] = s.nodes.Len()
	}

	ctx := c.Request.Context()
	if info, err := host.InfoWithContext(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Getting host info failed")
	} else {
		status["host"] = gin.H{
			"hostname": info.Hostname,
			"os":       info.OS,
			"platform": info.Platform,
			"uptime":   info.Uptime,
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Getting memory info failed")
	} else {
		status["memory"] = gin.H{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}

	c.JSON(http.StatusOK, status)
}
