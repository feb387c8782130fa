package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mesh-logger/internal/ingest"
	"mesh-logger/pkg/config"
	"mesh-logger/pkg/logger"
	"mesh-logger/pkg/metrics"
	"mesh-logger/pkg/server"
	"mesh-logger/pkg/source"
	"mesh-logger/pkg/store"
	"mesh-logger/pkg/types"
)

// 指标注册到默认 registry，只能创建一次
var pipelineMetrics = sync.OnceValue(metrics.NewMetrics)

// NewRunCmd 创建 run 命令
func NewRunCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Receive packets and record them",
		Long: `Connect to the configured radio source and record every packet until the
source closes or the process is interrupted.

Examples:
  meshlog run
  meshlog run --config /etc/meshlog.yaml
  DEBUG=1 MESHLOG_SOURCE_ADDRESS=radio.local:4403 meshlog run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), pipelineMetrics())
		},
	}
}

// run 组装存储、流水线和数据源，阻塞直到数据源结束
func run(ctx context.Context, cfg *config.MeshlogConfig, console io.Writer, m *metrics.Metrics) error {
	if ctx == nil {
		ctx = context.Background()
	}

	lg := logger.NewLogger(cfg.Log.Debug)
	if cfg.Log.File != "" {
		lg.SetLogOutput(cfg.Log.File)
		defer lg.Close()
	}
	log := lg.GetLogger("meshlog")

	st, err := store.NewStore(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing store")
		}
	}()

	src, err := source.NewSource(&cfg.Source, zlog.Logger)
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing source")
		}
	}()

	p := ingest.New(st, zlog.Logger, ingest.Options{
		Dedup:        cfg.DedupPolicy(),
		ReplyTrigger: cfg.Reply.Trigger,
		OnError:      ingest.FailurePolicy(cfg.Pipeline.OnError),
		Console:      console,
		Metrics:      m,
	})

	if cfg.HTTP.Enabled {
		nodes, _ := src.(server.NodeCounter)
		srv := server.New(cfg.HTTP, p, nodes, zlog.Logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting status server: %w", err)
		}
		defer srv.Stop()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.PipelineRunning.Set(1)
	defer m.PipelineRunning.Set(0)

	log.Info().
		Str("source", cfg.Source.Type).
		Str("storage", cfg.Storage.Type).
		Str("on_error", cfg.Pipeline.OnError).
		Msg("Logger started")

	err = src.Run(ctx, func(ctx context.Context, pkt *types.Packet) error {
		return p.Handle(ctx, pkt, src)
	})
	stats := p.Stats()
	if err != nil {
		log.Error().Err(err).Int64("packets", stats.Packets).Msg("Logger stopped on error")
		return err
	}

	log.Info().
		Int64("packets", stats.Packets).
		Int64("errors", stats.Errors).
		Int64("positions", stats.PositionsStored).
		Int64("messages", stats.Messages).
		Msg("Logger stopped")
	return nil
}
