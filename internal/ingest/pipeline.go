package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"mesh-logger/pkg/metrics"
	"mesh-logger/pkg/store"
	"mesh-logger/pkg/types"
)

// FailurePolicy 单个数据包处理失败时的行为
type FailurePolicy string

const (
	// FailCrash 错误向上传递，由调用方关闭数据源并退出进程
	FailCrash FailurePolicy = "crash"
	// FailSkip 记录错误后继续处理下一个数据包
	FailSkip FailurePolicy = "skip"
)

// DefaultReplyTrigger 触发自动回复的消息文本
const DefaultReplyTrigger = "QSA"

const timeLayout = "2006-01-02T15:04:05"

// Radio 数据源提供的节点目录和发送能力
type Radio interface {
	NodeDirectory
	SendText(ctx context.Context, text string) error
}

// Options 流水线的可选参数
type Options struct {
	Dedup        DedupPolicy
	ReplyTrigger string
	OnError      FailurePolicy
	Console      io.Writer
	Clock        clockwork.Clock
	Metrics      *metrics.Metrics
}

// Stats 处理计数，可在其他 goroutine 中读取
type Stats struct {
	Packets             int64     `json:"packets"`
	Errors              int64     `json:"errors"`
	PositionsStored     int64     `json:"positions_stored"`
	PositionsSuppressed int64     `json:"positions_suppressed"`
	Messages            int64     `json:"messages"`
	Replies             int64     `json:"replies"`
	LastPacket          time.Time `json:"last_packet,omitempty"`
}

// Pipeline 逐个处理数据包并写入存储
type Pipeline struct {
	store        store.Store
	dedup        DedupPolicy
	replyTrigger string
	onError      FailurePolicy
	console      io.Writer
	clock        clockwork.Clock
	logger       zerolog.Logger
	metrics      *metrics.Metrics

	packets             atomic.Int64
	errors              atomic.Int64
	positionsStored     atomic.Int64
	positionsSuppressed atomic.Int64
	messages            atomic.Int64
	replies             atomic.Int64
	lastPacket          atomic.Int64
}

// outcome 单个数据包提交后的结果
type outcome struct {
	named              bool
	positionStored     bool
	positionSuppressed bool
	message            bool
	replied            bool
}

// New 创建流水线，未设置的选项使用默认值
func New(st store.Store, logger zerolog.Logger, opts Options) *Pipeline {
	if opts.Dedup == (DedupPolicy{}) {
		opts.Dedup = DefaultDedupPolicy()
	}
	if opts.ReplyTrigger == "" {
		opts.ReplyTrigger = DefaultReplyTrigger
	}
	if opts.OnError == "" {
		opts.OnError = FailCrash
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetricsForTesting()
	}

	return &Pipeline{
		store:        st,
		dedup:        opts.Dedup,
		replyTrigger: opts.ReplyTrigger,
		onError:      opts.OnError,
		console:      opts.Console,
		clock:        opts.Clock,
		logger:       logger.With().Str("component", "ingest").Logger(),
		metrics:      opts.Metrics,
	}
}

// Handle 处理一个数据包并按失败策略处理错误
// 返回非 nil 错误表示进程应当终止
func (p *Pipeline) Handle(ctx context.Context, pkt *types.Packet, radio Radio) error {
	start := p.clock.Now()
	p.packets.Add(1)
	p.lastPacket.Store(start.Unix())
	p.metrics.PacketsReceived.Inc()

	err := p.Process(ctx, pkt, radio)
	p.metrics.ProcessingDuration.Observe(p.clock.Since(start).Seconds())
	if err == nil {
		return nil
	}

	p.errors.Add(1)
	p.metrics.PacketErrors.Inc()

	if p.onError == FailSkip {
		p.logger.Error().Err(err).Msg("Packet processing failed, skipping")
		return nil
	}
	return fmt.Errorf("processing packet: %w", err)
}

// Process 处理一个数据包，所有写入在同一个事务中提交
func (p *Pipeline) Process(ctx context.Context, pkt *types.Packet, radio Radio) error {
	s, err := Classify(pkt, radio)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	unixtime := now.Unix()

	log := p.logger.With().Int64("src", s.Source).Logger()
	log.Debug().
		Str("name", s.Name).
		Bool("have_name", s.HaveName).
		Float64("snr", s.SNR).
		Int("hops", s.Hops).
		Msg("Packet classified")

	var out outcome
	err = p.store.Transaction(ctx, func(tx store.Tx) error {
		// 更新节点名称
		if s.HaveName {
			if err := tx.UpsertNode(types.Node{ID: s.Source, Name: s.Name}); err != nil {
				return err
			}
			out.named = true
		}

		if err := tx.AppendLog(types.LogEntry{Time: unixtime, Src: s.Source, SNR: s.SNR, Hops: s.Hops}); err != nil {
			return err
		}

		if s.Position != nil {
			stored, err := p.updatePosition(tx, log, s.Source, *s.Position, unixtime)
			if err != nil {
				return err
			}
			out.positionStored = stored
			out.positionSuppressed = !stored
		}

		p.printSummary(s, now)

		if s.Message == nil {
			return nil
		}

		text := *s.Message
		fmt.Fprintf(p.console, "    %s\n-- \n", text)
		if err := tx.AppendMessage(types.MessageEntry{Time: unixtime, Src: s.Source, Text: text}); err != nil {
			return err
		}
		out.message = true

		// 自动回复
		if text == p.replyTrigger {
			reply := FormatReply(s.SNR, s.Hops)
			if err := radio.SendText(ctx, reply); err != nil {
				return fmt.Errorf("sending reply: %w", err)
			}
			log.Debug().Str("reply", reply).Msg("Reply sent")
			out.replied = true
		}
		return nil
	})
	if err != nil {
		// 回复在提交前发出，无法撤回
		if out.replied {
			log.Warn().Err(err).Msg("Reply already sent for a packet that was rolled back")
		}
		return fmt.Errorf("committing packet from %d: %w", s.Source, err)
	}

	p.record(out)
	return nil
}

// updatePosition 查询最近位置并按去重策略决定是否写入
func (p *Pipeline) updatePosition(tx store.Tx, log zerolog.Logger, src int64, pos Position, now int64) (bool, error) {
	last, err := tx.LatestPosition(src)
	if err != nil {
		return false, err
	}

	if !p.dedup.ShouldUpdate(pos.Lat, pos.Lng, now, last) {
		log.Debug().Int32("lat", pos.Lat).Int32("lng", pos.Lng).Msg("Position suppressed")
		return false, nil
	}

	if err := tx.AppendPosition(types.GeoEntry{Node: src, Lat: pos.Lat, Lng: pos.Lng, Time: now}); err != nil {
		return false, err
	}
	log.Debug().Int32("lat", pos.Lat).Int32("lng", pos.Lng).Msg("Position stored")
	return true, nil
}

// printSummary 向控制台输出一行摘要
func (p *Pipeline) printSummary(s *Summary, now time.Time) {
	hops := ""
	if s.HopsKnown {
		hops = fmt.Sprintf("%d hops", s.Hops)
	}
	line := fmt.Sprintf("%-16s  %s     % 5.1f dB    %s", s.Name, now.Local().Format(timeLayout), s.SNR, hops)
	fmt.Fprintln(p.console, strings.TrimRight(line, " "))
}

func (p *Pipeline) record(out outcome) {
	if out.named {
		p.metrics.NodesSeen.Inc()
	}
	if out.positionStored {
		p.positionsStored.Add(1)
		p.metrics.PositionsStored.Inc()
	}
	if out.positionSuppressed {
		p.positionsSuppressed.Add(1)
		p.metrics.PositionsSuppressed.Inc()
	}
	if out.message {
		p.messages.Add(1)
		p.metrics.MessagesReceived.Inc()
	}
	if out.replied {
		p.replies.Add(1)
		p.metrics.RepliesSent.Inc()
	}
}

// Stats 返回当前计数
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Packets:             p.packets.Load(),
		Errors:              p.errors.Load(),
		PositionsStored:     p.positionsStored.Load(),
		PositionsSuppressed: p.positionsSuppressed.Load(),
		Messages:            p.messages.Load(),
		Replies:             p.replies.Load(),
	}
	if ts := p.lastPacket.Load(); ts > 0 {
		st.LastPacket = time.Unix(ts, 0)
	}
	return st
}

// FormatReply 生成自动回复文本
func FormatReply(snr float64, hops int) string {
	return fmt.Sprintf("SNR %.1f, TTL %d.", snr, hops)
}
