package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mesh-logger/pkg/types"
)

// maxLineSize 单行 JSON 的最大长度
const maxLineSize = 1 << 20

// StreamSource 从按行分隔的 JSON 流读取数据包（TCP 连接或设备/文件）
// 回复按同样的格式写回同一个流
type StreamSource struct {
	*Directory

	conn        io.ReadWriteCloser
	destination string
	logger      zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// DialStream 连接 TCP 地址或打开设备路径，二者只能设置一个
func DialStream(address, path, destination string, logger zerolog.Logger) (*StreamSource, error) {
	var (
		conn io.ReadWriteCloser
		err  error
	)

	switch {
	case address != "" && path != "":
		return nil, fmt.Errorf("stream source needs either address or path, not both")
	case address != "":
		conn, err = net.DialTimeout("tcp", address, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", address, err)
		}
	case path != "":
		conn, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("stream source needs an address or a path")
	}

	return NewStreamSource(conn, destination, logger), nil
}

// NewStreamSource 基于已打开的流创建数据源
func NewStreamSource(conn io.ReadWriteCloser, destination string, logger zerolog.Logger) *StreamSource {
	return &StreamSource{
		Directory:   NewDirectory(),
		conn:        conn,
		destination: destination,
		logger:      logger.With().Str("component", "stream").Logger(),
	}
}

// Run 逐行读取并同步调用 handler，流结束或 ctx 取消时返回 nil
func (s *StreamSource) Run(ctx context.Context, handler Handler) error {
	// ctx 取消时关闭流以解除阻塞的读取
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		pkt, err := types.DecodePacket(line)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping undecodable line")
			continue
		}

		s.Observe(pkt)
		if err := handler(ctx, pkt); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("reading packets: %w", err)
	}

	s.logger.Info().Msg("Stream closed")
	return nil
}

// SendText 写入一行回复
func (s *StreamSource) SendText(ctx context.Context, text string) error {
	data, err := encodeOutbound(text, s.destination)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}

// Close 关闭底层流，可重复调用
func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
