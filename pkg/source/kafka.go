package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"mesh-logger/pkg/types"
)

// messageReader kafka-go Reader 中用到的部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// messageWriter kafka-go Writer 中用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSource 从 Kafka 主题消费数据包，回复写入另一个主题
type KafkaSource struct {
	*Directory

	reader      messageReader
	writer      messageWriter
	destination string
	logger      zerolog.Logger
}

// NewKafkaSource 创建 Kafka 数据源
func NewKafkaSource(cfg KafkaConfig, destination string, logger zerolog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "mesh-logger"
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})

	var writer messageWriter
	if cfg.ReplyTopic != "" {
		writer = &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.ReplyTopic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireAll,
		}
	}

	return newKafkaSource(reader, writer, destination, logger), nil
}

func newKafkaSource(reader messageReader, writer messageWriter, destination string, logger zerolog.Logger) *KafkaSource {
	return &KafkaSource{
		Directory:   NewDirectory(),
		reader:      reader,
		writer:      writer,
		destination: destination,
		logger:      logger.With().Str("component", "kafka").Logger(),
	}
}

// Run 逐条消费消息，handler 成功后提交偏移量
func (s *KafkaSource) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetching message: %w", err)
		}

		pkt, err := types.DecodePacket(msg.Value)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Skipping undecodable message")
		} else {
			s.Observe(pkt)
			if err := handler(ctx, pkt); err != nil {
				return err
			}
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
		}
	}
}

// SendText 将回复写入回复主题
func (s *KafkaSource) SendText(ctx context.Context, text string) error {
	if s.writer == nil {
		return fmt.Errorf("kafka reply topic is not configured")
	}

	data, err := encodeOutbound(text, s.destination)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, kafkago.Message{Value: data}); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}

// Close 关闭 reader 和 writer
func (s *KafkaSource) Close() error {
	var errs []error
	if err := s.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing reader: %w", err))
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
