// Package kafka publishes emitted messages to a Kafka topic with batching,
// compression and retries. Messages are keyed by flow so each flow keeps
// its order within a partition.
package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/metrics"
	"firestige.xyz/zwiftmon/internal/monitor"
	"firestige.xyz/zwiftmon/internal/sink"
)

// Name is the sink name used in logs and metrics.
const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink sends JSON envelopes to Kafka.
type Sink struct {
	writer writer
	config config.KafkaSinkConfig
	logger log.Logger

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// New creates an asynchronous Kafka writer from cfg.
func New(cfg config.KafkaSinkConfig) (*Sink, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	s := &Sink{
		config: cfg,
		logger: log.GetLogger().WithField(core.FieldComponent, "sink").WithField("sink", Name),
	}

	w, err := newWriter(cfg, s.completion)
	if err != nil {
		return nil, err
	}
	s.writer = w

	s.logger.WithField("brokers", cfg.Brokers).
		WithField("topic", cfg.Topic).
		WithField("batch_size", cfg.BatchSize).
		WithField("batch_timeout", cfg.BatchTimeout).
		WithField("compression", cfg.Compression).
		Info("kafka sink started")
	return s, nil
}

func normalize(cfg config.KafkaSinkConfig) (config.KafkaSinkConfig, error) {
	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return cfg, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return cfg, nil
}

func compression(name string) (kafka.Compression, error) {
	switch name {
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s", name)
	}
}

// newWriter builds an async writer; delivery results arrive on done.
func newWriter(cfg config.KafkaSinkConfig, done func([]kafka.Message, error)) (*kafka.Writer, error) {
	codec, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   done,
	}, nil
}

// completion runs on the writer's goroutine after each batch.
func (s *Sink) completion(msgs []kafka.Message, err error) {
	if err == nil {
		s.reportedCount.Add(uint64(len(msgs)))
		return
	}
	s.errorCount.Add(uint64(len(msgs)))
	metrics.SinkErrorsTotal.WithLabelValues(Name).Add(float64(len(msgs)))
	s.logger.WithError(err).WithField("messages", len(msgs)).Warn("kafka batch failed")
}

// Name returns the sink name.
func (s *Sink) Name() string { return Name }

// Report queues msg on the writer.
func (s *Sink) Report(ctx context.Context, msg *monitor.Message) error {
	km, err := toKafka(msg)
	if err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("serialize message failed: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, km); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func toKafka(msg *monitor.Message) (kafka.Message, error) {
	value, err := sink.Encode(msg)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.Flow.String()),
		Value: value,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "direction", Value: []byte(msg.Direction.String())},
			{Key: "type", Value: []byte(msg.Type)},
		},
	}, nil
}

// Close flushes pending batches.
func (s *Sink) Close() error {
	var err error
	if s.writer != nil {
		if err = s.writer.Close(); err != nil {
			s.logger.WithError(err).Error("error closing kafka writer")
		}
	}
	s.logger.WithField("total_reported", s.reportedCount.Load()).
		WithField("total_errors", s.errorCount.Load()).
		Info("kafka sink stopped")
	return err
}
