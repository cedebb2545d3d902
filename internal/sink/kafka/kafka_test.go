package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/monitor"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.KafkaSinkConfig
		wantErr bool
	}{
		{name: "missing brokers", cfg: config.KafkaSinkConfig{Topic: "t"}, wantErr: true},
		{name: "missing topic", cfg: config.KafkaSinkConfig{Brokers: []string{"localhost:9092"}}, wantErr: true},
		{name: "minimal", cfg: config.KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := normalize(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultBatchSize, cfg.BatchSize)
			assert.Equal(t, defaultBatchTimeout, cfg.BatchTimeout)
			assert.Equal(t, defaultCompression, cfg.Compression)
			assert.Equal(t, defaultMaxAttempts, cfg.MaxAttempts)
		})
	}
}

func TestNewWriter(t *testing.T) {
	cfg := config.KafkaSinkConfig{
		Brokers:      []string{"b1:9092", "b2:9092"},
		Topic:        "zwift",
		BatchSize:    10,
		BatchTimeout: 50 * time.Millisecond,
		Compression:  "gzip",
		MaxAttempts:  2,
	}
	w, err := newWriter(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "zwift", w.Topic)
	assert.Equal(t, kafka.Gzip, w.Compression)
	assert.True(t, w.Async)

	cfg.Compression = "zip"
	_, err = newWriter(cfg, nil)
	assert.Error(t, err)

	_, err = New(config.KafkaSinkConfig{Brokers: []string{"b:9092"}, Topic: "t", Compression: "zip"})
	assert.Error(t, err)
}

func message(t *testing.T) *monitor.Message {
	t.Helper()
	c, err := codec.New()
	require.NoError(t, err)
	rec, err := c.NewMessage(codec.TypeOutgoingPacket)
	require.NoError(t, err)
	return &monitor.Message{
		Direction: core.Outbound,
		Transport: core.TransportUDP,
		Flow: core.FlowKey{
			SrcIP: netip.MustParseAddr("192.168.1.2"), DstIP: netip.MustParseAddr("10.0.0.1"),
			SrcPort: 40000, DstPort: 3022,
		},
		Type:      codec.TypeOutgoingPacket,
		Record:    rec,
		Timestamp: time.Unix(1700000000, 0),
	}
}

func TestReport(t *testing.T) {
	w := &fakeWriter{}
	s := &Sink{writer: w, logger: log.GetLogger()}

	msg := message(t)
	require.NoError(t, s.Report(context.Background(), msg))
	require.Len(t, w.msgs, 1)

	km := w.msgs[0]
	assert.Equal(t, []byte(msg.Flow.String()), km.Key)
	assert.Equal(t, msg.Timestamp, km.Time)
	require.Len(t, km.Headers, 2)
	assert.Equal(t, "direction", km.Headers[0].Key)
	assert.Equal(t, []byte("outbound"), km.Headers[0].Value)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(km.Value, &doc))
	assert.Equal(t, "outbound", doc["direction"])

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestReportAndCompletionErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	s := &Sink{writer: w, logger: log.GetLogger()}

	err := s.Report(context.Background(), message(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka write failed")
	assert.Equal(t, uint64(1), s.errorCount.Load())

	s.completion(make([]kafka.Message, 3), nil)
	assert.Equal(t, uint64(3), s.reportedCount.Load())
	s.completion(make([]kafka.Message, 2), errors.New("timeout"))
	assert.Equal(t, uint64(3), s.errorCount.Load())
}
