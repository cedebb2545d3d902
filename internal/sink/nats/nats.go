// Package nats publishes emitted messages to NATS subjects. Flows are
// spread over a fixed set of partition subjects with a consistent hash
// ring, so one flow always lands on the same subject.
package nats

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/serialx/hashring"

	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/monitor"
	"firestige.xyz/zwiftmon/internal/sink"
)

// Name is the sink name used in logs and metrics.
const Name = "nats"

// Header keys set on every published message.
const (
	HeaderDirection = "Zwift-Direction"
	HeaderType      = "Zwift-Type"
	HeaderFlow      = "Zwift-Flow"
)

type publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Sink forwards messages as JSON envelopes.
type Sink struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	ring   *hashring.HashRing
	logger log.Logger

	reported atomic.Uint64
	errors   atomic.Uint64
}

// New connects to the server in cfg.
func New(cfg config.NATSSinkConfig) (*Sink, error) {
	logger := log.GetLogger().WithField(core.FieldComponent, "sink").WithField("sink", Name)

	nc, err := nats.Connect(cfg.URL,
		nats.Name("zwiftmon"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	s := newSink(nc, cfg.SubjectPrefix, cfg.Partitions)
	s.conn = nc
	s.logger = logger
	logger.WithField("url", cfg.URL).
		WithField("prefix", s.prefix).
		WithField("partitions", cfg.Partitions).
		Info("nats sink connected")
	return s, nil
}

func newSink(pub publisher, prefix string, partitions int) *Sink {
	if prefix == "" {
		prefix = "zwiftmon"
	}
	if partitions <= 0 {
		partitions = 1
	}
	nodes := make([]string, partitions)
	for i := range nodes {
		nodes[i] = "p" + strconv.Itoa(i)
	}
	return &Sink{
		pub:    pub,
		prefix: prefix,
		ring:   hashring.New(nodes),
		logger: log.GetLogger().WithField(core.FieldComponent, "sink").WithField("sink", Name),
	}
}

// Name returns the sink name.
func (s *Sink) Name() string { return Name }

// Subject returns the subject msg is published on:
// <prefix>.<direction>.<partition>.
func (s *Sink) Subject(msg *monitor.Message) string {
	part, ok := s.ring.GetNode(msg.Flow.String())
	if !ok {
		part = "p0"
	}
	return s.prefix + "." + msg.Direction.String() + "." + part
}

// Report publishes msg.
func (s *Sink) Report(_ context.Context, msg *monitor.Message) error {
	data, err := sink.Encode(msg)
	if err != nil {
		s.errors.Add(1)
		return err
	}

	m := nats.NewMsg(s.Subject(msg))
	m.Header.Set(HeaderDirection, msg.Direction.String())
	m.Header.Set(HeaderType, msg.Type)
	m.Header.Set(HeaderFlow, msg.Flow.String())
	m.Data = data

	if err := s.pub.PublishMsg(m); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("nats publish %s: %w", m.Subject, err)
	}
	s.reported.Add(1)
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *Sink) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Drain()
	}
	s.logger.WithField("total_reported", s.reported.Load()).
		WithField("total_errors", s.errors.Load()).
		Info("nats sink closed")
	return err
}
