// Package monitor runs the decode pipeline: it reads frames from a capture
// source, turns them into protocol messages and emits them to subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/core/decoder"
	"firestige.xyz/zwiftmon/internal/dispatch"
	"firestige.xyz/zwiftmon/internal/eventbus"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/metrics"
	"firestige.xyz/zwiftmon/internal/reassembly"
	"firestige.xyz/zwiftmon/internal/sequence"
)

// Source is the capture provider consumed by the monitor.
// ReadPacket returns core.ErrReadTimeout to signal an idle poll and io.EOF
// when a finite source is exhausted.
type Source interface {
	Name() string
	Open() error
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close() error
}

// StatsReporter is implemented by sources that can report frames dropped
// below them, such as libpcap or a packet socket.
type StatsReporter interface {
	Stats() (received, dropped int, err error)
}

// sourceStatsInterval paces StatsReporter polling in the capture loop.
const sourceStatsInterval = 5 * time.Second

// DiagnosticWriter records frames the monitor could not decode.
type DiagnosticWriter interface {
	WriteFrame(frame core.RawFrame, reason string) error
}

// Config contains monitor configuration.
type Config struct {
	Ports            decoder.Ports
	MaxMessageSize   int
	IdleTimeout      time.Duration // 0 keeps partial TCP streams until Stop
	ReorderWindow    time.Duration // capture time a TCP hole may stay open
	MaxBufferedPages int           // out-of-order pages held per TCP flow
	WorldEpochMillis int64
	ClockDriftWarn   time.Duration // 0 disables the warning
	FrameQueueSize   int
	EventQueueSize   int
}

// DefaultConfig returns the configuration used by the reference client.
func DefaultConfig() Config {
	return Config{
		Ports:            decoder.DefaultPorts(),
		MaxMessageSize:   reassembly.DefaultMaxMessageSize,
		ReorderWindow:    500 * time.Millisecond,
		MaxBufferedPages: reassembly.DefaultMaxBufferedPages,
		WorldEpochMillis: core.DefaultWorldEpochMillis,
		ClockDriftWarn:   200 * time.Millisecond,
		FrameQueueSize:   4096,
		EventQueueSize:   8192,
	}
}

// ConfigFrom maps the global configuration onto a monitor Config.
func ConfigFrom(g *config.GlobalConfig) Config {
	return Config{
		Ports:            decoder.Ports{UDP: g.Capture.UDPPort, TCP: g.Capture.TCPPort},
		MaxMessageSize:   g.Decoder.MaxMessageSize,
		IdleTimeout:      g.Decoder.IdleTimeout,
		ReorderWindow:    g.Decoder.ReorderWindow,
		MaxBufferedPages: g.Decoder.MaxBufferedPages,
		WorldEpochMillis: g.Decoder.WorldEpochMillis,
		ClockDriftWarn:   g.Decoder.ClockDriftWarn,
		FrameQueueSize:   g.Capture.QueueSize,
		EventQueueSize:   g.Events.QueueSize,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithDiagnostics sets where undecodable frames are recorded.
func WithDiagnostics(w DiagnosticWriter) Option {
	return func(m *Monitor) { m.diag = w }
}

// WithDispatcher replaces the sub-payload dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(m *Monitor) { m.dispatcher = d }
}

type subscription struct {
	topic   string
	name    string
	handler eventbus.Handler
}

// Monitor owns all per-flow state of one capture. Frames are processed one
// at a time on a single goroutine; events are delivered on another.
type Monitor struct {
	cfg    Config
	src    Source
	codec  *codec.Codec
	logger log.Logger
	diag   DiagnosticWriter

	classifier *decoder.Classifier
	tracker    *sequence.Tracker
	reasm      *reassembly.Reassembler
	dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	running   bool
	bus       *eventbus.InMemoryEventBus
	busClosed bool
	subs      []subscription

	// Runtime state
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	frames    chan core.RawFrame
	done      chan struct{}
	errOnce   sync.Once
	err       error
	lastFrame time.Time

	stats counters
}

// New creates a monitor. src may be nil when frames are fed through
// HandleFrame only.
func New(cfg Config, src Source, c *codec.Codec, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Ports.UDP == 0 {
		cfg.Ports.UDP = def.Ports.UDP
	}
	if cfg.Ports.TCP == 0 {
		cfg.Ports.TCP = def.Ports.TCP
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = def.ReorderWindow
	}
	if cfg.WorldEpochMillis == 0 {
		cfg.WorldEpochMillis = def.WorldEpochMillis
	}
	if cfg.FrameQueueSize <= 0 {
		cfg.FrameQueueSize = def.FrameQueueSize
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = def.EventQueueSize
	}

	reasmCfg := reassembly.Config{
		MaxMessageSize:   cfg.MaxMessageSize,
		MaxBufferedPages: cfg.MaxBufferedPages,
	}
	m := &Monitor{
		cfg:        cfg,
		src:        src,
		codec:      c,
		logger:     log.GetLogger().WithField(core.FieldComponent, "monitor"),
		classifier: decoder.NewClassifier(cfg.Ports),
		tracker:    sequence.NewTracker(),
		reasm:      reassembly.New(reasmCfg),
		bus:        eventbus.NewInMemoryEventBus(cfg.EventQueueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatcher == nil {
		m.dispatcher = dispatch.New(c, dispatch.WithLogger(m.logger))
	}
	return m
}

// Subscribe registers handler for messages of one direction. Handlers run
// in subscription order on the event goroutine.
func (m *Monitor) Subscribe(dir core.Direction, name string, handler Handler) error {
	if dir != core.Inbound && dir != core.Outbound {
		return fmt.Errorf("invalid direction: %s", dir)
	}
	sub := subscription{
		topic: dir.String(),
		name:  name,
		handler: func(e *eventbus.Event) error {
			msg, ok := e.Payload.(*Message)
			if !ok {
				return fmt.Errorf("unexpected payload %T", e.Payload)
			}
			handler(msg)
			return nil
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	if m.busClosed {
		return nil
	}
	return m.bus.Subscribe(sub.topic, sub.name, sub.handler)
}

// Start opens the source and begins processing.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return core.ErrMonitorRunning
	}
	if m.src == nil {
		return fmt.Errorf("monitor has no capture source")
	}

	if err := m.src.Open(); err != nil {
		return fmt.Errorf("open source %s: %w", m.src.Name(), err)
	}
	if lt := m.src.LinkType(); lt != layers.LinkTypeEthernet {
		m.src.Close()
		return fmt.Errorf("%w: %s", core.ErrUnsupportedLink, lt)
	}

	if m.busClosed {
		m.bus = eventbus.NewInMemoryEventBus(m.cfg.EventQueueSize)
		for _, s := range m.subs {
			if err := m.bus.Subscribe(s.topic, s.name, s.handler); err != nil {
				return err
			}
		}
		m.busClosed = false
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.frames = make(chan core.RawFrame, m.cfg.FrameQueueSize)
	m.done = make(chan struct{})
	m.errOnce = sync.Once{}
	m.err = nil
	m.running = true

	m.logger.WithField("source", m.src.Name()).Info("monitor starting")

	m.wg.Add(2)
	go m.captureLoop(m.ctx)
	go m.processLoop(m.ctx)

	done := m.done
	go func() {
		m.wg.Wait()
		close(done)
	}()
	return nil
}

// Stop releases the source and discards queued events. No handler runs
// after Stop returns. Per-flow state is cleared, so the monitor can be
// started again from scratch.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.logger.Info("monitor stopping")

	m.cancel()
	<-m.done

	var errs []error
	if err := m.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}
	if err := m.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	m.busClosed = true

	m.tracker.Reset()
	m.reasm.Clear()
	m.stats.Flows.Store(0)
	metrics.ReassemblyFlows.Set(0)
	m.running = false

	m.logger.Info("monitor stopped")
	return errors.Join(errs...)
}

// Done is closed when processing ends: after Stop, when a finite source
// is exhausted, or on a fatal error.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the fatal error that ended processing, if any.
func (m *Monitor) Err() error {
	select {
	case <-m.Done():
		return m.err
	default:
		return nil
	}
}

// Drain waits until every queued event has been delivered.
func (m *Monitor) Drain(ctx context.Context) error {
	m.mu.Lock()
	bus := m.bus
	m.mu.Unlock()
	return bus.Drain(ctx)
}

// Stats returns current counters.
func (m *Monitor) Stats() Stats {
	return m.stats.snapshot()
}

func (m *Monitor) fail(err error) {
	m.errOnce.Do(func() {
		m.err = err
		m.logger.WithError(err).Error("monitor aborted")
	})
	m.cancel()
}

// captureLoop copies frames out of the source buffer and hands them to
// the processing goroutine.
func (m *Monitor) captureLoop(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.frames)

	name := m.src.Name()
	reporter, _ := m.src.(StatsReporter)
	var lastPoll time.Time
	if reporter != nil {
		defer m.pollSourceStats(reporter)
	}

	for ctx.Err() == nil {
		if reporter != nil && time.Since(lastPoll) >= sourceStatsInterval {
			m.pollSourceStats(reporter)
			lastPoll = time.Now()
		}

		data, ci, err := m.src.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, core.ErrReadTimeout):
				continue
			case errors.Is(err, io.EOF):
				m.logger.WithField("source", name).Info("capture source exhausted")
				return
			case ctx.Err() != nil:
				return
			default:
				m.fail(fmt.Errorf("capture %s: %w", name, err))
				return
			}
		}
		metrics.CaptureFramesTotal.WithLabelValues(name).Inc()

		frame := core.RawFrame{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			Truncated:  ci.CaptureLength < ci.Length,
		}.Clone()

		select {
		case m.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// processLoop is the only goroutine touching per-flow state while running.
func (m *Monitor) processLoop(ctx context.Context) {
	defer m.wg.Done()

	var evict <-chan time.Time
	if m.cfg.IdleTimeout > 0 {
		ticker := time.NewTicker(max(m.cfg.IdleTimeout/2, time.Second))
		defer ticker.Stop()
		evict = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-m.frames:
			if !ok {
				// Source exhausted; nothing can fill the remaining holes.
				m.handleFlushed(m.reasm.Flush(m.lastFrame.Add(time.Nanosecond)))
				return
			}
			if err := m.handleFrame(frame); err != nil {
				metrics.CaptureDropsTotal.WithLabelValues("overflow").Inc()
				m.fail(err)
				return
			}

		case <-evict:
			m.evictIdle()
		}
	}
}

// evictIdle measures idleness against capture time so replays behave like
// live captures.
func (m *Monitor) evictIdle() {
	if m.lastFrame.IsZero() {
		return
	}
	out, n := m.reasm.Evict(m.lastFrame.Add(-m.cfg.IdleTimeout))
	m.handleFlushed(out)
	if n > 0 {
		m.logger.WithField("flows", n).Debug("evicted idle tcp flows")
	}
	m.updateFlowGauge()
}

// pollSourceStats records the drop counter of the capture source. Drops
// there show up downstream as sequence and stream gaps.
func (m *Monitor) pollSourceStats(r StatsReporter) {
	_, dropped, err := r.Stats()
	if err != nil {
		m.logger.WithError(err).Debug("capture stats unavailable")
		return
	}
	d := uint64(dropped)
	if prev := m.stats.KernelDrops.Swap(d); d > prev {
		m.logger.WithField("source", m.src.Name()).
			WithField("dropped", d-prev).
			Warn("capture source dropped frames")
	}
	metrics.CaptureKernelDrops.WithLabelValues(m.src.Name()).Set(float64(d))
}

func (m *Monitor) updateFlowGauge() {
	n := m.reasm.Len()
	m.stats.Flows.Store(int64(n))
	metrics.ReassemblyFlows.Set(float64(n))
}
