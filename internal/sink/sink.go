// Package sink forwards emitted messages to external consumers.
package sink

import (
	"context"

	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/metrics"
	"firestige.xyz/zwiftmon/internal/monitor"
)

// Sink receives every emitted message. Report is called on the event
// goroutine, one message at a time.
type Sink interface {
	Name() string
	Report(ctx context.Context, msg *monitor.Message) error
	Close() error
}

// Attach subscribes s to both directions of m. Report errors are logged and
// counted; they never reach the monitor.
func Attach(m *monitor.Monitor, s Sink) error {
	name := s.Name()
	logger := log.GetLogger().WithField(core.FieldComponent, "sink").WithField("sink", name)

	handler := func(msg *monitor.Message) {
		if err := s.Report(context.Background(), msg); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(name).Inc()
			logger.WithError(err).
				WithField(core.FieldFlow, msg.Flow.String()).
				Warn("sink report failed")
		}
	}
	for _, dir := range []core.Direction{core.Inbound, core.Outbound} {
		if err := m.Subscribe(dir, name, handler); err != nil {
			return err
		}
	}
	return nil
}
