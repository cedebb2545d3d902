// Package console prints emitted messages to stdout for debugging.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/prototext"

	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/monitor"
	"firestige.xyz/zwiftmon/internal/sink"
)

// Name is the sink name used in logs and metrics.
const Name = "console"

var recordText = prototext.MarshalOptions{Multiline: false}

// Sink writes one line per message, either a JSON envelope or a short
// human-readable summary.
type Sink struct {
	format   string
	out      io.Writer
	reported atomic.Uint64
}

// New creates a console sink writing to stdout.
func New(format string) (*Sink, error) {
	return NewWriter(format, os.Stdout)
}

// NewWriter creates a console sink writing to w.
func NewWriter(format string, w io.Writer) (*Sink, error) {
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", format)
	}
	return &Sink{format: format, out: w}, nil
}

// Name returns the sink name.
func (s *Sink) Name() string { return Name }

// Report prints msg.
func (s *Sink) Report(_ context.Context, msg *monitor.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	s.reported.Add(1)

	if s.format == "json" {
		b, err := sink.Encode(msg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.out, string(b))
		return err
	}
	return s.reportText(msg)
}

func (s *Sink) reportText(msg *monitor.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s %s %s seqno=%d",
		msg.Timestamp.Format("15:04:05.000"),
		msg.Direction, msg.Transport,
		msg.Flow, msg.Type, msg.Seqno)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, " date=%s", msg.Date.Format("2006-01-02T15:04:05.000Z07:00"))
	}
	if msg.Direction == core.Outbound {
		fmt.Fprintf(&b, " variant=%s", msg.Variant)
	}
	if len(msg.Updates) > 0 {
		fmt.Fprintf(&b, " updates=%d", len(msg.Updates))
	}
	if msg.Record != nil {
		fmt.Fprintf(&b, " {%s}", recordText.Format(msg.Record))
	}
	_, err := fmt.Fprintln(s.out, b.String())
	return err
}

// Close logs the number of reported messages.
func (s *Sink) Close() error {
	log.GetLogger().WithField(core.FieldComponent, "sink").
		WithField("sink", Name).
		WithField("total_reported", s.reported.Load()).
		Info("console sink closed")
	return nil
}
