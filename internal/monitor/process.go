package monitor

import (
	"errors"
	"time"

	"google.golang.org/protobuf/proto"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/core/decoder"
	"firestige.xyz/zwiftmon/internal/eventbus"
	"firestige.xyz/zwiftmon/internal/framing"
	"firestige.xyz/zwiftmon/internal/metrics"
	"firestige.xyz/zwiftmon/internal/reassembly"
	"firestige.xyz/zwiftmon/internal/sequence"
)

// HandleFrame runs one frame through the pipeline. Only a truncated capture
// is reported as an error; every other problem is logged, counted and
// confined to the frame or message it affects.
//
// HandleFrame is for callers that bring their own frames. It is not safe for
// concurrent use and returns core.ErrMonitorRunning while the monitor runs
// its own source.
func (m *Monitor) HandleFrame(frame core.RawFrame) error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		return core.ErrMonitorRunning
	}
	return m.handleFrame(frame)
}

func (m *Monitor) handleFrame(frame core.RawFrame) error {
	m.stats.Frames.Add(1)
	m.lastFrame = frame.Timestamp
	start := time.Now()

	seg, err := m.classifier.Classify(frame)
	if err != nil {
		return err
	}

	switch {
	case seg.Kind == decoder.UDP && seg.Direction == core.Inbound:
		m.handleInbound(seg, frame)
	case seg.Kind == decoder.UDP:
		m.handleOutbound(seg, frame)
	case seg.Kind == decoder.TCP && seg.Direction == core.Inbound:
		m.handleStream(seg, frame)
	case seg.Kind == decoder.TCP:
		// Client to server stream; no schema is known for it.
		m.stats.Unsupported.Add(1)
		metrics.DropsTotal.WithLabelValues(core.Outbound.String(), metrics.ReasonUnsupported).Inc()
		if m.logger.IsDebugEnabled() {
			m.logger.WithField(core.FieldFlow, seg.Flow.String()).
				WithField(core.FieldLength, len(seg.Payload)).
				Debug("dropping client tcp segment")
		}
		return nil
	default:
		m.stats.NotApplicable.Add(1)
		return nil
	}

	metrics.DecodeLatencySeconds.WithLabelValues(seg.Kind.String()).Observe(time.Since(start).Seconds())
	return nil
}

func (m *Monitor) handleInbound(seg decoder.Segment, frame core.RawFrame) {
	record, err := m.codec.Decode(codec.TypeIncomingPacket, seg.Payload)
	if err != nil {
		m.decodeFailed(seg, frame, err)
		return
	}
	msg := m.newMessage(seg, codec.TypeIncomingPacket, record)

	key := core.SeqKey{Src: seg.Flow.SrcIP, DstPort: seg.Flow.DstPort}
	res := m.tracker.Accept(key, msg.Seqno)
	switch res.Kind {
	case sequence.StaleOrDuplicate:
		m.stats.Stale.Add(1)
		metrics.DropsTotal.WithLabelValues(core.Inbound.String(), metrics.ReasonStale).Inc()
		m.logger.WithField(core.FieldSrc, seg.Flow.SrcIP.String()).
			WithField(core.FieldSeqno, msg.Seqno).
			WithField(core.FieldLastSeq, res.Last).
			Warn("stale or duplicate packet dropped")
		return
	case sequence.Gap:
		m.stats.Gaps.Add(1)
		metrics.SequenceGapsTotal.Inc()
		metrics.SequenceMissingTotal.Add(float64(res.Missing))
		m.logger.WithField(core.FieldSrc, seg.Flow.SrcIP.String()).
			WithField(core.FieldSeqno, msg.Seqno).
			WithField(core.FieldLastSeq, res.Last).
			WithField(core.FieldMissing, res.Missing).
			Warn("sequence gap detected")
	}

	msg.Updates = m.dispatcher.Dispatch(record)
	m.emit(msg)
}

func (m *Monitor) handleOutbound(seg decoder.Segment, frame core.RawFrame) {
	body, variant, err := framing.Body(seg.Payload)
	if err != nil {
		logger := m.logger.WithError(err).
			WithField(core.FieldFlow, seg.Flow.String()).
			WithField(core.FieldVariant, variant.String()).
			WithField(core.FieldPrefix, framing.Prefix(seg.Payload))
		if errors.Is(err, framing.ErrUnknownVariant) {
			m.stats.UnknownVariant.Add(1)
			metrics.DropsTotal.WithLabelValues(core.Outbound.String(), metrics.ReasonUnknownVariant).Inc()
			logger.Error("unknown outbound framing")
			m.diagnose(frame, metrics.ReasonUnknownVariant)
		} else {
			m.stats.Malformed.Add(1)
			metrics.DropsTotal.WithLabelValues(core.Outbound.String(), metrics.ReasonMalformed).Inc()
			logger.Error("malformed outbound payload")
		}
		return
	}

	record, err := m.codec.Decode(codec.TypeOutgoingPacket, body)
	if err != nil {
		m.decodeFailed(seg, frame, err)
		return
	}
	msg := m.newMessage(seg, codec.TypeOutgoingPacket, record)
	msg.Variant = variant
	m.checkDrift(msg)
	m.emit(msg)
}

func (m *Monitor) handleStream(seg decoder.Segment, frame core.RawFrame) {
	msgs, err := m.reasm.Feed(seg.Flow, seg.TCP, seg.Timestamp)
	m.handleReassembled(seg, frame, msgs, err)

	// Holes older than the reorder window are given up on, in any flow.
	for _, out := range m.reasm.Flush(seg.Timestamp.Add(-m.cfg.ReorderWindow)) {
		s := seg
		s.Flow = out.Flow
		m.handleReassembled(s, frame, out.Messages, out.Err)
	}
	m.updateFlowGauge()
}

// handleFlushed processes output the reassembler released outside Feed.
func (m *Monitor) handleFlushed(outs []reassembly.Output) {
	for _, out := range outs {
		seg := decoder.Segment{
			Kind:      decoder.TCP,
			Direction: core.Inbound,
			Flow:      out.Flow,
			Timestamp: m.lastFrame,
		}
		m.handleReassembled(seg, core.RawFrame{Timestamp: m.lastFrame}, out.Messages, out.Err)
	}
}

func (m *Monitor) handleReassembled(seg decoder.Segment, frame core.RawFrame, msgs [][]byte, err error) {
	if err != nil {
		logger := m.logger.WithError(err).WithField(core.FieldFlow, seg.Flow.String())
		if errors.Is(err, reassembly.ErrSequenceGap) {
			m.stats.StreamGaps.Add(1)
			metrics.DropsTotal.WithLabelValues(core.Inbound.String(), metrics.ReasonSequenceGap).Inc()
			logger.Warn("tcp stream gap, reassembly restarted")
		}
		if errors.Is(err, reassembly.ErrReassemblyOverrun) {
			m.stats.Overruns.Add(1)
			metrics.DropsTotal.WithLabelValues(core.Inbound.String(), metrics.ReasonOverrun).Inc()
			logger.Error("reassembly buffer reset")
		}
	}

	for i, body := range msgs {
		record, err := m.codec.Decode(codec.TypeIncomingPacket, body)
		if err != nil {
			m.decodeFailed(seg, frame, err)
			// The stream offset is suspect; drop what is buffered and the
			// rest of this batch.
			m.reasm.Reset(seg.Flow)
			if rest := len(msgs) - i - 1; rest > 0 {
				metrics.DropsTotal.WithLabelValues(core.Inbound.String(), metrics.ReasonDecodeError).Add(float64(rest))
			}
			return
		}
		msg := m.newMessage(seg, codec.TypeIncomingPacket, record)
		msg.Updates = m.dispatcher.Dispatch(record)
		m.emit(msg)
	}
}

func (m *Monitor) newMessage(seg decoder.Segment, typeName string, record proto.Message) *Message {
	msg := &Message{
		Direction: seg.Direction,
		Transport: seg.Kind.Transport(),
		Flow:      seg.Flow,
		Type:      typeName,
		Record:    record,
		Timestamp: seg.Timestamp,
	}
	msg.Seqno, _ = codec.Uint(record, "seqno")
	msg.WorldTime, _ = codec.Int(record, "world_time")
	if msg.WorldTime != 0 {
		msg.Date = time.UnixMilli(m.cfg.WorldEpochMillis + msg.WorldTime)
	}
	return msg
}

// checkDrift compares the client world clock with the capture clock.
func (m *Monitor) checkDrift(msg *Message) {
	if msg.Date.IsZero() || msg.Timestamp.IsZero() {
		return
	}
	drift := msg.Timestamp.Sub(msg.Date)
	metrics.ClockDriftSeconds.Set(drift.Seconds())
	if m.cfg.ClockDriftWarn <= 0 {
		return
	}
	if drift < 0 {
		drift = -drift
	}
	if drift > m.cfg.ClockDriftWarn {
		m.logger.WithField(core.FieldDrift, msg.Timestamp.Sub(msg.Date).String()).
			WithField(core.FieldSeqno, msg.Seqno).
			Warnf("clock drift from world time exceeded %s", m.cfg.ClockDriftWarn)
	}
}

func (m *Monitor) decodeFailed(seg decoder.Segment, frame core.RawFrame, err error) {
	m.stats.DecodeErrors.Add(1)
	metrics.DropsTotal.WithLabelValues(seg.Direction.String(), metrics.ReasonDecodeError).Inc()
	m.logger.WithError(err).
		WithField(core.FieldFlow, seg.Flow.String()).
		WithField(core.FieldDirection, seg.Direction.String()).
		Error("message decode failed")
	m.diagnose(frame, metrics.ReasonDecodeError)
}

func (m *Monitor) diagnose(frame core.RawFrame, reason string) {
	if m.diag == nil || len(frame.Data) == 0 {
		return
	}
	if err := m.diag.WriteFrame(frame, reason); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("diagnostics").Inc()
		m.logger.WithError(err).Warn("diagnostic write failed")
	}
}

// emit queues msg for subscribers; it never blocks the caller.
func (m *Monitor) emit(msg *Message) {
	if msg.Direction == core.Inbound {
		m.stats.Inbound.Add(1)
	} else {
		m.stats.Outbound.Add(1)
	}
	metrics.MessagesTotal.WithLabelValues(msg.Direction.String(), msg.Transport.String()).Inc()
	for _, e := range msg.Updates {
		metrics.SubPayloadsTotal.WithLabelValues(e.Status.String()).Inc()
	}

	err := m.bus.Publish(&eventbus.Event{
		Topic:   msg.Direction.String(),
		Key:     msg.Flow.String(),
		Payload: msg,
	})
	if err != nil {
		m.stats.EmitDropped.Add(1)
		metrics.DropsTotal.WithLabelValues(msg.Direction.String(), metrics.ReasonQueueFull).Inc()
		m.logger.WithError(err).Warn("event dropped")
	}
	metrics.EventQueueDepth.Set(float64(m.bus.GetStats().QueuedCount))
}
