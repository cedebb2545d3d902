package monitor

import "sync/atomic"

// counters holds per-monitor counters (using atomic for thread-safety).
type counters struct {
	Frames         atomic.Uint64
	NotApplicable  atomic.Uint64
	Inbound        atomic.Uint64
	Outbound       atomic.Uint64
	Gaps           atomic.Uint64
	Stale          atomic.Uint64
	UnknownVariant atomic.Uint64
	Malformed      atomic.Uint64
	DecodeErrors   atomic.Uint64
	Overruns       atomic.Uint64
	StreamGaps     atomic.Uint64
	Unsupported    atomic.Uint64
	EmitDropped    atomic.Uint64

	KernelDrops atomic.Uint64 // last value reported by the source
	Flows       atomic.Int64  // gauge, written by the processing goroutine
}

// Stats represents monitor statistics.
type Stats struct {
	Frames         uint64
	NotApplicable  uint64
	Inbound        uint64 // emitted inbound messages
	Outbound       uint64 // emitted outbound messages
	Gaps           uint64
	Stale          uint64
	UnknownVariant uint64
	Malformed      uint64
	DecodeErrors   uint64
	Overruns       uint64
	StreamGaps     uint64
	Unsupported    uint64
	EmitDropped    uint64
	KernelDrops    uint64
	FlowsTracked   int
}

func (c *counters) snapshot() Stats {
	return Stats{
		Frames:         c.Frames.Load(),
		NotApplicable:  c.NotApplicable.Load(),
		Inbound:        c.Inbound.Load(),
		Outbound:       c.Outbound.Load(),
		Gaps:           c.Gaps.Load(),
		Stale:          c.Stale.Load(),
		UnknownVariant: c.UnknownVariant.Load(),
		Malformed:      c.Malformed.Load(),
		DecodeErrors:   c.DecodeErrors.Load(),
		Overruns:       c.Overruns.Load(),
		StreamGaps:     c.StreamGaps.Load(),
		Unsupported:    c.Unsupported.Load(),
		EmitDropped:    c.EmitDropped.Load(),
		KernelDrops:    c.KernelDrops.Load(),
		FlowsTracked:   int(c.Flows.Load()),
	}
}
