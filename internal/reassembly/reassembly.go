// Package reassembly rebuilds length-prefixed messages from TCP segments.
//
// Segments go through a gopacket tcpassembly.Assembler, which restores
// stream order, drops retransmitted bytes and holds early segments until
// the hole before them is filled. Each flow's stream then cuts messages out
// of the ordered bytes: a 2-byte big-endian length followed by that many
// body bytes. Extraction is opportunistic and ignores PSH.
package reassembly

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/zwiftmon/internal/core"
)

const (
	lengthPrefixLen = 2

	// DefaultMaxMessageSize bounds the length prefix.
	DefaultMaxMessageSize = 32 * 1024
	// DefaultMaxBufferedPages bounds the out-of-order pages held per flow
	// before the assembler gives up on the missing bytes.
	DefaultMaxBufferedPages = 64
	// DefaultMaxBufferedPagesTotal bounds out-of-order pages over all flows.
	DefaultMaxBufferedPagesTotal = 1024
)

var (
	// ErrReassemblyOverrun reports an implausible length prefix. The flow
	// buffer has been discarded.
	ErrReassemblyOverrun = errors.New("reassembly: implausible length prefix")
	// ErrSequenceGap reports stream bytes that never arrived. The flow
	// restarted at the first byte after the hole.
	ErrSequenceGap = errors.New("reassembly: tcp sequence gap")
)

// Config tunes a Reassembler.
type Config struct {
	MaxMessageSize   int
	MaxBufferedPages int // per flow
}

// Output is what one flow produced during a Feed, Flush or Evict call.
// Messages may come with an error; they were extracted around the
// condition the error reports.
type Output struct {
	Flow     core.FlowKey
	Messages [][]byte
	Err      error
}

// Reassembler holds one byte accumulator per flow.
// Not safe for concurrent use; owned by the processing goroutine.
type Reassembler struct {
	cfg       Config
	assembler *tcpassembly.Assembler
	flows     map[core.FlowKey]*stream

	current core.FlowKey // flow of the segment being assembled
	pending []Output
}

func New(cfg Config) *Reassembler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.MaxBufferedPages <= 0 {
		cfg.MaxBufferedPages = DefaultMaxBufferedPages
	}
	r := &Reassembler{cfg: cfg}
	r.Clear()
	return r
}

// streamFactory opens a stream for the flow being assembled. The assembler
// only calls it from inside Feed, so r.current names that flow.
type streamFactory struct {
	r *Reassembler
}

func (f streamFactory) New(_, _ gopacket.Flow) tcpassembly.Stream {
	s := &stream{r: f.r, key: f.r.current}
	f.r.flows[s.key] = s
	return s
}

// Feed assembles one TCP segment of flow key and returns the messages it
// completes for that flow, in stream order. tcp must come from
// DecodeFromBytes; its payload is not retained.
func (r *Reassembler) Feed(key core.FlowKey, tcp *layers.TCP, seen time.Time) ([][]byte, error) {
	r.pending = r.pending[:0]
	r.current = key
	netFlow := gopacket.NewFlow(layers.EndpointIPv4, key.SrcIP.AsSlice(), key.DstIP.AsSlice())

	if _, ok := r.flows[key]; !ok && !tcp.SYN && len(tcp.Payload) > 0 {
		// Capture started mid-stream. Pretend the handshake happened just
		// before this segment so the assembler has a starting sequence.
		syn := *tcp
		syn.SYN, syn.FIN, syn.RST = true, false, false
		syn.Seq = tcp.Seq - 1
		syn.Payload = nil
		r.assembler.AssembleWithTimestamp(netFlow, &syn, seen)
	}
	r.assembler.AssembleWithTimestamp(netFlow, tcp, seen)

	var msgs [][]byte
	var errs []error
	for _, out := range r.take() {
		msgs = append(msgs, out.Messages...)
		if out.Err != nil {
			errs = append(errs, out.Err)
		}
	}
	return msgs, errors.Join(errs...)
}

// Flush gives up on holes whose following segments were seen before the
// given time and delivers the bytes after them.
func (r *Reassembler) Flush(before time.Time) []Output {
	r.pending = r.pending[:0]
	r.assembler.FlushWithOptions(tcpassembly.FlushOptions{T: before})
	return r.take()
}

// Evict flushes like Flush and also closes flows idle since before. It
// returns the flushed output and the number of flows closed.
func (r *Reassembler) Evict(before time.Time) ([]Output, int) {
	r.pending = r.pending[:0]
	_, closed := r.assembler.FlushOlderThan(before)
	return r.take(), closed
}

// Reset drops the buffered bytes of a flow. The assembler keeps its
// sequence state, so retransmissions of the discarded bytes are still
// recognised.
func (r *Reassembler) Reset(key core.FlowKey) {
	if s, ok := r.flows[key]; ok {
		s.buf = s.buf[:0]
	}
}

// Buffered returns the number of bytes waiting for the rest of a message.
func (r *Reassembler) Buffered(key core.FlowKey) int {
	if s, ok := r.flows[key]; ok {
		return len(s.buf)
	}
	return 0
}

// Len returns the number of tracked flows.
func (r *Reassembler) Len() int { return len(r.flows) }

// Clear forgets every flow and everything the assembler holds.
func (r *Reassembler) Clear() {
	r.flows = make(map[core.FlowKey]*stream)
	r.assembler = tcpassembly.NewAssembler(tcpassembly.NewStreamPool(streamFactory{r: r}))
	r.assembler.MaxBufferedPagesPerConnection = r.cfg.MaxBufferedPages
	r.assembler.MaxBufferedPagesTotal = DefaultMaxBufferedPagesTotal
	r.pending = nil
}

func (r *Reassembler) take() []Output {
	if len(r.pending) == 0 {
		return nil
	}
	out := make([]Output, len(r.pending))
	copy(out, r.pending)
	r.pending = r.pending[:0]
	return out
}

// output returns the pending entry of key. The assembler works on one
// connection at a time, so a flow's entries are always adjacent.
func (r *Reassembler) output(key core.FlowKey) *Output {
	if n := len(r.pending); n > 0 && r.pending[n-1].Flow == key {
		return &r.pending[n-1]
	}
	r.pending = append(r.pending, Output{Flow: key})
	return &r.pending[len(r.pending)-1]
}

// stream implements tcpassembly.Stream for one flow.
type stream struct {
	r   *Reassembler
	key core.FlowKey
	buf []byte
}

func (s *stream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, ra := range rs {
		if ra.Start {
			s.buf = s.buf[:0]
		}
		if ra.Skip != 0 {
			s.buf = s.buf[:0]
			s.fail(gapError(ra.Skip))
		}
		if len(ra.Bytes) == 0 {
			continue
		}
		s.buf = append(s.buf, ra.Bytes...)
		s.extract()
	}
}

func (s *stream) ReassemblyComplete() {
	if s.r.flows[s.key] == s {
		delete(s.r.flows, s.key)
	}
}

func (s *stream) fail(err error) {
	out := s.r.output(s.key)
	out.Err = errors.Join(out.Err, err)
}

// extract cuts complete messages from the front of the buffer. A zero
// length prefix is an empty message.
func (s *stream) extract() {
	limit := s.r.cfg.MaxMessageSize
	off := 0
	for len(s.buf)-off >= lengthPrefixLen {
		l := int(binary.BigEndian.Uint16(s.buf[off:]))
		if l > limit {
			s.buf = s.buf[:0]
			s.fail(fmt.Errorf("%w: %d (max %d)", ErrReassemblyOverrun, l, limit))
			return
		}
		if len(s.buf)-off-lengthPrefixLen < l {
			break
		}
		start := off + lengthPrefixLen
		msg := make([]byte, l)
		copy(msg, s.buf[start:start+l])
		out := s.r.output(s.key)
		out.Messages = append(out.Messages, msg)
		off = start + l
	}
	if off > 0 {
		n := copy(s.buf, s.buf[off:])
		s.buf = s.buf[:n]
	}
}

func gapError(skip int) error {
	if skip < 0 {
		return fmt.Errorf("%w: stream start not seen", ErrSequenceGap)
	}
	return fmt.Errorf("%w: %d bytes missing", ErrSequenceGap, skip)
}
