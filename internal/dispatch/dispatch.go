// Package dispatch decodes the nested payloads carried by player updates.
// The payload type is chosen by a numeric tag in each update, looked up in
// a static table.
package dispatch

import (
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/proto"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
)

// Status is the resolution outcome of one entry.
type Status uint8

const (
	// Decoded entries carry a Payload.
	Decoded Status = iota + 1
	// Opaque tags are known to have no schema and are kept raw.
	Opaque
	// Unresolved tags are neither in the table nor in the opaque set.
	Unresolved
	// Failed entries matched the table but their bytes did not decode.
	Failed
)

func (s Status) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Opaque:
		return "opaque"
	case Unresolved:
		return "unresolved"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// Entry is one player update after dispatch. Raw is always kept.
type Entry struct {
	Tag     int32
	Type    string // sub-message type name, empty when not in the table
	Raw     []byte
	Payload proto.Message
	Status  Status
	Err     error
}

// DefaultTable maps payload tags to sub-message types.
var DefaultTable = map[int32]string{
	2:   "PlayerLeftWorld",
	4:   "RideOn",
	5:   "ChatMessage",
	6:   "TimeSync",
	10:  "Meetup",
	103: "EventJoin",
	104: "EventLeave",
	105: "PlayerEnteredWorld",
	107: "EventPositions",
	111: "SegmentResult",
}

// DefaultOpaque lists tags seen in traffic that have no known schema.
var DefaultOpaque = []int32{102, 106, 108, 109, 110, 114}

// Dispatcher resolves player update payloads. Safe for concurrent use.
type Dispatcher struct {
	codec  *codec.Codec
	table  map[int32]string
	opaque map[int32]struct{}
	logger log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTable replaces the tag table.
func WithTable(table map[int32]string) Option {
	return func(d *Dispatcher) { d.table = table }
}

// WithOpaque replaces the opaque tag set.
func WithOpaque(tags ...int32) Option {
	return func(d *Dispatcher) {
		d.opaque = make(map[int32]struct{}, len(tags))
		for _, t := range tags {
			d.opaque[t] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func New(c *codec.Codec, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		codec:  c,
		table:  DefaultTable,
		logger: log.GetLogger().WithField(core.FieldComponent, "dispatch"),
	}
	WithOpaque(DefaultOpaque...)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch walks record.player_updates in order. Entries that cannot be
// resolved are logged and kept raw; a record without updates yields nil.
func (d *Dispatcher) Dispatch(record proto.Message) []Entry {
	updates := codec.Messages(record, "player_updates")
	if len(updates) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(updates))
	for _, u := range updates {
		entries = append(entries, d.resolve(u))
	}
	return entries
}

func (d *Dispatcher) resolve(update proto.Message) Entry {
	tag, _ := codec.Int(update, "payload_type")
	raw, _ := codec.Bytes(update, "payload")
	e := Entry{Tag: int32(tag), Raw: raw}

	typeName, ok := d.table[e.Tag]
	if !ok || !d.codec.Has(typeName) {
		if _, opaque := d.opaque[e.Tag]; opaque {
			e.Status = Opaque
			return e
		}
		e.Status = Unresolved
		d.logger.WithField(core.FieldTag, e.Tag).
			WithField(core.FieldLength, len(raw)).
			Warn("no payload message for tag")
		return e
	}
	e.Type = typeName

	payload, err := d.codec.Decode(typeName, raw)
	if err != nil {
		e.Status = Failed
		e.Err = fmt.Errorf("tag %d: %w", e.Tag, err)
		d.logger.WithError(err).
			WithField(core.FieldTag, e.Tag).
			WithField(core.FieldType, typeName).
			WithField(core.FieldRaw, hex.EncodeToString(raw)).
			Error("payload decode failed")
		return e
	}
	e.Payload = payload
	e.Status = Decoded
	return e
}
