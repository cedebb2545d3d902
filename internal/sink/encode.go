package sink

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/dispatch"
	"firestige.xyz/zwiftmon/internal/monitor"
)

var recordJSON = protojson.MarshalOptions{UseProtoNames: true}

// Envelope is the JSON document published for each message.
type Envelope struct {
	Direction string           `json:"direction"`
	Transport string           `json:"transport"`
	Flow      string           `json:"flow"`
	Type      string           `json:"type"`
	Seqno     uint64           `json:"seqno"`
	WorldTime int64            `json:"world_time,omitempty"`
	Date      *time.Time       `json:"date,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Variant   string           `json:"variant,omitempty"`
	Record    json.RawMessage  `json:"record"`
	Updates   []UpdateEnvelope `json:"updates,omitempty"`
}

// UpdateEnvelope is one dispatched player update. Raw is hex and only set
// when the payload was not decoded.
type UpdateEnvelope struct {
	Tag     int32           `json:"tag"`
	Type    string          `json:"type,omitempty"`
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Raw     string          `json:"raw,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewEnvelope converts msg for serialization.
func NewEnvelope(msg *monitor.Message) (*Envelope, error) {
	record, err := marshalRecord(msg.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	env := &Envelope{
		Direction: msg.Direction.String(),
		Transport: msg.Transport.String(),
		Flow:      msg.Flow.String(),
		Type:      msg.Type,
		Seqno:     msg.Seqno,
		WorldTime: msg.WorldTime,
		Timestamp: msg.Timestamp,
		Record:    record,
	}
	if !msg.Date.IsZero() {
		date := msg.Date
		env.Date = &date
	}
	if msg.Direction == core.Outbound {
		env.Variant = msg.Variant.String()
	}

	for _, e := range msg.Updates {
		u := UpdateEnvelope{Tag: e.Tag, Type: e.Type, Status: e.Status.String()}
		if e.Status == dispatch.Decoded && e.Payload != nil {
			if u.Payload, err = marshalRecord(e.Payload); err != nil {
				return nil, fmt.Errorf("marshal %s: %w", e.Type, err)
			}
		} else {
			u.Raw = hex.EncodeToString(e.Raw)
		}
		if e.Err != nil {
			u.Error = e.Err.Error()
		}
		env.Updates = append(env.Updates, u)
	}
	return env, nil
}

// Encode returns the JSON envelope of msg.
func Encode(msg *monitor.Message) ([]byte, error) {
	env, err := NewEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func marshalRecord(m proto.Message) (json.RawMessage, error) {
	if m == nil {
		return json.RawMessage("null"), nil
	}
	return recordJSON.Marshal(m)
}
