package monitor

import (
	"time"

	"google.golang.org/protobuf/proto"

	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/dispatch"
	"firestige.xyz/zwiftmon/internal/framing"
)

// Message is one decoded protocol message as delivered to subscribers.
// Subscribers must treat it as read-only; it is shared between them.
type Message struct {
	Direction core.Direction
	Transport core.Transport
	Flow      core.FlowKey
	Type      string        // codec type name of Record
	Record    proto.Message // decoded top-level message

	Seqno     uint64
	WorldTime int64
	Date      time.Time // epoch + WorldTime; zero when WorldTime is 0
	Timestamp time.Time // capture time of the frame that completed the message

	Variant framing.Variant  // outbound framing variant
	Updates []dispatch.Entry // inbound player updates after dispatch
}

// Handler receives emitted messages on the event goroutine.
type Handler func(msg *Message)
