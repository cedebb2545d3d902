// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// RawFrame is one captured link-layer frame.
// Data may alias a buffer owned by the capture source; Clone before
// retaining it past the callback that delivered it.
type RawFrame struct {
	Data       []byte    // Raw frame bytes
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Bytes actually captured
	OrigLen    uint32    // Length of the frame on the wire
	Truncated  bool      // Capture buffer was smaller than the frame
}

// Clone returns a frame whose Data no longer aliases the source buffer.
func (f RawFrame) Clone() RawFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// Transport identifies the L4 protocol of a classified segment.
type Transport uint8

const (
	TransportNone Transport = 0
	TransportTCP  Transport = 6
	TransportUDP  Transport = 17
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	default:
		return "none"
	}
}

// Direction tells which way a decoded message travelled.
type Direction uint8

const (
	// Inbound is server to client.
	Inbound Direction = iota + 1
	// Outbound is client to server.
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// SeqKey identifies a UDP inbound flow for sequence tracking.
type SeqKey struct {
	Src     netip.Addr
	DstPort uint16
}

// FlowKey identifies one direction of a TCP connection.
type FlowKey struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

func (k FlowKey) String() string {
	return netip.AddrPortFrom(k.SrcIP, k.SrcPort).String() + "->" + netip.AddrPortFrom(k.DstIP, k.DstPort).String()
}
