// Package decoder classifies raw link-layer frames into the UDP and TCP
// segments the monitor cares about.
package decoder

import (
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"

	"firestige.xyz/zwiftmon/internal/core"
)

// Kind is the classification outcome of one frame.
type Kind uint8

const (
	NotApplicable Kind = iota
	UDP
	TCP
)

func (k Kind) String() string {
	switch k {
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	default:
		return "n/a"
	}
}

// Transport maps the kind to its IP protocol number.
func (k Kind) Transport() core.Transport {
	switch k {
	case UDP:
		return core.TransportUDP
	case TCP:
		return core.TransportTCP
	default:
		return core.TransportNone
	}
}

// Segment is a transport segment on one of the protocol ports.
// Payload aliases the frame data. TCP points at the classifier's decoded
// layer and is only valid until the next Classify.
type Segment struct {
	Kind      Kind
	Direction core.Direction
	Flow      core.FlowKey
	Payload   []byte
	Seq       uint32 // TCP only
	Flags     uint8  // TCP only, core.TCPFlag*
	TCP       *layers.TCP
	Timestamp time.Time
}

// Ports selects which segments are relevant.
type Ports struct {
	UDP uint16
	TCP uint16
}

// DefaultPorts returns the well-known game ports.
func DefaultPorts() Ports {
	return Ports{UDP: core.DefaultUDPPort, TCP: core.DefaultTCPPort}
}

// Classifier decodes Ethernet/IPv4/UDP|TCP headers with a reused
// DecodingLayerParser. Not safe for concurrent use.
type Classifier struct {
	ports Ports

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType

	defrag *ip4defrag.IPv4Defragmenter
}

// NewClassifier creates a classifier for the given ports.
func NewClassifier(ports Ports) *Classifier {
	c := &Classifier{
		ports:   ports,
		decoded: make([]gopacket.LayerType, 0, 4),
		defrag:  ip4defrag.NewIPv4Defragmenter(),
	}
	c.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&c.eth,
		&c.ip4,
		&c.tcp,
		&c.udp,
		&c.payload,
	)
	c.parser.IgnoreUnsupported = true
	return c
}

// Classify inspects one frame. Frames outside scope yield a NotApplicable
// segment and a nil error. IPv4 fragments are held until the datagram is
// complete; the frame carrying the last fragment yields the segment.
// A truncated frame returns core.ErrCaptureOverflow.
func (c *Classifier) Classify(frame core.RawFrame) (Segment, error) {
	if frame.Truncated || (frame.OrigLen > 0 && frame.CaptureLen < frame.OrigLen) {
		return Segment{}, core.ErrCaptureOverflow
	}

	c.decoded = c.decoded[:0]
	if err := c.parser.DecodeLayers(frame.Data, &c.decoded); err != nil {
		// Malformed headers are treated like any unsupported frame.
		return Segment{}, nil
	}

	var hasIP bool
	for _, lt := range c.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			hasIP = true
		case layers.LayerTypeUDP:
			if !hasIP {
				return Segment{}, nil
			}
			return c.udpSegment(frame.Timestamp), nil
		case layers.LayerTypeTCP:
			if !hasIP {
				return Segment{}, nil
			}
			return c.tcpSegment(frame.Timestamp), nil
		}
	}
	if hasIP && isFragment(&c.ip4) {
		return c.defragment(frame.Timestamp), nil
	}
	return Segment{}, nil
}

func (c *Classifier) flow(srcPort, dstPort uint16) core.FlowKey {
	src, _ := netip.AddrFromSlice(c.ip4.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(c.ip4.DstIP.To4())
	return core.FlowKey{SrcIP: src, DstIP: dst, SrcPort: srcPort, DstPort: dstPort}
}

func (c *Classifier) udpSegment(ts time.Time) Segment {
	src, dst := uint16(c.udp.SrcPort), uint16(c.udp.DstPort)
	var dir core.Direction
	switch {
	case src == c.ports.UDP:
		dir = core.Inbound
	case dst == c.ports.UDP:
		dir = core.Outbound
	default:
		return Segment{}
	}
	return Segment{
		Kind:      UDP,
		Direction: dir,
		Flow:      c.flow(src, dst),
		Payload:   c.udp.Payload,
		Timestamp: ts,
	}
}

func (c *Classifier) tcpSegment(ts time.Time) Segment {
	src, dst := uint16(c.tcp.SrcPort), uint16(c.tcp.DstPort)
	var dir core.Direction
	switch {
	case src == c.ports.TCP:
		dir = core.Inbound
	case dst == c.ports.TCP:
		dir = core.Outbound
	default:
		return Segment{}
	}
	return Segment{
		Kind:      TCP,
		Direction: dir,
		Flow:      c.flow(src, dst),
		Payload:   c.tcp.Payload,
		Seq:       c.tcp.Seq,
		Flags:     tcpFlags(&c.tcp),
		TCP:       &c.tcp,
		Timestamp: ts,
	}
}

func tcpFlags(t *layers.TCP) uint8 {
	var f uint8
	if t.FIN {
		f |= core.TCPFlagFIN
	}
	if t.SYN {
		f |= core.TCPFlagSYN
	}
	if t.RST {
		f |= core.TCPFlagRST
	}
	if t.PSH {
		f |= core.TCPFlagPSH
	}
	if t.ACK {
		f |= core.TCPFlagACK
	}
	if t.URG {
		f |= core.TCPFlagURG
	}
	return f
}
