package decoder

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// FragmentTimeout bounds how long fragments of an incomplete datagram are
// kept, measured in capture time.
const FragmentTimeout = 30 * time.Second

func isFragment(ip4 *layers.IPv4) bool {
	return ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0
}

// defragment feeds the current IPv4 fragment to the defragmenter. It returns
// a segment once the datagram is complete and NotApplicable until then.
func (c *Classifier) defragment(ts time.Time) Segment {
	if c.ip4.Protocol != layers.IPProtocolUDP && c.ip4.Protocol != layers.IPProtocolTCP {
		return Segment{}
	}
	c.defrag.DiscardOlderThan(ts.Add(-FragmentTimeout))

	// The parser reuses c.ip4 and the frame may be reused by the caller.
	frag := c.ip4
	frag.Payload = append([]byte(nil), c.ip4.Payload...)
	whole, err := c.defrag.DefragIPv4WithTimestamp(&frag, ts)
	if err != nil || whole == nil {
		return Segment{}
	}
	c.ip4 = *whole

	switch whole.Protocol {
	case layers.IPProtocolUDP:
		if err := c.udp.DecodeFromBytes(whole.Payload, gopacket.NilDecodeFeedback); err != nil {
			return Segment{}
		}
		return c.udpSegment(ts)
	default:
		if err := c.tcp.DecodeFromBytes(whole.Payload, gopacket.NilDecodeFeedback); err != nil {
			return Segment{}
		}
		return c.tcpSegment(ts)
	}
}
