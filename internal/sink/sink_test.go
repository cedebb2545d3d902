package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/dispatch"
	"firestige.xyz/zwiftmon/internal/framing"
	"firestige.xyz/zwiftmon/internal/monitor"
)

func mustCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New()
	require.NoError(t, err)
	return c
}

func record(t *testing.T, c *codec.Codec, typeName string, set map[string]protoreflect.Value) proto.Message {
	t.Helper()
	m, err := c.NewMessage(typeName)
	require.NoError(t, err)
	for name, v := range set {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), v)
	}
	return m
}

var testFlow = core.FlowKey{
	SrcIP:   netip.MustParseAddr("10.0.0.1"),
	DstIP:   netip.MustParseAddr("192.168.1.2"),
	SrcPort: 3022,
	DstPort: 50000,
}

func TestEncodeInbound(t *testing.T) {
	c := mustCodec(t)
	rideOn := record(t, c, "RideOn", map[string]protoreflect.Value{
		"athlete_id": protoreflect.ValueOfInt64(7),
	})
	msg := &monitor.Message{
		Direction: core.Inbound,
		Transport: core.TransportUDP,
		Flow:      testFlow,
		Type:      codec.TypeIncomingPacket,
		Record: record(t, c, codec.TypeIncomingPacket, map[string]protoreflect.Value{
			"seqno": protoreflect.ValueOfUint32(5),
		}),
		Seqno:     5,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Updates: []dispatch.Entry{
			{Tag: 4, Type: "RideOn", Raw: []byte{0x08, 0x07}, Payload: rideOn, Status: dispatch.Decoded},
			{Tag: 106, Raw: []byte{0xca, 0xfe}, Status: dispatch.Opaque},
			{Tag: 5, Type: "ChatMessage", Raw: []byte{0xff}, Status: dispatch.Failed, Err: errors.New("boom")},
		},
	}

	b, err := Encode(msg)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, "inbound", env.Direction)
	assert.Equal(t, "udp", env.Transport)
	assert.Equal(t, "10.0.0.1:3022->192.168.1.2:50000", env.Flow)
	assert.Equal(t, uint64(5), env.Seqno)
	assert.Nil(t, env.Date)
	assert.Empty(t, env.Variant)
	assert.JSONEq(t, `{"seqno":5}`, string(env.Record))

	require.Len(t, env.Updates, 3)
	assert.Equal(t, "decoded", env.Updates[0].Status)
	assert.JSONEq(t, `{"athlete_id":"7"}`, string(env.Updates[0].Payload))
	assert.Empty(t, env.Updates[0].Raw)
	assert.Equal(t, "opaque", env.Updates[1].Status)
	assert.Equal(t, "cafe", env.Updates[1].Raw)
	assert.Equal(t, "failed", env.Updates[2].Status)
	assert.Equal(t, "boom", env.Updates[2].Error)
}

func TestEncodeOutbound(t *testing.T) {
	c := mustCodec(t)
	date := time.UnixMilli(core.DefaultWorldEpochMillis + 1000).UTC()
	msg := &monitor.Message{
		Direction: core.Outbound,
		Transport: core.TransportUDP,
		Flow:      testFlow,
		Type:      codec.TypeOutgoingPacket,
		Record:    record(t, c, codec.TypeOutgoingPacket, nil),
		WorldTime: 1000,
		Date:      date,
		Variant:   framing.Magic0xDF,
	}

	env, err := NewEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, "0xdf", env.Variant)
	require.NotNil(t, env.Date)
	assert.True(t, date.Equal(*env.Date))
	assert.JSONEq(t, `{}`, string(env.Record))
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []*monitor.Message
	err  error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Report(_ context.Context, msg *monitor.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func inboundFrame(t *testing.T, payload []byte) core.RawFrame {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(192, 168, 1, 2)}
	udp := &layers.UDP{SrcPort: 3022, DstPort: 50000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	data := buf.Bytes()
	return core.RawFrame{Data: data, Timestamp: time.Now(), CaptureLen: uint32(len(data)), OrigLen: uint32(len(data))}
}

func TestAttach(t *testing.T) {
	c := mustCodec(t)
	m := monitor.New(monitor.DefaultConfig(), nil, c)

	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("unavailable")}
	require.NoError(t, Attach(m, failing))
	require.NoError(t, Attach(m, ok))

	for _, seq := range []uint32{1, 2} {
		b, err := proto.Marshal(record(t, c, codec.TypeIncomingPacket, map[string]protoreflect.Value{
			"seqno": protoreflect.ValueOfUint32(seq),
		}))
		require.NoError(t, err)
		require.NoError(t, m.HandleFrame(inboundFrame(t, b)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Drain(ctx))

	// A failing sink does not stop delivery to the next one.
	assert.Len(t, failing.msgs, 2)
	require.Len(t, ok.msgs, 2)
	assert.Equal(t, uint64(2), ok.msgs[1].Seqno)
}
