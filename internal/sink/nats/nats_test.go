package nats

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/monitor"
)

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (p *fakePublisher) PublishMsg(m *nats.Msg) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func message(t *testing.T, dstPort uint16) *monitor.Message {
	t.Helper()
	c, err := codec.New()
	require.NoError(t, err)
	rec, err := c.NewMessage(codec.TypeIncomingPacket)
	require.NoError(t, err)
	return &monitor.Message{
		Direction: core.Inbound,
		Transport: core.TransportUDP,
		Flow: core.FlowKey{
			SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
			SrcPort: 3022, DstPort: dstPort,
		},
		Type:   codec.TypeIncomingPacket,
		Record: rec,
	}
}

func TestSubjectIsStablePerFlow(t *testing.T) {
	s := newSink(&fakePublisher{}, "zw", 4)

	seen := map[string]bool{}
	for port := uint16(40000); port < 40064; port++ {
		msg := message(t, port)
		subj := s.Subject(msg)
		assert.Equal(t, subj, s.Subject(msg))
		assert.True(t, strings.HasPrefix(subj, "zw.inbound.p"), subj)
		seen[subj] = true
	}
	assert.LessOrEqual(t, len(seen), 4)
	assert.Greater(t, len(seen), 1)
}

func TestSubjectDefaults(t *testing.T) {
	s := newSink(&fakePublisher{}, "", 0)
	assert.Equal(t, "zwiftmon.inbound.p0", s.Subject(message(t, 40000)))
}

func TestReport(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(pub, "zw", 2)

	msg := message(t, 40000)
	require.NoError(t, s.Report(context.Background(), msg))
	require.Len(t, pub.msgs, 1)

	m := pub.msgs[0]
	assert.Equal(t, s.Subject(msg), m.Subject)
	assert.Equal(t, "inbound", m.Header.Get(HeaderDirection))
	assert.Equal(t, codec.TypeIncomingPacket, m.Header.Get(HeaderType))
	assert.Equal(t, msg.Flow.String(), m.Header.Get(HeaderFlow))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(m.Data, &doc))
	assert.Equal(t, "inbound", doc["direction"])
	assert.Equal(t, uint64(1), s.reported.Load())
}

func TestReportError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	s := newSink(pub, "zw", 1)

	err := s.Report(context.Background(), message(t, 40000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zw.inbound.p0")
	assert.Equal(t, uint64(1), s.errors.Load())
	assert.NoError(t, s.Close())
}
