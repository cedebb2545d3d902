package codec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

func mustCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func TestEmbeddedSchema(t *testing.T) {
	c := mustCodec(t)
	for _, name := range []string{
		TypeIncomingPacket, TypeOutgoingPacket, TypePlayerState, TypePlayerUpdate,
		"PlayerLeftWorld", "RideOn", "ChatMessage", "TimeSync", "Meetup",
		"PlayerEnteredWorld", "EventJoin", "EventLeave", "EventPositions", "SegmentResult",
	} {
		assert.True(t, c.Has(name), name)
	}
	assert.False(t, c.Has("NoSuchThing"))

	md, ok := c.Descriptor(TypeIncomingPacket)
	require.True(t, ok)
	assert.Equal(t, protoreflect.FullName("zwift.IncomingPacket"), md.FullName())
	assert.Equal(t, protoreflect.FieldNumber(9), md.Fields().ByName("player_updates").Number())
}

func TestDecodeRoundTrip(t *testing.T) {
	c := mustCodec(t)

	in, err := c.NewMessage(TypeIncomingPacket)
	require.NoError(t, err)
	md := in.Descriptor()
	in.Set(md.Fields().ByName("seqno"), protoreflect.ValueOfUint32(5))
	in.Set(md.Fields().ByName("world_time"), protoreflect.ValueOfInt64(123456))
	in.Set(md.Fields().ByName("athlete_id"), protoreflect.ValueOfInt64(42))

	upd := in.Mutable(md.Fields().ByName("player_updates")).List()
	el := upd.NewElement()
	umd := el.Message().Descriptor()
	el.Message().Set(umd.Fields().ByName("payload_type"), protoreflect.ValueOfInt32(4))
	el.Message().Set(umd.Fields().ByName("payload"), protoreflect.ValueOfBytes([]byte{0x08, 0x01}))
	upd.Append(el)

	b, err := proto.Marshal(in)
	require.NoError(t, err)

	out, err := c.Decode(TypeIncomingPacket, b)
	require.NoError(t, err)

	seq, ok := Uint(out, "seqno")
	require.True(t, ok)
	assert.Equal(t, uint64(5), seq)
	wt, ok := Int(out, "world_time")
	require.True(t, ok)
	assert.Equal(t, int64(123456), wt)

	updates := Messages(out, "player_updates")
	require.Len(t, updates, 1)
	tag, ok := Int(updates[0], "payload_type")
	require.True(t, ok)
	assert.Equal(t, int64(4), tag)
	raw, ok := Bytes(updates[0], "payload")
	require.True(t, ok)
	assert.Equal(t, []byte{0x08, 0x01}, raw)
}

func TestDecodeErrors(t *testing.T) {
	c := mustCodec(t)

	_, err := c.Decode(TypeIncomingPacket, []byte{0x0a, 0xff})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, TypeIncomingPacket, de.Type)
	assert.Equal(t, 2, de.Len)
	assert.Contains(t, err.Error(), "codec: decode IncomingPacket (2 bytes)")

	_, err = c.Decode("Bogus", []byte{0x08, 0x01})
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = c.NewMessage("Bogus")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeEmpty(t *testing.T) {
	c := mustCodec(t)
	msg, err := c.Decode(TypeOutgoingPacket, nil)
	require.NoError(t, err)
	_, ok := Uint(msg, "seqno")
	assert.True(t, ok)
}

func TestFieldHelpers(t *testing.T) {
	c := mustCodec(t)
	msg, err := c.NewMessage("PlayerEnteredWorld")
	require.NoError(t, err)
	md := msg.Descriptor()
	msg.Set(md.Fields().ByName("athlete_id"), protoreflect.ValueOfInt64(-3))

	v, ok := Int(msg, "athlete_id")
	assert.True(t, ok)
	assert.Equal(t, int64(-3), v)
	_, ok = Uint(msg, "athlete_id")
	assert.False(t, ok, "negative values are not unsigned")

	_, ok = Int(msg, "first_name")
	assert.False(t, ok)
	_, ok = Int(msg, "missing")
	assert.False(t, ok)
	_, ok = Bytes(msg, "first_name")
	assert.False(t, ok)
	assert.Nil(t, Messages(msg, "athlete_id"))
	assert.Nil(t, Messages(nil, "player_updates"))
}

func TestLoadCustomSchema(t *testing.T) {
	schema := `
name: "custom.proto"
package: "zw"
message_type { name: "IncomingPacket" field { name: "seqno" number: 4 label: LABEL_OPTIONAL type: TYPE_UINT64 } }
message_type { name: "OutgoingPacket" field { name: "seqno" number: 4 label: LABEL_OPTIONAL type: TYPE_UINT64 } }
message_type {
  name: "PlayerUpdate"
  field { name: "payload_type" number: 2 label: LABEL_OPTIONAL type: TYPE_INT32 }
  nested_type { name: "Inner" }
}
`
	path := filepath.Join(t.TempDir(), "schema.txtpb")
	require.NoError(t, os.WriteFile(path, []byte(schema), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Has("PlayerUpdate.Inner"))

	msg, err := c.Decode(TypeIncomingPacket, []byte{0x20, 0x07})
	require.NoError(t, err)
	seq, ok := Uint(msg, "seqno")
	require.True(t, ok)
	assert.Equal(t, uint64(7), seq)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/schema.txtpb")
	assert.Error(t, err)

	_, err = Parse([]byte("this is { not textproto"))
	assert.Error(t, err)

	_, err = FromDescriptor(&descriptorpb.FileDescriptorProto{
		Name:    proto.String("empty.proto"),
		Package: proto.String("zw"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing message IncomingPacket")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.Has(TypeIncomingPacket))
}
