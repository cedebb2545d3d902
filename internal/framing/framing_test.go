package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    Variant
	}{
		{"df", []byte{0xdf, 1, 2}, Magic0xDF},
		{"06", []byte{0x06, 1, 2}, Magic0x06},
		{"08", []byte{0x08, 1, 2}, Magic0x08},
		{"other", []byte{0x99, 1, 2}, Unknown},
		{"empty", nil, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.payload))
		})
	}
}

func TestBody(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		variant Variant
		body    []byte
	}{
		{
			name:    "0xdf skips one byte",
			payload: []byte{0xdf, 0x08, 0x01, 0x10, 0x02, 0xaa, 0xbb, 0xcc, 0xdd},
			variant: Magic0xDF,
			body:    []byte{0x08, 0x01, 0x10, 0x02},
		},
		{
			name:    "0x06 skips five bytes",
			payload: []byte{0x06, 0, 0, 0, 0, 0x08, 0x01, 1, 2, 3, 4},
			variant: Magic0x06,
			body:    []byte{0x08, 0x01},
		},
		{
			name:    "0x08 is already the body",
			payload: []byte{0x08, 0x01, 0x10, 0x02, 9, 9, 9, 9},
			variant: Magic0x08,
			body:    []byte{0x08, 0x01, 0x10, 0x02},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, v, err := Body(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.variant, v)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestBodyUnknown(t *testing.T) {
	payload := []byte{0x99, 0x01, 0x02, 0x03, 0x04, 0x05}
	body, v, err := Body(payload)
	assert.ErrorIs(t, err, ErrUnknownVariant)
	assert.Equal(t, Unknown, v)
	assert.Nil(t, body)
	assert.Contains(t, err.Error(), "990102030405")
}

func TestBodyMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"df header plus trailer only", []byte{0xdf, 1, 2, 3, 4}},
		{"06 shorter than header", []byte{0x06, 0, 0, 0, 0, 1, 2, 3}},
		{"08 trailer only", []byte{0x08, 1, 2, 3}},
		{"single byte", []byte{0x08}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _, err := Body(tt.payload)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, body)
		})
	}
}

func TestBodyIdempotent(t *testing.T) {
	payloads := [][]byte{
		{0xdf, 0x08, 0x01, 0x10, 0x02, 1, 2, 3, 4},
		{0x06, 0, 0, 0, 0, 0x08, 0x01, 1, 2, 3, 4},
		{0x08, 0x01, 1, 2, 3, 4},
		{0x42, 0x01},
		{0xdf, 1, 2},
	}
	for _, p := range payloads {
		b1, v1, err1 := Body(p)
		b2, v2, err2 := Body(p)
		assert.Equal(t, v1, v2)
		assert.Equal(t, b1, b2)
		assert.Equal(t, err1, err2)
		assert.Equal(t, Classify(p), Classify(p))
	}
}

func TestPrefix(t *testing.T) {
	long := make([]byte, 40)
	for i := range long {
		long[i] = byte(i)
	}
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f", Prefix(long))
	assert.Equal(t, "", Prefix(nil))
	assert.Equal(t, "ab", Prefix([]byte{0xab}))
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "0xdf", Magic0xDF.String())
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, 5, Magic0x06.Skip())
	assert.Equal(t, 0, Unknown.Skip())
}
