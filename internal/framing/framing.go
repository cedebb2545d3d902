// Package framing recognises the header variants seen on outbound UDP
// payloads and slices out the protobuf body.
package framing

import (
	"errors"
	"fmt"
)

// TrailerLen is the fixed trailer stripped from every outbound payload.
const TrailerLen = 4

// Variant identifies an outbound header layout by its first byte.
type Variant uint8

const (
	Unknown Variant = iota
	Magic0xDF
	Magic0x06
	Magic0x08
)

var (
	ErrUnknownVariant = errors.New("framing: unknown outbound variant")
	ErrMalformed      = errors.New("framing: outbound payload too short")
)

// Skip returns the number of header bytes preceding the body.
func (v Variant) Skip() int {
	switch v {
	case Magic0xDF:
		return 1
	case Magic0x06:
		return 5
	default:
		return 0
	}
}

func (v Variant) String() string {
	switch v {
	case Magic0xDF:
		return "0xdf"
	case Magic0x06:
		return "0x06"
	case Magic0x08:
		return "0x08"
	default:
		return "unknown"
	}
}

// Classify inspects the first payload byte.
func Classify(payload []byte) Variant {
	if len(payload) == 0 {
		return Unknown
	}
	switch payload[0] {
	case 0xdf:
		return Magic0xDF
	case 0x06:
		return Magic0x06
	case 0x08:
		return Magic0x08
	default:
		return Unknown
	}
}

// Body returns payload[skip:len-4]. The returned slice aliases payload.
func Body(payload []byte) ([]byte, Variant, error) {
	v := Classify(payload)
	if v == Unknown {
		return nil, v, fmt.Errorf("%w: prefix %s", ErrUnknownVariant, Prefix(payload))
	}
	end := len(payload) - TrailerLen
	if end-v.Skip() <= 0 {
		return nil, v, fmt.Errorf("%w: variant %s, %d bytes", ErrMalformed, v, len(payload))
	}
	return payload[v.Skip():end], v, nil
}

// PrefixLen is how many leading bytes Prefix renders.
const PrefixLen = 16

// Prefix renders up to PrefixLen leading bytes as hex for diagnostics.
func Prefix(payload []byte) string {
	if len(payload) > PrefixLen {
		payload = payload[:PrefixLen]
	}
	return fmt.Sprintf("%x", payload)
}
