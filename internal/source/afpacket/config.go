// Package afpacket captures through a Linux TPACKET_V3 ring.
package afpacket

import "time"

const Name = "afpacket"

type Config struct {
	Device     string
	SnapLen    int
	BufferSize int // bytes
	Timeout    time.Duration
	BPFFilter  string
}
