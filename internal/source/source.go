// Package source provides the capture providers that feed the monitor.
package source

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/source/afpacket"
	"firestige.xyz/zwiftmon/internal/source/file"
	"firestige.xyz/zwiftmon/internal/source/live"
)

// Source delivers raw link-layer frames.
//
// ReadPacket may return a slice that is only valid until the next call.
// It returns core.ErrReadTimeout when the poll timeout expires with no frame,
// and io.EOF when a finite source is exhausted.
type Source interface {
	Name() string
	Open() error
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close() error
}

// New builds the source selected by cfg.Type. Live sources resolve an IPv4
// interface address to its device name.
func New(cfg config.CaptureConfig) (Source, error) {
	switch cfg.Type {
	case "file":
		return file.NewSource(cfg.File)
	case "pcap", "afpacket":
		device, err := FindDevice(cfg.Interface)
		if err != nil {
			return nil, err
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 200 * time.Millisecond
		}
		if cfg.Type == "pcap" {
			return live.NewSource(live.Config{
				Device:      device,
				SnapLen:     cfg.SnapLen,
				BufferSize:  cfg.BufferSize,
				Timeout:     timeout,
				Promiscuous: cfg.Promiscuous,
				BPFFilter:   cfg.BPFFilter(),
			})
		}
		return afpacket.NewSource(afpacket.Config{
			Device:     device,
			SnapLen:    cfg.SnapLen,
			BufferSize: cfg.BufferSize,
			Timeout:    timeout,
			BPFFilter:  cfg.BPFFilter(),
		})
	default:
		return nil, fmt.Errorf("unsupported capture type: %s", cfg.Type)
	}
}
