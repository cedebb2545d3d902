// Package live captures from a network device through libpcap.
package live

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/zwiftmon/internal/core"
)

const Name = "pcap"

// DefaultBufferSize is the kernel buffer requested when none is configured.
// The libpcap default (~2MB) drops frames on busy interfaces.
const DefaultBufferSize = 10 * 1024 * 1024

type Config struct {
	Device      string
	SnapLen     int
	BufferSize  int // bytes
	Timeout     time.Duration
	Promiscuous bool
	BPFFilter   string
}

type Source struct {
	cfg    Config
	handle *pcap.Handle
}

func NewSource(cfg Config) (*Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("device is required")
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 65535
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	return &Source{cfg: cfg}, nil
}

func (s *Source) Name() string { return Name + ":" + s.cfg.Device }

// Open activates an inactive handle so the buffer size applies.
func (s *Source) Open() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}

	inactive, err := pcap.NewInactiveHandle(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(s.cfg.SnapLen); err != nil {
		return err
	}
	if err := inactive.SetPromisc(s.cfg.Promiscuous); err != nil {
		return err
	}
	if err := inactive.SetTimeout(s.cfg.Timeout); err != nil {
		return err
	}
	if err := inactive.SetBufferSize(s.cfg.BufferSize); err != nil {
		return err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("activate %s: %w", s.cfg.Device, err)
	}
	if s.cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(s.cfg.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("set filter %q: %w", s.cfg.BPFFilter, err)
		}
	}
	s.handle = handle
	return nil
}

func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotOpen
	}
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, ci, core.ErrReadTimeout
		}
		return nil, ci, err
	}
	return data, ci, nil
}

func (s *Source) LinkType() layers.LinkType {
	if s.handle == nil {
		return layers.LinkTypeEthernet
	}
	return s.handle.LinkType()
}

// Stats returns libpcap receive and drop counters.
func (s *Source) Stats() (received, dropped int, err error) {
	if s.handle == nil {
		return 0, 0, core.ErrSourceNotOpen
	}
	st, err := s.handle.Stats()
	if err != nil {
		return 0, 0, err
	}
	return st.PacketsReceived, st.PacketsDropped + st.PacketsIfDropped, nil
}

func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
