//go:build linux

package afpacket

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/zwiftmon/internal/core"
)

type Source struct {
	handle *afpacket.TPacket

	device    string
	frameSize int
	blockSize int
	numBlocks int
	cfg       Config
}

func NewSource(cfg Config) (*Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("device is required")
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 65535
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10 * 1024 * 1024
	}
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSize, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	return &Source{
		device:    cfg.Device,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
		cfg:       cfg,
	}, nil
}

func (s *Source) Name() string { return Name + ":" + s.device }

func (s *Source) Open() error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.cfg.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.device, err)
	}

	if s.cfg.BPFFilter != "" {
		prog, err := compileBPF(s.cfg.BPFFilter, s.cfg.SnapLen)
		if err != nil {
			tp.Close()
			return err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return fmt.Errorf("attach filter: %w", err)
		}
	}
	s.handle = tp
	return nil
}

// compileBPF compiles a tcpdump expression through libpcap and converts it
// to the instruction form the socket filter accepts.
func compileBPF(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	raw := make([]bpf.RawInstruction, len(pcapBPF))
	for i, inst := range pcapBPF {
		raw[i] = bpf.RawInstruction{
			Op: inst.Code,
			Jt: inst.Jt,
			Jf: inst.Jf,
			K:  inst.K,
		}
	}
	return raw, nil
}

func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotOpen
	}
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
			return nil, ci, core.ErrReadTimeout
		}
		return nil, ci, err
	}
	return data, ci, nil
}

// Stats returns the packet socket counters accumulated since Open.
func (s *Source) Stats() (received, dropped int, err error) {
	if s.handle == nil {
		return 0, 0, core.ErrSourceNotOpen
	}
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return 0, 0, err
	}
	return int(v3.Packets()), int(v3.Drops()), nil
}

func (s *Source) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
