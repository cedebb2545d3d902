// Package file replays frames from a pcap or pcapng capture file.
package file

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/zwiftmon/internal/core"
)

const Name = "file"

// pcapng section header block type.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

type Source struct {
	path   string
	f      *os.File
	reader packetReader
}

func NewSource(path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	return &Source{path: path}, nil
}

func (s *Source) Name() string { return Name + ":" + s.path }

// Open detects the file format from its magic number.
func (s *Source) Open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", s.path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read pcap header %s: %w", s.path, err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to parse pcap file %s: %w", s.path, err)
	}

	s.f = f
	s.reader = r
	return nil
}

// ReadPacket returns io.EOF once the file is exhausted.
func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.reader == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotOpen
	}
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("failed to read packet: %w", err)
	}
	return data, ci, nil
}

func (s *Source) LinkType() layers.LinkType {
	if s.reader == nil {
		return layers.LinkTypeEthernet // default
	}
	return s.reader.LinkType()
}

func (s *Source) Close() error {
	s.reader = nil
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		return err
	}
	return nil
}
