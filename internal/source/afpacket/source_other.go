//go:build !linux

package afpacket

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var errUnsupported = errors.New("afpacket capture is only available on linux")

type Source struct{}

func NewSource(Config) (*Source, error) { return nil, errUnsupported }

func (s *Source) Name() string { return Name }
func (s *Source) Open() error  { return errUnsupported }
func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, errUnsupported
}
func (s *Source) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (s *Source) Close() error              { return nil }
