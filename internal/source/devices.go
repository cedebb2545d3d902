package source

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"
)

// Device describes a capture-capable interface.
type Device struct {
	Name        string
	Description string
	Addresses   []net.IP
	Loopback    bool
}

// Devices lists the interfaces libpcap can open.
func Devices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return toDevices(ifs), nil
}

func toDevices(ifs []pcap.Interface) []Device {
	devs := make([]Device, 0, len(ifs))
	for _, i := range ifs {
		d := Device{
			Name:        i.Name,
			Description: i.Description,
			Loopback:    i.Flags&0x1 != 0, // PCAP_IF_LOOPBACK
		}
		for _, a := range i.Addresses {
			d.Addresses = append(d.Addresses, a.IP)
		}
		devs = append(devs, d)
	}
	return devs
}

// FindDevice accepts either a device name or an IPv4 address. An address is
// resolved to the device carrying it; a name is returned unchanged.
func FindDevice(nameOrIP string) (string, error) {
	if nameOrIP == "" {
		return "", errors.New("capture interface is required")
	}
	ip := net.ParseIP(nameOrIP)
	if ip == nil || ip.To4() == nil {
		return nameOrIP, nil
	}
	devs, err := Devices()
	if err != nil {
		return "", err
	}
	return findDevice(devs, ip)
}

func findDevice(devs []Device, ip net.IP) (string, error) {
	for _, d := range devs {
		for _, a := range d.Addresses {
			if a.Equal(ip) {
				return d.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no capture device has address %s", ip)
}
