package source

import (
	"net"
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/zwiftmon/internal/config"
)

func TestToDevices(t *testing.T) {
	devs := toDevices([]pcap.Interface{
		{Name: "lo", Flags: 0x1, Addresses: []pcap.InterfaceAddress{{IP: net.IPv4(127, 0, 0, 1)}}},
		{Name: "eth0", Description: "uplink", Addresses: []pcap.InterfaceAddress{
			{IP: net.ParseIP("fe80::1")},
			{IP: net.IPv4(192, 168, 1, 20)},
		}},
	})
	require.Len(t, devs, 2)
	assert.True(t, devs[0].Loopback)
	assert.False(t, devs[1].Loopback)
	assert.Equal(t, "uplink", devs[1].Description)
	assert.Len(t, devs[1].Addresses, 2)
}

func TestFindDeviceByAddress(t *testing.T) {
	devs := []Device{
		{Name: "lo", Addresses: []net.IP{net.IPv4(127, 0, 0, 1)}},
		{Name: "eth0", Addresses: []net.IP{net.IPv4(192, 168, 1, 20)}},
	}

	name, err := findDevice(devs, net.ParseIP("192.168.1.20"))
	require.NoError(t, err)
	assert.Equal(t, "eth0", name)

	_, err = findDevice(devs, net.ParseIP("10.9.9.9"))
	assert.Error(t, err)
}

func TestFindDeviceByName(t *testing.T) {
	name, err := FindDevice("en0")
	require.NoError(t, err)
	assert.Equal(t, "en0", name)

	_, err = FindDevice("")
	assert.Error(t, err)
}

func TestNewUnsupportedType(t *testing.T) {
	_, err := New(config.CaptureConfig{Type: "netmap"})
	assert.Error(t, err)
}

func TestNewFileSourceRequiresPath(t *testing.T) {
	_, err := New(config.CaptureConfig{Type: "file"})
	assert.Error(t, err)
}
