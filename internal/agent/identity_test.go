// ABOUTME: Tests for primary interface selection during identity collection
// ABOUTME: Uses synthetic interfaces so results do not depend on the host

package agent

import (
	"net"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleetd/internal/device"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	hw, err := net.ParseMAC(s)
	require.NoError(t, err)
	return hw
}

func TestPrimaryInterface(t *testing.T) {
	ifaces := []net.Interface{
		{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Index: 3, Name: "wlan0", Flags: net.FlagUp, HardwareAddr: mustMAC(t, "aa:aa:aa:aa:aa:03")},
		{Index: 2, Name: "eth0", Flags: net.FlagUp, HardwareAddr: mustMAC(t, "aa:aa:aa:aa:aa:02")},
		{Index: 4, Name: "down0", HardwareAddr: mustMAC(t, "aa:aa:aa:aa:aa:04")},
	}
	addrs := map[string]string{"wlan0": "192.168.1.9", "eth0": ""}

	mac, ip, err := primaryInterface(ifaces, func(i net.Interface) string { return addrs[i.Name] })
	require.NoError(t, err)
	assert.Equal(t, "AA:AA:AA:AA:AA:03", mac, "interface with an address wins")
	assert.Equal(t, "192.168.1.9", ip)
}

func TestPrimaryInterface_FallbackWithoutAddress(t *testing.T) {
	ifaces := []net.Interface{
		{Index: 5, Name: "eth1", Flags: net.FlagUp, HardwareAddr: mustMAC(t, "aa:aa:aa:aa:aa:05")},
		{Index: 2, Name: "eth0", Flags: net.FlagUp, HardwareAddr: mustMAC(t, "aa:aa:aa:aa:aa:02")},
	}

	mac, ip, err := primaryInterface(ifaces, func(net.Interface) string { return "" })
	require.NoError(t, err)
	assert.Equal(t, "AA:AA:AA:AA:AA:02", mac, "lowest index is the fallback")
	assert.Empty(t, ip)
}

func TestPrimaryInterface_None(t *testing.T) {
	_, _, err := primaryInterface([]net.Interface{{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}},
		func(net.Interface) string { return "127.0.0.1" })
	assert.ErrorIs(t, err, ErrNoMACAddress)
}

func TestOSVersion(t *testing.T) {
	v := osVersion()
	assert.NotEmpty(t, v)
	if runtime.GOOS == "linux" {
		assert.Contains(t, v, "Linux")
	}
	assert.Equal(t, device.PlatformLinux == device.ParsePlatform(runtime.GOOS), runtime.GOOS == "linux")
}
