// ABOUTME: Collects the identity a device reports when it registers
// ABOUTME: Hostname, primary MAC and IP, platform and OS version

package agent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"

	"github.com/2389/fleetd/internal/device"
)

// ErrNoMACAddress is returned when no usable network interface is found.
var ErrNoMACAddress = errors.New("no network interface with a MAC address")

// CollectIdentity gathers this machine's identity.
func CollectIdentity() (device.Identity, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return device.Identity{}, fmt.Errorf("reading hostname: %w", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return device.Identity{}, fmt.Errorf("listing interfaces: %w", err)
	}
	mac, ip, err := primaryInterface(ifaces, interfaceIPv4)
	if err != nil {
		return device.Identity{}, err
	}

	return device.Identity{
		MACAddress: mac,
		Hostname:   hostname,
		Platform:   device.ParsePlatform(runtime.GOOS),
		OSVersion:  osVersion(),
		IPAddress:  ip,
	}, nil
}

// primaryInterface picks the interface whose MAC identifies the device: the
// first (by index) up, non-loopback interface with a hardware address,
// preferring one that has an IPv4 address.
func primaryInterface(ifaces []net.Interface, addrOf func(net.Interface) string) (mac, ip string, err error) {
	sorted := append([]net.Interface(nil), ifaces...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var fallback *net.Interface
	for i := range sorted {
		iface := sorted[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		if addr := addrOf(iface); addr != "" {
			normalized, err := device.NormalizeMAC(iface.HardwareAddr.String())
			if err != nil {
				continue
			}
			return normalized, addr, nil
		}
		if fallback == nil {
			fallback = &sorted[i]
		}
	}
	if fallback == nil {
		return "", "", ErrNoMACAddress
	}
	normalized, err := device.NormalizeMAC(fallback.HardwareAddr.String())
	if err != nil {
		return "", "", err
	}
	return normalized, "", nil
}

// interfaceIPv4 returns the first IPv4 address of iface, or "".
func interfaceIPv4(iface net.Interface) string {
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if v4 := ipn.IP.To4(); v4 != nil && !v4.IsLinkLocalUnicast() {
				return v4.String()
			}
		}
	}
	return ""
}
