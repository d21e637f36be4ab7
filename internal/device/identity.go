// ABOUTME: Device identity primitives shared by fleet-server and fleet-agent
// ABOUTME: Platform parsing and MAC address normalization

package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMAC is returned when a MAC address cannot be normalized.
var ErrInvalidMAC = errors.New("invalid mac address")

// Platform identifies the operating system family of a device.
type Platform string

const (
	PlatformUnknown Platform = "unknown"
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

// ParsePlatform maps a reported platform (or a GOOS value) to a Platform.
// Unrecognized values map to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "macos", "darwin", "osx":
		return PlatformMacOS
	default:
		return PlatformUnknown
	}
}

// Identity is the hardware identity an agent reports when registering.
type Identity struct {
	MACAddress string
	Hostname   string
	Platform   Platform
	OSVersion  string
	IPAddress  string
}

// NormalizeMAC returns the canonical AA:BB:CC:DD:EE:FF form of a MAC address.
// Colon, dash and dot separators are accepted, as is a bare 12-digit hex string.
func NormalizeMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMAC)
	}

	hex := strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)
	if len(hex) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
	}
	for _, c := range hex {
		if !isHex(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
		}
	}
	hex = strings.ToUpper(hex)

	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String(), nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
