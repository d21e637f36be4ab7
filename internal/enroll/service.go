// ABOUTME: Device registration: upsert by MAC and issue a session token once approved
// ABOUTME: Re-registration refreshes reported fields but never changes id or approval

package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fleetd/internal/device"
	"github.com/2389/fleetd/internal/metrics"
	"github.com/2389/fleetd/internal/store"
)

// ErrInvalidIdentity is returned when the reported MAC address is unusable.
var ErrInvalidIdentity = errors.New("invalid device identity")

// Registration outcome messages returned to agents.
const (
	MessageApproved = "Device registered and approved."
	MessagePending  = "Device registered. Awaiting operator approval."
	MessageBlocked  = "Device is blocked."
)

// Registration results, also used as metric labels.
const (
	ResultApproved = "approved"
	ResultPending  = "pending"
	ResultBlocked  = "blocked"
)

// DeviceStore is the persistence registration needs.
type DeviceStore interface {
	UpsertDeviceByMAC(ctx context.Context, id device.Identity) (*store.Device, bool, error)
}

// TokenIssuer mints device session tokens.
type TokenIssuer interface {
	IssueDeviceToken(deviceID string, expiresIn time.Duration) (string, error)
}

// Outcome is what a registration produced.
type Outcome struct {
	Device  *store.Device
	Created bool
	Token   string // empty unless the device is approved and not blocked
	Result  string
	Message string
}

// Service registers devices.
type Service struct {
	devices  DeviceStore
	tokens   TokenIssuer
	tokenTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService creates a registration service. tokens may be nil when the
// server only accepts device secrets; approved devices then get no token.
func NewService(devices DeviceStore, tokens TokenIssuer, tokenTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		devices:  devices,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		metrics:  m,
		logger:   logger.With("component", "enroll"),
	}
}

// Register upserts the device identified by ident's MAC address.
func (s *Service) Register(ctx context.Context, ident device.Identity) (*Outcome, error) {
	mac, err := device.NormalizeMAC(ident.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	ident.MACAddress = mac
	if ident.Platform == "" {
		ident.Platform = device.PlatformUnknown
	}

	dev, created, err := s.devices.UpsertDeviceByMAC(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("upserting device: %w", err)
	}

	out := &Outcome{Device: dev, Created: created}
	switch {
	case dev.Status == store.DeviceStatusBlocked:
		out.Result, out.Message = ResultBlocked, MessageBlocked
	case !dev.Approved:
		out.Result, out.Message = ResultPending, MessagePending
	default:
		out.Result, out.Message = ResultApproved, MessageApproved
		if s.tokens != nil {
			out.Token, err = s.tokens.IssueDeviceToken(dev.ID, s.tokenTTL)
			if err != nil {
				return nil, fmt.Errorf("issuing token: %w", err)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.Registrations.WithLabelValues(out.Result).Inc()
	}
	s.logger.Info("device registered",
		"device_id", dev.ID,
		"mac", dev.MACAddress,
		"hostname", dev.Hostname,
		"platform", dev.Platform,
		"created", created,
		"result", out.Result,
	)
	return out, nil
}
