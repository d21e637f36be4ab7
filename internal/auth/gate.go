// ABOUTME: Transport-independent device authentication through an ordered scheme chain
// ABOUTME: Device secret first, then bearer token; admitted devices must exist and not be blocked

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/fleetd/internal/store"
)

// Gate errors
var (
	// ErrNoCredential is returned by a Scheme whose credential was not supplied.
	// The Gate then tries the next scheme.
	ErrNoCredential      = errors.New("credential not supplied")
	ErrMissingCredential = errors.New("no credentials supplied")
	ErrEmptyCredential   = errors.New("empty credential")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrDeviceBlocked     = errors.New("device is blocked")
	ErrDeviceNotApproved = errors.New("device is not approved")
)

// Credentials are the raw values a device presented. A nil field means the
// credential was absent; a pointer to "" means it was present but empty.
type Credentials struct {
	DeviceSecret *string
	Bearer       *string
}

// DeviceLookup is the slice of the store the gate needs.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*store.Device, error)
	GetDeviceBySecretHash(ctx context.Context, hash string) (*store.Device, error)
}

// Scheme resolves one kind of credential to a device.
type Scheme interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (*store.Device, error)
}

// Gate runs schemes in order and applies device policy to the result.
type Gate struct {
	schemes []Scheme
}

// NewGate creates a gate over the given schemes, tried in order.
func NewGate(schemes ...Scheme) *Gate {
	return &Gate{schemes: schemes}
}

// NewDeviceGate builds the standard chain: device secret, then bearer token.
// tokens may be nil, in which case only device secrets are accepted.
func NewDeviceGate(devices DeviceLookup, tokens TokenVerifier) *Gate {
	schemes := []Scheme{&SecretScheme{Devices: devices}}
	if tokens != nil {
		schemes = append(schemes, &BearerScheme{Devices: devices, Tokens: tokens})
	}
	return NewGate(schemes...)
}

// Authenticate resolves creds to an admitted device identity.
func (g *Gate) Authenticate(ctx context.Context, creds Credentials) (*AuthContext, error) {
	for _, s := range g.schemes {
		dev, err := s.Authenticate(ctx, creds)
		if errors.Is(err, ErrNoCredential) {
			continue
		}
		if err != nil {
			return nil, err
		}

		switch {
		case dev.Status == store.DeviceStatusBlocked:
			return nil, ErrDeviceBlocked
		case !dev.Approved:
			return nil, ErrDeviceNotApproved
		}

		return &AuthContext{
			PrincipalID:   dev.ID,
			PrincipalType: PrincipalDevice,
			Scheme:        s.Name(),
		}, nil
	}
	return nil, ErrMissingCredential
}

// SecretScheme authenticates a per-device shared secret by its hash.
type SecretScheme struct {
	Devices DeviceLookup
}

func (s *SecretScheme) Name() string { return "device-secret" }

func (s *SecretScheme) Authenticate(ctx context.Context, creds Credentials) (*store.Device, error) {
	if creds.DeviceSecret == nil {
		return nil, ErrNoCredential
	}
	secret := strings.TrimSpace(*creds.DeviceSecret)
	if secret == "" {
		return nil, ErrEmptyCredential
	}

	dev, err := s.Devices.GetDeviceBySecretHash(ctx, HashSecret(secret))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("looking up device secret: %w", err)
	}
	return dev, nil
}

// BearerScheme authenticates a device token issued at registration.
type BearerScheme struct {
	Devices DeviceLookup
	Tokens  TokenVerifier
}

func (s *BearerScheme) Name() string { return "bearer" }

func (s *BearerScheme) Authenticate(ctx context.Context, creds Credentials) (*store.Device, error) {
	if creds.Bearer == nil {
		return nil, ErrNoCredential
	}
	token := strings.TrimSpace(*creds.Bearer)
	if token == "" {
		return nil, ErrEmptyCredential
	}

	claims, err := s.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeDevice {
		return nil, fmt.Errorf("%w: %s", ErrWrongTokenType, claims.Type)
	}

	dev, err := s.Devices.GetDevice(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	return dev, nil
}

// FailureReason maps a gate error to a short label for logs and metrics.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrEmptyCredential):
		return "empty_credential"
	case errors.Is(err, ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ErrDeviceBlocked):
		return "blocked"
	case errors.Is(err, ErrDeviceNotApproved):
		return "not_approved"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingClaim), errors.Is(err, ErrWrongTokenType):
		return "invalid_token"
	default:
		return "internal"
	}
}
