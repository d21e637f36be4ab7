// ABOUTME: Tests for the device authentication gate and its gRPC interceptors
// ABOUTME: Covers the scheme chain, every refusal mode, and status code mapping

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/fleetd/internal/store"
)

func strPtr(s string) *string { return &s }

type gateFixture struct {
	store  *store.MockStore
	issuer *JWTIssuer
	gate   *Gate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	s := store.NewMockStore()
	s.AddDevice(&store.Device{ID: "approved", MACAddress: "00:00:00:00:00:01", Approved: true, Status: store.DeviceStatusActive, SecretHash: HashSecret("s3cret")})
	s.AddDevice(&store.Device{ID: "pending", MACAddress: "00:00:00:00:00:02", Status: store.DeviceStatusPending, SecretHash: HashSecret("pending-secret")})
	s.AddDevice(&store.Device{ID: "blocked", MACAddress: "00:00:00:00:00:03", Approved: true, Status: store.DeviceStatusBlocked, SecretHash: HashSecret("blocked-secret")})

	issuer := newTestIssuer(t)
	return &gateFixture{store: s, issuer: issuer, gate: NewDeviceGate(s, issuer)}
}

func (f *gateFixture) token(t *testing.T, deviceID string) *string {
	t.Helper()
	tok, err := f.issuer.IssueDeviceToken(deviceID, time.Hour)
	require.NoError(t, err)
	return &tok
}

func TestGate_Admits(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	got, err := f.gate.Authenticate(ctx, Credentials{DeviceSecret: strPtr("s3cret")})
	require.NoError(t, err)
	assert.Equal(t, "approved", got.PrincipalID)
	assert.Equal(t, "device-secret", got.Scheme)
	assert.True(t, got.IsDevice())

	got, err = f.gate.Authenticate(ctx, Credentials{Bearer: f.token(t, "approved")})
	require.NoError(t, err)
	assert.Equal(t, "approved", got.PrincipalID)
	assert.Equal(t, "bearer", got.Scheme)
}

func TestGate_SecretTakesPrecedence(t *testing.T) {
	f := newGateFixture(t)

	// A bad secret fails even though a valid bearer follows it.
	_, err := f.gate.Authenticate(context.Background(), Credentials{
		DeviceSecret: strPtr("wrong"),
		Bearer:       f.token(t, "approved"),
	})
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestGate_Refusals(t *testing.T) {
	f := newGateFixture(t)
	operator, err := f.issuer.IssueOperatorToken("alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"nothing", Credentials{}, ErrMissingCredential},
		{"empty secret", Credentials{DeviceSecret: strPtr("  ")}, ErrEmptyCredential},
		{"empty bearer", Credentials{Bearer: strPtr("")}, ErrEmptyCredential},
		{"unknown secret", Credentials{DeviceSecret: strPtr("nope")}, ErrUnknownDevice},
		{"unknown device token", Credentials{Bearer: f.token(t, "ghost")}, ErrUnknownDevice},
		{"blocked", Credentials{DeviceSecret: strPtr("blocked-secret")}, ErrDeviceBlocked},
		{"not approved", Credentials{DeviceSecret: strPtr("pending-secret")}, ErrDeviceNotApproved},
		{"garbage token", Credentials{Bearer: strPtr("abc")}, ErrInvalidToken},
		{"operator token", Credentials{Bearer: &operator}, ErrWrongTokenType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gate.Authenticate(context.Background(), tt.creds)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGate_SecretOnly(t *testing.T) {
	f := newGateFixture(t)
	gate := NewDeviceGate(f.store, nil)

	_, err := gate.Authenticate(context.Background(), Credentials{Bearer: f.token(t, "approved")})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCredentialsFromMetadata(t *testing.T) {
	creds := CredentialsFromMetadata(metadata.Pairs("authorization", "Bearer abc", DeviceSecretHeader, "xyz"))
	require.NotNil(t, creds.Bearer)
	require.NotNil(t, creds.DeviceSecret)
	assert.Equal(t, "abc", *creds.Bearer)
	assert.Equal(t, "xyz", *creds.DeviceSecret)

	creds = CredentialsFromMetadata(metadata.Pairs("authorization", "Basic abc"))
	require.NotNil(t, creds.Bearer)
	assert.Equal(t, "", *creds.Bearer)

	creds = CredentialsFromMetadata(nil)
	assert.Nil(t, creds.Bearer)
	assert.Nil(t, creds.DeviceSecret)
}

func TestUnaryInterceptor(t *testing.T) {
	f := newGateFixture(t)
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_auth_failures"}, []string{"reason"})
	cfg := &InterceptorConfig{Gate: f.gate, Failures: failures, Public: []string{"/fleet.v1.FleetControl/Register"}}
	interceptor := UnaryInterceptor(cfg)

	var seen *AuthContext
	handler := func(ctx context.Context, req any) (any, error) {
		seen = FromContext(ctx)
		return "ok", nil
	}

	t.Run("public method skips auth", func(t *testing.T) {
		seen = nil
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/fleet.v1.FleetControl/Register"}, handler)
		require.NoError(t, err)
		assert.Nil(t, seen)
	})

	info := &grpc.UnaryServerInfo{FullMethod: "/fleet.v1.FleetControl/ReportResult"}

	t.Run("admitted", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(DeviceSecretHeader, "s3cret"))
		_, err := interceptor(ctx, nil, info, handler)
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, "approved", seen.PrincipalID)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("blocked is permission denied", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(DeviceSecretHeader, "blocked-secret"))
		_, err := interceptor(ctx, nil, info, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(failures.WithLabelValues("missing_credential")))
	assert.Equal(t, 1.0, testutil.ToFloat64(failures.WithLabelValues("blocked")))
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	f := newGateFixture(t)
	interceptor := StreamInterceptor(&InterceptorConfig{Gate: f.gate})
	info := &grpc.StreamServerInfo{FullMethod: "/fleet.v1.FleetControl/AgentStream"}

	var seen *AuthContext
	handler := func(srv any, ss grpc.ServerStream) error {
		seen = FromContext(ss.Context())
		return nil
	}

	md := metadata.Pairs("authorization", "Bearer "+*f.token(t, "approved"))
	err := interceptor(nil, &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}, info, handler)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "approved", seen.PrincipalID)

	md = metadata.Pairs("authorization", "Bearer "+*f.token(t, "pending"))
	err = interceptor(nil, &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}, info, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
