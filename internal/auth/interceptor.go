// ABOUTME: gRPC interceptors that admit device calls through the Gate
// ABOUTME: Extracts credentials from metadata and populates context for handlers

package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// DeviceSecretHeader is the metadata key carrying a device secret.
const DeviceSecretHeader = "x-device-secret"

// InterceptorConfig configures the gRPC interceptors.
type InterceptorConfig struct {
	Gate   *Gate
	Logger *slog.Logger
	// Failures, when set, is incremented with a "reason" label per refusal.
	Failures *prometheus.CounterVec
	// Public lists full method names that skip authentication.
	Public []string
}

func (c *InterceptorConfig) isPublic(method string) bool {
	for _, m := range c.Public {
		if m == method {
			return true
		}
	}
	return false
}

// logAuthFailure logs an authentication failure with structured context.
func (c *InterceptorConfig) logAuthFailure(ctx context.Context, method string, err error) {
	reason := FailureReason(err)
	if c.Failures != nil {
		c.Failures.WithLabelValues(reason).Inc()
	}
	if c.Logger == nil {
		return
	}
	attrs := []any{"reason", reason, "method", method, "error", err.Error()}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	c.Logger.Warn("auth failure", attrs...)
}

// CredentialsFromMetadata extracts device credentials from gRPC metadata.
func CredentialsFromMetadata(md metadata.MD) Credentials {
	var creds Credentials
	if v := md.Get(DeviceSecretHeader); len(v) > 0 {
		s := v[0]
		creds.DeviceSecret = &s
	}
	if v := md.Get("authorization"); len(v) > 0 {
		token := v[0]
		if strings.HasPrefix(token, "Bearer ") {
			token = strings.TrimPrefix(token, "Bearer ")
		} else {
			// Not a bearer header; treat as present but unusable.
			token = ""
		}
		creds.Bearer = &token
	}
	return creds
}

// authStatus converts a gate error into a gRPC status error.
func authStatus(err error) error {
	switch FailureReason(err) {
	case "blocked", "not_approved":
		return status.Error(codes.PermissionDenied, err.Error())
	case "internal":
		return status.Errorf(codes.Internal, "authenticating: %v", err)
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	authCtx, err := c.Gate.Authenticate(ctx, CredentialsFromMetadata(md))
	if err != nil {
		c.logAuthFailure(ctx, method, err)
		return nil, authStatus(err)
	}
	return WithAuth(ctx, authCtx), nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates devices.
func UnaryInterceptor(cfg *InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if cfg.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := cfg.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates devices.
func StreamInterceptor(cfg *InterceptorConfig) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if cfg.isPublic(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := cfg.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
