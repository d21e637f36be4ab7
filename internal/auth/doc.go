// Package auth authenticates devices and operators for fleet-server.
//
// # Device Authentication
//
// Gate.Authenticate takes the credentials a device presented and returns an
// AuthContext. It does not depend on gRPC; the interceptors in this package
// only translate metadata into Credentials and errors into status codes.
//
// Schemes are tried in order:
//
//   - device-secret: the x-device-secret metadata value, hashed with
//     BLAKE2b-256 and looked up in the store
//   - bearer: an HS256 JWT issued at registration, sub = device id, typ = device
//
// A scheme whose credential is absent yields ErrNoCredential and the next one
// is tried. A present but empty credential fails immediately, as does an
// unknown device, a blocked device, or an unapproved device.
//
// # gRPC Interceptors
//
//	cfg := &auth.InterceptorConfig{Gate: gate, Logger: logger, Public: []string{registerMethod}}
//	grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(cfg))
//	grpc.ChainStreamInterceptor(auth.StreamInterceptor(cfg))
//
// Blocked and unapproved devices get PermissionDenied; every other refusal is
// Unauthenticated.
//
// # Operator API
//
// OperatorMiddleware guards the HTTP API with typ=operator tokens. Tokens are
// minted with `fleet-server token`.
package auth
