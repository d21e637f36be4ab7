// Package gateway orchestrates the fleet-server components.
//
// # Overview
//
// The gateway package is the central coordinator of fleet-server. It owns
// the store, the session tracker, the job dispatcher, the registration
// service, the gRPC server agents connect to, and the HTTP server operators
// use.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config      *config.Config
//	    store       store.Store
//	    tracker     *session.Tracker
//	    dispatcher  *dispatch.Dispatcher
//	    enroller    *enroll.Service
//	    issuer      *auth.JWTIssuer
//	    events      events.Publisher
//	    grpcServer  *grpc.Server
//	    httpServer  *http.Server
//	    // ...
//	}
//
// # gRPC Service
//
// The gateway implements FleetControl:
//
//	service FleetControl {
//	    rpc Register(RegisterRequest) returns (RegisterResponse);
//	    rpc AgentStream(stream AgentMessage) returns (stream ServerMessage);
//	    rpc ReportResult(JobResult) returns (google.protobuf.Empty);
//	}
//
// Register is public. AgentStream and ReportResult pass through the device
// gate in the auth interceptors, which accepts an x-device-secret header or a
// device bearer token. Blocked and unapproved devices are refused before the
// handler runs.
//
// A device has at most one session. A reconnect replaces the older session,
// and only the stream that still owns the tracker entry marks the device
// offline when it ends.
//
// # HTTP API
//
// Operator endpoints in api.go require an operator bearer token when
// auth.jwt_secret is set:
//
//   - GET /api/devices - List devices with their live session
//   - GET /api/devices/{id} - One device
//   - POST /api/devices/{id}/approve - Approve a device
//   - POST /api/devices/{id}/status - Change device status
//   - POST /api/devices/{id}/secret - Issue a new device secret
//   - GET /api/devices/{id}/jobs - Recent jobs of a device
//   - POST /api/jobs - Dispatch a job
//   - GET /api/jobs/{id} - One job with its status history
//   - GET /api/sessions - Live sessions
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//   - GET /metrics - Prometheus metrics when enabled
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	err = gw.Run(ctx) // blocks, shuts down on cancel
//
// When tailscale.enabled is set the gateway joins the tailnet with tsnet and
// listens on :50051 (gRPC) and :80 (HTTP) there instead of the configured
// addresses.
package gateway
