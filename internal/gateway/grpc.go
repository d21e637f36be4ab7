// ABOUTME: FleetControl gRPC service implementation for device agents
// ABOUTME: Handles registration, the long-lived session stream, and job result reports

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/fleetd/internal/auth"
	"github.com/2389/fleetd/internal/device"
	"github.com/2389/fleetd/internal/dispatch"
	"github.com/2389/fleetd/internal/enroll"
	"github.com/2389/fleetd/internal/events"
	"github.com/2389/fleetd/internal/session"
	"github.com/2389/fleetd/internal/store"
	pb "github.com/2389/fleetd/proto/fleet"
)

// fleetControlServer implements the FleetControl gRPC service.
type fleetControlServer struct {
	pb.UnimplementedFleetControlServer
	gateway *Gateway
	logger  *slog.Logger
}

// newFleetControlServer creates a new FleetControl service instance.
func newFleetControlServer(gw *Gateway, logger *slog.Logger) *fleetControlServer {
	return &fleetControlServer{
		gateway: gw,
		logger:  logger,
	}
}

// Register enrolls or refreshes a device. It is the only unauthenticated RPC.
func (s *fleetControlServer) Register(ctx context.Context, req *pb.RegisterRequest) (*pb.RegisterResponse, error) {
	ident := device.Identity{
		MACAddress: req.GetMacAddress(),
		Hostname:   req.GetHostname(),
		Platform:   device.ParsePlatform(req.GetPlatform()),
		OSVersion:  req.GetOsVersion(),
		IPAddress:  req.GetIpAddress(),
	}

	out, err := s.gateway.enroller.Register(ctx, ident)
	if err != nil {
		if errors.Is(err, enroll.ErrInvalidIdentity) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("registration failed", "mac", req.GetMacAddress(), "error", err)
		return nil, status.Error(codes.Internal, "registration failed")
	}

	return &pb.RegisterResponse{
		DeviceId: out.Device.ID,
		Token:    out.Token,
		Message:  out.Message,
	}, nil
}

// AgentStream holds one authenticated device session open.
// Protocol flow:
// 1. Interceptor admits the device through the gate
// 2. Server sends Welcome, then tracks the session so jobs can be pushed
// 3. Agent sends Heartbeat messages; server pushes JobInvocation messages
// 4. Stream end removes the session and marks the device offline
func (s *fleetControlServer) AgentStream(stream pb.FleetControl_AgentStreamServer) error {
	ctx := stream.Context()
	authCtx := auth.FromContext(ctx)
	if !authCtx.IsDevice() {
		return status.Error(codes.Unauthenticated, "device credentials required")
	}
	deviceID := authCtx.PrincipalID
	gw := s.gateway

	sess := session.New(deviceID, stream)
	logger := s.logger.With("device_id", deviceID, "session_id", sess.ID)

	welcome := &pb.ServerMessage{Welcome: &pb.Welcome{
		DeviceId:            deviceID,
		SessionId:           sess.ID,
		HeartbeatIntervalMs: gw.config.Agents.HeartbeatInterval.Milliseconds(),
	}}
	if err := sess.Send(welcome); err != nil {
		sess.Close()
		logger.Warn("sending welcome", "error", err)
		return status.Errorf(codes.Unavailable, "sending welcome: %v", err)
	}

	defer s.endSession(ctx, sess, logger)
	if err := s.admit(ctx, sess); err != nil {
		logger.Error("marking device online", "error", err)
		return status.Error(codes.Internal, "marking device online")
	}
	s.publishDevice(ctx, events.KindDeviceOnline, deviceID, logger)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				logger.Debug("stream ended by agent")
				return nil
			}
			logger.Debug("stream receive error", "error", err)
			return err
		}

		if hb := msg.GetHeartbeat(); hb != nil {
			if err := gw.store.TouchDevice(ctx, deviceID, time.Now().UTC()); err != nil {
				logger.Warn("recording heartbeat", "error", err)
			}
		}
	}
}

// admit makes sess the device's current session and marks the device online.
// It runs only after Welcome is on the wire, so dispatch never reaches a
// session whose first frame has not been sent.
func (s *fleetControlServer) admit(ctx context.Context, sess *session.Session) error {
	gw := s.gateway
	gw.presence.Lock()
	defer gw.presence.Unlock()

	if replaced := gw.tracker.Add(sess); replaced != nil {
		replaced.Close()
	}
	return gw.store.MarkDeviceOnline(ctx, sess.DeviceID, time.Now().UTC())
}

// endSession closes sess and, if it is still the device's current session,
// removes it and marks the device offline.
func (s *fleetControlServer) endSession(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	sess.Close()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	gw := s.gateway
	gw.presence.Lock()
	removed := gw.tracker.Remove(sess.DeviceID, sess.ID)
	if removed {
		if err := gw.store.MarkDeviceOffline(cleanupCtx, sess.DeviceID); err != nil {
			logger.Error("marking device offline", "error", err)
		}
	}
	gw.presence.Unlock()

	if !removed {
		logger.Debug("session already replaced; leaving device online")
		return
	}
	s.publishDevice(cleanupCtx, events.KindDeviceOffline, sess.DeviceID, logger)
}

func (s *fleetControlServer) publishDevice(ctx context.Context, kind, deviceID string, logger *slog.Logger) {
	ev := events.Event{Kind: kind, DeviceID: deviceID, At: time.Now().UTC()}
	if err := s.gateway.events.Publish(ctx, ev); err != nil {
		logger.Warn("publishing device event", "kind", kind, "error", err)
	}
}

// ReportResult records the outcome of a job the calling device ran.
func (s *fleetControlServer) ReportResult(ctx context.Context, res *pb.JobResult) (*emptypb.Empty, error) {
	authCtx := auth.FromContext(ctx)
	if !authCtx.IsDevice() {
		return nil, status.Error(codes.Unauthenticated, "device credentials required")
	}
	if res.GetJobId() == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}

	_, err := s.gateway.dispatcher.CompleteJob(ctx, authCtx.PrincipalID, res.GetJobId(), int(res.GetExitCode()), res.GetOutput())
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, dispatch.ErrJobNotFound):
		return nil, status.Error(codes.NotFound, err.Error())
	case errors.Is(err, dispatch.ErrJobNotOwned):
		return nil, status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	default:
		s.logger.Error("recording job result", "job_id", res.GetJobId(), "device_id", authCtx.PrincipalID, "error", err)
		return nil, status.Error(codes.Internal, "recording job result")
	}
}
