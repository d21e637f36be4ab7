// ABOUTME: Client and server bindings for the fleet.v1.FleetControl gRPC service
// ABOUTME: Written in protoc-gen-go-grpc shape so callers use the familiar generated API

package fleet

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	FleetControl_Register_FullMethodName     = "/fleet.v1.FleetControl/Register"
	FleetControl_AgentStream_FullMethodName  = "/fleet.v1.FleetControl/AgentStream"
	FleetControl_ReportResult_FullMethodName = "/fleet.v1.FleetControl/ReportResult"
)

// FleetControlClient is the client API for FleetControl service.
type FleetControlClient interface {
	// Register announces a device and returns its id and, when approved, a token.
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	// AgentStream is the long-lived authenticated session.
	AgentStream(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[AgentMessage, ServerMessage], error)
	// ReportResult delivers the outcome of a job.
	ReportResult(ctx context.Context, in *JobResult, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type fleetControlClient struct {
	cc grpc.ClientConnInterface
}

func NewFleetControlClient(cc grpc.ClientConnInterface) FleetControlClient {
	return &fleetControlClient{cc}
}

func (c *fleetControlClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	cOpts := append([]grpc.CallOption{CallOption()}, opts...)
	out := new(RegisterResponse)
	err := c.cc.Invoke(ctx, FleetControl_Register_FullMethodName, in, out, cOpts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fleetControlClient) AgentStream(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[AgentMessage, ServerMessage], error) {
	cOpts := append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &FleetControl_ServiceDesc.Streams[0], FleetControl_AgentStream_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[AgentMessage, ServerMessage]{ClientStream: stream}
	return x, nil
}

// FleetControl_AgentStreamClient is the client side of AgentStream.
type FleetControl_AgentStreamClient = grpc.BidiStreamingClient[AgentMessage, ServerMessage]

func (c *fleetControlClient) ReportResult(ctx context.Context, in *JobResult, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	cOpts := append([]grpc.CallOption{CallOption()}, opts...)
	out := new(emptypb.Empty)
	err := c.cc.Invoke(ctx, FleetControl_ReportResult_FullMethodName, in, out, cOpts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FleetControlServer is the server API for FleetControl service.
// All implementations must embed UnimplementedFleetControlServer
// for forward compatibility.
type FleetControlServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	AgentStream(grpc.BidiStreamingServer[AgentMessage, ServerMessage]) error
	ReportResult(context.Context, *JobResult) (*emptypb.Empty, error)
	mustEmbedUnimplementedFleetControlServer()
}

// UnimplementedFleetControlServer must be embedded to have
// forward compatible implementations.
type UnimplementedFleetControlServer struct{}

func (UnimplementedFleetControlServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedFleetControlServer) AgentStream(grpc.BidiStreamingServer[AgentMessage, ServerMessage]) error {
	return status.Errorf(codes.Unimplemented, "method AgentStream not implemented")
}
func (UnimplementedFleetControlServer) ReportResult(context.Context, *JobResult) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReportResult not implemented")
}
func (UnimplementedFleetControlServer) mustEmbedUnimplementedFleetControlServer() {}

// FleetControl_AgentStreamServer is the server side of AgentStream.
type FleetControl_AgentStreamServer = grpc.BidiStreamingServer[AgentMessage, ServerMessage]

func RegisterFleetControlServer(s grpc.ServiceRegistrar, srv FleetControlServer) {
	s.RegisterService(&FleetControl_ServiceDesc, srv)
}

func _FleetControl_Register_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FleetControlServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FleetControl_Register_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FleetControlServer).Register(ctx, req.(*RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FleetControl_AgentStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(FleetControlServer).AgentStream(&grpc.GenericServerStream[AgentMessage, ServerMessage]{ServerStream: stream})
}

func _FleetControl_ReportResult_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(JobResult)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FleetControlServer).ReportResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FleetControl_ReportResult_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FleetControlServer).ReportResult(ctx, req.(*JobResult))
	}
	return interceptor(ctx, in, info, handler)
}

// FleetControl_ServiceDesc is the grpc.ServiceDesc for FleetControl service.
var FleetControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleet.v1.FleetControl",
	HandlerType: (*FleetControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Register",
			Handler:    _FleetControl_Register_Handler,
		},
		{
			MethodName: "ReportResult",
			Handler:    _FleetControl_ReportResult_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AgentStream",
			Handler:       _FleetControl_AgentStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "fleet/v1/fleet.proto",
}
