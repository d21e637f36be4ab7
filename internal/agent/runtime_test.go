// ABOUTME: Unit tests for job execution, result reporting and concurrency limits
// ABOUTME: Uses an in-memory FleetControl client and scripted modules

package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/fleetd/internal/module"
	pb "github.com/2389/fleetd/proto/fleet"
)

// fakeClient records reported results. Register and AgentStream are unused here.
type fakeClient struct {
	mu      sync.Mutex
	results []*pb.JobResult
	md      []metadata.MD
}

func (f *fakeClient) Register(context.Context, *pb.RegisterRequest, ...grpc.CallOption) (*pb.RegisterResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) AgentStream(context.Context, ...grpc.CallOption) (grpc.BidiStreamingClient[pb.AgentMessage, pb.ServerMessage], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReportResult(ctx context.Context, in *pb.JobResult, _ ...grpc.CallOption) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, _ := metadata.FromOutgoingContext(ctx)
	f.results = append(f.results, in)
	f.md = append(f.md, md)
	return &emptypb.Empty{}, nil
}

func (f *fakeClient) Results() []*pb.JobResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*pb.JobResult(nil), f.results...)
}

// funcModule is a module whose behavior is a function.
type funcModule struct {
	name     string
	commands []string
	fn       func(ctx context.Context, command string, params map[string]string) (module.Result, error)
}

func (m *funcModule) Name() string              { return m.name }
func (m *funcModule) Version() string           { return "test" }
func (m *funcModule) Init(module.Context) error { return nil }

func (m *funcModule) CanHandle(command string) bool {
	for _, c := range m.commands {
		if c == command {
			return true
		}
	}
	return false
}

func (m *funcModule) Execute(ctx context.Context, command string, params map[string]string) (module.Result, error) {
	return m.fn(ctx, command, params)
}

func testAgentConfig(t *testing.T) *Config {
	return &Config{
		ServerAddr:            "bufnet",
		ModulesDir:            t.TempDir(),
		RegisterRetryInterval: 50 * time.Millisecond,
		HeartbeatInterval:     50 * time.Millisecond,
		JobTimeout:            5 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, cfg *Config, client pb.FleetControlClient, mods ...module.Module) *Runtime {
	t.Helper()
	var factories []module.Factory
	for _, m := range mods {
		factories = append(factories, func() (module.Module, error) { return m, nil })
	}
	r := New(Options{Config: cfg, Client: client, Factories: factories, Logger: discardLogger()})
	_, errs := r.Registry().LoadAll(context.Background(), factories, "")
	require.Empty(t, errs)
	return r
}

func constModule(command string, res module.Result, err error) *funcModule {
	return &funcModule{name: command + "-mod", commands: []string{command}, fn: func(context.Context, string, map[string]string) (module.Result, error) {
		return res, err
	}}
}

func TestExecuteJob_UnknownCommand(t *testing.T) {
	r := newTestRuntime(t, testAgentConfig(t), &fakeClient{})

	code, out := r.ExecuteJob(context.Background(), &pb.JobInvocation{JobId: "j1", Command: "Reboot"})
	assert.Equal(t, -1, code)
	assert.Equal(t, "No module found to handle command 'Reboot'.", out)
}

func TestExecuteJob_Outcomes(t *testing.T) {
	type payload struct {
		Free int `json:"free"`
	}
	tests := []struct {
		name     string
		mod      *funcModule
		wantCode int
		wantOut  string
	}{
		{"string verbatim", constModule("A", module.OK("plain text\n"), nil), 0, "plain text\n"},
		{"struct as json", constModule("A", module.OK(payload{Free: 7}), nil), 0, `{"free":7}`},
		{"unencodable falls back to fmt", constModule("A", module.OK(make(chan int)), nil), 0, ""},
		{"nil data", constModule("A", module.OK(nil), nil), 0, ""},
		{"failure result", constModule("A", module.Fail("disk full"), nil), -1, "disk full"},
		{"failure without message", constModule("A", module.Result{}, nil), -1, "module A-mod reported failure"},
		{"execute error", constModule("A", module.Result{}, errors.New("device busy")), -1, "device busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRuntime(t, testAgentConfig(t), &fakeClient{}, tt.mod)
			code, out := r.ExecuteJob(context.Background(), &pb.JobInvocation{JobId: "j", Command: "A"})
			assert.Equal(t, tt.wantCode, code)
			if tt.name == "unencodable falls back to fmt" {
				assert.Contains(t, out, "0x")
				return
			}
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestExecuteJob_PassesArgumentsAndScript(t *testing.T) {
	var got map[string]string
	mod := &funcModule{name: "capture", commands: []string{"RunScript"}, fn: func(_ context.Context, _ string, params map[string]string) (module.Result, error) {
		got = params
		return module.OK("ok"), nil
	}}
	r := newTestRuntime(t, testAgentConfig(t), &fakeClient{}, mod)

	script := "echo hi"
	code, _ := r.ExecuteJob(context.Background(), &pb.JobInvocation{
		JobId:     "j",
		Command:   "RunScript",
		Arguments: "shell=bash verbose",
		Script:    &script,
	})
	require.Equal(t, 0, code)
	assert.Equal(t, map[string]string{"shell": "bash", "arg0": "verbose", module.ScriptParam: "echo hi"}, got)
}

func TestExecuteJob_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := &funcModule{name: "stuck", commands: []string{"Hang"}, fn: func(context.Context, string, map[string]string) (module.Result, error) {
		<-release
		return module.OK("late"), nil
	}}
	cfg := testAgentConfig(t)
	cfg.JobTimeout = 50 * time.Millisecond
	r := newTestRuntime(t, cfg, &fakeClient{}, stuck)

	start := time.Now()
	code, out := r.ExecuteJob(context.Background(), &pb.JobInvocation{JobId: "j", Command: "Hang"})
	assert.Equal(t, -1, code)
	assert.Equal(t, "job timed out after 50ms", out)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteJob_Cancelled(t *testing.T) {
	blocking := &funcModule{name: "blocking", commands: []string{"Wait"}, fn: func(ctx context.Context, _ string, _ map[string]string) (module.Result, error) {
		<-ctx.Done()
		return module.Result{}, ctx.Err()
	}}
	r := newTestRuntime(t, testAgentConfig(t), &fakeClient{}, blocking)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	code, out := r.ExecuteJob(ctx, &pb.JobInvocation{JobId: "j", Command: "Wait"})
	assert.Equal(t, -1, code)
	assert.Equal(t, "job cancelled: agent shutting down", out)
}

func TestExecuteJob_PanicRecovered(t *testing.T) {
	bad := &funcModule{name: "bad", commands: []string{"Crash"}, fn: func(context.Context, string, map[string]string) (module.Result, error) {
		panic("nil map write")
	}}
	r := newTestRuntime(t, testAgentConfig(t), &fakeClient{}, bad)

	code, out := r.ExecuteJob(context.Background(), &pb.JobInvocation{JobId: "j", Command: "Crash"})
	assert.Equal(t, -1, code)
	assert.Contains(t, out, "module bad panicked: nil map write")
}

func TestHandleJob_ReportsWithCredentials(t *testing.T) {
	client := &fakeClient{}
	cfg := testAgentConfig(t)
	cfg.DeviceSecret = "device-secret"
	r := newTestRuntime(t, cfg, client, constModule("Ping", module.OK("pong"), nil))

	r.HandleJob(context.Background(), &pb.JobInvocation{JobId: "job-1", Command: "Ping"})

	results := client.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "job-1", results[0].GetJobId())
	assert.Equal(t, int32(0), results[0].GetExitCode())
	assert.Equal(t, "pong", results[0].GetOutput())
	assert.Equal(t, []string{"device-secret"}, client.md[0].Get("x-device-secret"))

	r.authMu.Lock()
	r.token = "tok"
	r.authMu.Unlock()
	r.HandleJob(context.Background(), &pb.JobInvocation{JobId: "job-2", Command: "Ping"})
	assert.Equal(t, []string{"Bearer tok"}, client.md[1].Get("authorization"))
	assert.Empty(t, client.md[1].Get("x-device-secret"))
}

func TestHandleJob_ReportsAfterCancellation(t *testing.T) {
	client := &fakeClient{}
	r := newTestRuntime(t, testAgentConfig(t), client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.HandleJob(ctx, &pb.JobInvocation{JobId: "job-x", Command: "Unknown"})

	require.Len(t, client.Results(), 1)
	assert.Equal(t, int32(-1), client.Results()[0].GetExitCode())
}

func TestStartJob_MaxConcurrentJobs(t *testing.T) {
	var running, peak atomic.Int32
	slow := &funcModule{name: "slow", commands: []string{"Slow"}, fn: func(context.Context, string, map[string]string) (module.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return module.OK("done"), nil
	}}

	client := &fakeClient{}
	cfg := testAgentConfig(t)
	cfg.MaxConcurrentJobs = 1
	r := newTestRuntime(t, cfg, client, slow)

	for _, id := range []string{"a", "b", "c"} {
		r.startJob(context.Background(), &pb.JobInvocation{JobId: id, Command: "Slow"})
	}
	r.jobs.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, client.Results(), 3)
}

func TestStartJob_UnboundedByDefault(t *testing.T) {
	var running atomic.Int32
	barrier := make(chan struct{})
	wide := &funcModule{name: "wide", commands: []string{"Wide"}, fn: func(context.Context, string, map[string]string) (module.Result, error) {
		if running.Add(1) == 3 {
			close(barrier)
		}
		select {
		case <-barrier:
			return module.OK("ok"), nil
		case <-time.After(2 * time.Second):
			return module.Fail("jobs did not run concurrently"), nil
		}
	}}

	client := &fakeClient{}
	r := newTestRuntime(t, testAgentConfig(t), client, wide)
	for _, id := range []string{"a", "b", "c"} {
		r.startJob(context.Background(), &pb.JobInvocation{JobId: id, Command: "Wide"})
	}
	r.jobs.Wait()

	for _, res := range client.Results() {
		assert.Equal(t, int32(0), res.GetExitCode(), res.GetOutput())
	}
}

func TestFormatOutput(t *testing.T) {
	assert.Equal(t, "", FormatOutput(nil))
	assert.Equal(t, "raw", FormatOutput("raw"))
	assert.Equal(t, "bytes", FormatOutput([]byte("bytes")))
	assert.Equal(t, `{"a":1}`, FormatOutput(map[string]int{"a": 1}))
	assert.Equal(t, "42", FormatOutput(42))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "registering", StateRegistering.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "state(42)", State(42).String())
}

// scriptedStream replays msgs from Recv, then returns io.EOF.
type scriptedStream struct {
	grpc.BidiStreamingClient[pb.AgentMessage, pb.ServerMessage]
	msgs []*pb.ServerMessage
}

func (s *scriptedStream) Send(*pb.AgentMessage) error { return nil }

func (s *scriptedStream) Recv() (*pb.ServerMessage, error) {
	if len(s.msgs) == 0 {
		return nil, io.EOF
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestListen_IgnoresDuplicateDelivery(t *testing.T) {
	client := &fakeClient{}
	r := newTestRuntime(t, testAgentConfig(t), client, constModule("Ping", module.OK("pong"), nil))

	job := &pb.JobInvocation{JobId: "dup-1", Command: "Ping"}
	stream := &scriptedStream{msgs: []*pb.ServerMessage{
		{Job: job},
		{Job: job},
		{Job: &pb.JobInvocation{JobId: "other", Command: "Ping"}},
	}}

	err := r.listen(context.Background(), stream, discardLogger())
	require.ErrorIs(t, err, io.EOF)
	r.jobs.Wait()

	ids := map[string]int{}
	for _, res := range client.Results() {
		ids[res.GetJobId()]++
	}
	assert.Equal(t, map[string]int{"dup-1": 1, "other": 1}, ids)
}

// streamClient hands out a fixed stream and records results like fakeClient.
type streamClient struct {
	fakeClient
	stream *scriptedStream
}

func (c *streamClient) AgentStream(context.Context, ...grpc.CallOption) (grpc.BidiStreamingClient[pb.AgentMessage, pb.ServerMessage], error) {
	return c.stream, nil
}

func TestSession_RunsJobDeliveredBeforeWelcome(t *testing.T) {
	client := &streamClient{stream: &scriptedStream{msgs: []*pb.ServerMessage{
		{Job: &pb.JobInvocation{JobId: "early", Command: "Ping"}},
		{Welcome: &pb.Welcome{DeviceId: "dev-1", SessionId: "sess-1"}},
		{Job: &pb.JobInvocation{JobId: "late", Command: "Ping"}},
	}}}
	r := newTestRuntime(t, testAgentConfig(t), client, constModule("Ping", module.OK("pong"), nil))

	err := r.session(context.Background())
	require.ErrorIs(t, err, io.EOF)
	r.jobs.Wait()

	got := map[string]int32{}
	for _, res := range client.Results() {
		assert.Equal(t, "pong", res.GetOutput())
		got[res.GetJobId()] = res.GetExitCode()
	}
	assert.Equal(t, map[string]int32{"early": 0, "late": 0}, got)
	assert.Equal(t, StateRunning, r.State())
}

func TestSession_StreamEndsBeforeWelcome(t *testing.T) {
	client := &streamClient{stream: &scriptedStream{msgs: []*pb.ServerMessage{
		{Job: &pb.JobInvocation{JobId: "orphan", Command: "Ping"}},
	}}}
	r := newTestRuntime(t, testAgentConfig(t), client, constModule("Ping", module.OK("pong"), nil))

	err := r.session(context.Background())
	require.ErrorContains(t, err, "waiting for welcome")
	r.jobs.Wait()

	results := client.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "orphan", results[0].GetJobId())
}

func TestLoadModules_LogsResolutionOrder(t *testing.T) {
	var buf bytes.Buffer
	cfg := testAgentConfig(t)
	r := New(Options{
		Config: cfg,
		Client: &fakeClient{},
		Factories: []module.Factory{
			func() (module.Module, error) { return constModule("Ping", module.OK("pong"), nil), nil },
		},
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
	})

	require.NoError(t, r.loadModules(context.Background()))
	assert.Contains(t, buf.String(), "resolution order")
	assert.Contains(t, buf.String(), "Ping-mod@test")
}
