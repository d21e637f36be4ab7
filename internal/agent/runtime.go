// ABOUTME: fleet-agent runtime: module loading, registration, session and job execution
// ABOUTME: Drives the Starting → LoadingModules → Registering → Connected → Running → ShuttingDown states

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/fleetd/internal/auth"
	"github.com/2389/fleetd/internal/dedupe"
	"github.com/2389/fleetd/internal/device"
	"github.com/2389/fleetd/internal/module"
	pb "github.com/2389/fleetd/proto/fleet"
)

// ExitCodeFailure is reported for every job that did not succeed.
const ExitCodeFailure = -1

// reportTimeout bounds a result report, which outlives the job's context.
const reportTimeout = 10 * time.Second

// A job id delivered again within this window is not executed twice.
const (
	duplicateWindow = 30 * time.Minute
	duplicateLimit  = 4096
)

// State is the runtime's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateLoadingModules
	StateRegistering
	StateConnected
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateLoadingModules:
		return "loading_modules"
	case StateRegistering:
		return "registering"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// errNotAdmitted means the server refused the session before Welcome.
var errNotAdmitted = errors.New("session not admitted")

// Options wires a Runtime.
type Options struct {
	Config    *Config
	Client    pb.FleetControlClient
	Factories []module.Factory
	// Identity overrides CollectIdentity.
	Identity func() (device.Identity, error)
	Logger   *slog.Logger
}

// Runtime is one fleet-agent process.
type Runtime struct {
	cfg       *Config
	client    pb.FleetControlClient
	factories []module.Factory
	identity  func() (device.Identity, error)
	registry  *module.Registry
	seen      *dedupe.Window
	logger    *slog.Logger

	state atomic.Int32
	sem   chan struct{} // nil when unbounded
	jobs  sync.WaitGroup

	authMu   sync.RWMutex
	deviceID string
	token    string
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	identity := opts.Identity
	if identity == nil {
		identity = CollectIdentity
	}

	r := &Runtime{
		cfg:       opts.Config,
		client:    opts.Client,
		factories: opts.Factories,
		identity:  identity,
		seen:      dedupe.New(duplicateWindow, duplicateLimit),
		logger:    logger,
	}
	r.registry = module.NewRegistry(module.Context{
		Logger:   logger.With("component", "module"),
		Platform: device.ParsePlatform(runtime.GOOS),
		DataDir:  opts.Config.ModulesDir,
	}, logger)
	if n := opts.Config.MaxConcurrentJobs; n > 0 {
		r.sem = make(chan struct{}, n)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

func (r *Runtime) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		r.logger.Debug("state change", "from", prev, "to", s)
	}
}

// Registry exposes the module registry.
func (r *Runtime) Registry() *module.Registry {
	return r.registry
}

// DeviceID returns the id the server assigned, once registered.
func (r *Runtime) DeviceID() string {
	r.authMu.RLock()
	defer r.authMu.RUnlock()
	return r.deviceID
}

// Run loads modules, then registers and holds a session until ctx is
// canceled or the session ends without reconnect. In-flight jobs are waited
// for before Run returns. Errors are returned only for fatal startup failures.
func (r *Runtime) Run(ctx context.Context) error {
	r.setState(StateStarting)
	defer func() {
		r.setState(StateShuttingDown)
		r.jobs.Wait()
		r.logger.Info("agent stopped")
	}()

	if err := r.loadModules(ctx); err != nil {
		return err
	}

	ident, err := r.identity()
	if err != nil {
		return fmt.Errorf("collecting identity: %w", err)
	}
	r.logger.Info("device identity",
		"mac", ident.MACAddress,
		"hostname", ident.Hostname,
		"platform", ident.Platform,
		"os_version", ident.OSVersion,
		"ip", ident.IPAddress,
	)

	for {
		r.setState(StateRegistering)
		if err := r.register(ctx, ident); err != nil {
			return nil
		}

		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, errNotAdmitted):
			r.logger.Warn("session refused; retrying registration", "error", err, "retry_in", r.cfg.RegisterRetryInterval)
		case r.cfg.Reconnect:
			r.logger.Warn("session ended; reconnecting", "error", err, "retry_in", r.cfg.RegisterRetryInterval)
		default:
			r.logger.Warn("session ended; shutting down", "error", err)
			return nil
		}
		if !sleepCtx(ctx, r.cfg.RegisterRetryInterval) {
			return nil
		}
	}
}

func (r *Runtime) loadModules(ctx context.Context) error {
	r.setState(StateLoadingModules)
	if err := os.MkdirAll(r.cfg.ModulesDir, 0o755); err != nil {
		return fmt.Errorf("creating module directory: %w", err)
	}
	_, errs := r.registry.LoadAll(ctx, r.factories, r.cfg.ModulesDir)
	for _, err := range errs {
		r.logger.Warn("module load error", "error", err)
	}
	mods := r.registry.List()
	if len(mods) == 0 {
		r.logger.Warn("no modules loaded; every job will fail")
		return nil
	}
	names := make([]string, len(mods))
	for i, d := range mods {
		names[i] = d.Name + "@" + d.Version
	}
	r.logger.Info("resolution order", "modules", names)
	return nil
}

// register calls Register until the agent holds a credential for the session.
// Only ctx cancellation ends the loop.
func (r *Runtime) register(ctx context.Context, ident device.Identity) error {
	req := &pb.RegisterRequest{
		MacAddress: ident.MACAddress,
		Hostname:   ident.Hostname,
		Platform:   string(ident.Platform),
		OsVersion:  ident.OSVersion,
		IpAddress:  ident.IPAddress,
	}

	for {
		resp, err := r.client.Register(ctx, req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("registration failed", "error", err, "retry_in", r.cfg.RegisterRetryInterval)
		case resp.GetToken() != "" || r.cfg.DeviceSecret != "":
			r.authMu.Lock()
			r.deviceID, r.token = resp.GetDeviceId(), resp.GetToken()
			r.authMu.Unlock()
			r.logger.Info("registered", "device_id", resp.GetDeviceId(), "message", resp.GetMessage())
			return nil
		default:
			r.logger.Info("registration pending", "device_id", resp.GetDeviceId(), "message", resp.GetMessage(), "retry_in", r.cfg.RegisterRetryInterval)
		}

		if !sleepCtx(ctx, r.cfg.RegisterRetryInterval) {
			return ctx.Err()
		}
	}
}

// withCredentials attaches the session credential to outgoing metadata.
// A token takes precedence over the configured device secret.
func (r *Runtime) withCredentials(ctx context.Context) context.Context {
	r.authMu.RLock()
	token := r.token
	r.authMu.RUnlock()

	if token != "" {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	if r.cfg.DeviceSecret != "" {
		return metadata.AppendToOutgoingContext(ctx, auth.DeviceSecretHeader, r.cfg.DeviceSecret)
	}
	return ctx
}

// session opens the stream, waits for Welcome, then runs the heartbeat and
// the job listener until the stream ends. A job that arrives ahead of the
// Welcome is started like any other.
func (r *Runtime) session(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.client.AgentStream(r.withCredentials(streamCtx))
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	var welcome *pb.Welcome
	for welcome == nil {
		msg, err := stream.Recv()
		if err != nil {
			switch status.Code(err) {
			case codes.Unauthenticated, codes.PermissionDenied:
				return fmt.Errorf("%w: %v", errNotAdmitted, err)
			}
			return fmt.Errorf("waiting for welcome: %w", err)
		}
		welcome = msg.GetWelcome()
		if job := msg.GetJob(); job != nil {
			r.logger.Warn("job arrived before welcome", "job_id", job.GetJobId())
			r.accept(ctx, job, r.logger)
		}
	}

	r.setState(StateConnected)
	logger := r.logger.With("device_id", welcome.GetDeviceId(), "session_id", welcome.GetSessionId())
	logger.Info("=== SESSION ESTABLISHED ===")

	r.setState(StateRunning)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.heartbeat(streamCtx, stream, logger)
	}()

	err = r.listen(ctx, stream, logger)
	cancel()
	wg.Wait()
	return err
}

// heartbeat sends a Heartbeat every interval. It is the only sender on the stream.
func (r *Runtime) heartbeat(ctx context.Context, stream pb.FleetControl_AgentStreamClient, logger *slog.Logger) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := &pb.AgentMessage{Heartbeat: &pb.Heartbeat{TimestampMs: time.Now().UnixMilli()}}
			if err := stream.Send(hb); err != nil {
				logger.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

// listen receives jobs until the stream ends. Each job runs on its own goroutine.
func (r *Runtime) listen(ctx context.Context, stream pb.FleetControl_AgentStreamClient, logger *slog.Logger) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("stream closed: %w", err)
		}
		if job := msg.GetJob(); job != nil {
			r.accept(ctx, job, logger)
		}
	}
}

// accept starts job unless the same id was delivered recently.
func (r *Runtime) accept(ctx context.Context, job *pb.JobInvocation, logger *slog.Logger) {
	if r.seen.Seen(job.GetJobId()) {
		logger.Warn("duplicate job delivery ignored", "job_id", job.GetJobId())
		return
	}
	logger.Info("job received", "job_id", job.GetJobId(), "command", job.GetCommand())
	r.startJob(ctx, job)
}

func (r *Runtime) startJob(ctx context.Context, job *pb.JobInvocation) {
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		if r.sem != nil {
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				r.report(ctx, job.GetJobId(), ExitCodeFailure, "job cancelled: agent shutting down")
				return
			}
		}
		r.HandleJob(ctx, job)
	}()
}

// HandleJob executes job and reports its result.
func (r *Runtime) HandleJob(ctx context.Context, job *pb.JobInvocation) {
	code, output := r.ExecuteJob(ctx, job)
	r.report(ctx, job.GetJobId(), code, output)
}

// ExecuteJob resolves and runs job, returning the exit code and output to report.
// It never panics and never blocks past the job timeout.
func (r *Runtime) ExecuteJob(ctx context.Context, job *pb.JobInvocation) (int, string) {
	command := job.GetCommand()
	logger := r.logger.With("job_id", job.GetJobId(), "command", command)

	mod, ok := r.registry.Resolve(command)
	if !ok {
		logger.Warn("no module for command")
		return ExitCodeFailure, fmt.Sprintf("No module found to handle command '%s'.", command)
	}

	params := ParseArguments(job.GetArguments())
	if job.HasScript() {
		params[module.ScriptParam] = job.GetScript()
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	res, err := r.execute(jobCtx, mod, command, params)
	logger = logger.With("module", mod.Name(), "duration", time.Since(started))

	if err != nil {
		switch {
		case ctx.Err() != nil:
			logger.Warn("job cancelled")
			return ExitCodeFailure, "job cancelled: agent shutting down"
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			logger.Warn("job timed out", "timeout", r.cfg.JobTimeout)
			return ExitCodeFailure, fmt.Sprintf("job timed out after %s", r.cfg.JobTimeout)
		}
		logger.Warn("job failed", "error", err)
		return ExitCodeFailure, err.Error()
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("module %s reported failure", mod.Name())
		}
		logger.Info("job failed", "error", msg)
		return ExitCodeFailure, msg
	}

	logger.Info("job succeeded")
	return 0, FormatOutput(res.Data)
}

// execute runs mod.Execute on its own goroutine so a module that ignores ctx
// cannot hold the job past its deadline. Panics become errors.
func (r *Runtime) execute(ctx context.Context, mod module.Module, command string, params map[string]string) (module.Result, error) {
	type outcome struct {
		res module.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("module %s panicked: %v", mod.Name(), p)}
			}
		}()
		res, err := mod.Execute(ctx, command, params)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil {
			return module.Result{}, ctx.Err()
		}
		return o.res, o.err
	case <-ctx.Done():
		return module.Result{}, ctx.Err()
	}
}

// report sends a job result on a context detached from cancellation so results
// of jobs interrupted by shutdown still reach the server.
func (r *Runtime) report(ctx context.Context, jobID string, code int, output string) {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	_, err := r.client.ReportResult(r.withCredentials(reportCtx), &pb.JobResult{
		JobId:    jobID,
		ExitCode: int32(code),
		Output:   output,
	})
	if err != nil {
		r.logger.Error("reporting job result", "job_id", jobID, "exit_code", code, "error", err)
		return
	}
	r.logger.Debug("job result reported", "job_id", jobID, "exit_code", code)
}

// FormatOutput renders module result data: strings verbatim, other values
// as JSON, and fmt formatting when JSON encoding fails.
func FormatOutput(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(b)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
