// ABOUTME: Persists jobs and pushes them to the target device's live session
// ABOUTME: Also ingests job results and drives the job status transitions

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/fleetd/internal/events"
	"github.com/2389/fleetd/internal/metrics"
	"github.com/2389/fleetd/internal/session"
	"github.com/2389/fleetd/internal/store"
	pb "github.com/2389/fleetd/proto/fleet"
)

// DefaultMaxOutputBytes caps stored job output when no limit is configured.
const DefaultMaxOutputBytes = 64 * 1024

// Dispatch errors
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceNotApproved = errors.New("device is not approved")
	ErrDeviceBlocked     = errors.New("device is blocked")
	ErrEmptyCommand      = errors.New("command is required")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotOwned       = errors.New("job belongs to another device")
)

// Delivery describes what happened to a job after it was stored.
type Delivery string

const (
	// DeliveryPushed means the job reached the device's session and is running.
	DeliveryPushed Delivery = "pushed"
	// DeliveryQueued means the device was offline; the job stays pending.
	DeliveryQueued Delivery = "queued"
	// DeliveryPushFailed means the push errored; the job stays pending.
	DeliveryPushFailed Delivery = "push_failed"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	GetDevice(ctx context.Context, id string) (*store.Device, error)
	CreateJob(ctx context.Context, job *store.Job) error
	GetJob(ctx context.Context, id string) (*store.Job, error)
	TransitionJob(ctx context.Context, id string, to store.JobStatus, outcome *store.JobOutcome) (*store.Job, error)
}

// Request is one job to dispatch.
type Request struct {
	DeviceID  string
	Command   string
	Arguments string
	Script    *string
}

// Result is the stored job and how it was delivered.
type Result struct {
	Job      *store.Job
	Delivery Delivery
}

// Config wires a Dispatcher.
type Config struct {
	Store          Store
	Tracker        *session.Tracker
	Events         events.Publisher // optional
	Metrics        *metrics.Metrics // optional
	MaxOutputBytes int              // 0 selects DefaultMaxOutputBytes
	Logger         *slog.Logger
}

// Dispatcher creates jobs and routes them to connected devices.
type Dispatcher struct {
	store     Store
	tracker   *session.Tracker
	events    events.Publisher
	metrics   *metrics.Metrics
	maxOutput int
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:     cfg.Store,
		tracker:   cfg.Tracker,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		maxOutput: cfg.MaxOutputBytes,
		logger:    cfg.Logger,
	}
	if d.events == nil {
		d.events = events.Nop{}
	}
	if d.maxOutput <= 0 {
		d.maxOutput = DefaultMaxOutputBytes
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Dispatch stores a pending job for an approved device and, if the device is
// online, pushes it over the device's session. Only a successful push moves the
// job to running. No lock is held between the insert and the push.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		d.countDispatch(metrics.OutcomeRejected)
		return nil, ErrEmptyCommand
	}

	dev, err := d.store.GetDevice(ctx, req.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		d.countDispatch(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, req.DeviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}
	switch {
	case dev.Status == store.DeviceStatusBlocked:
		d.countDispatch(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %s", ErrDeviceBlocked, dev.ID)
	case !dev.Approved:
		d.countDispatch(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotApproved, dev.ID)
	}

	job := &store.Job{
		ID:        uuid.New().String(),
		DeviceID:  dev.ID,
		Command:   req.Command,
		Arguments: req.Arguments,
		Script:    req.Script,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("storing job: %w", err)
	}
	d.publishJob(ctx, job)

	logger := d.logger.With("job_id", job.ID, "device_id", dev.ID, "command", job.Command)

	sess, ok := d.tracker.Lookup(dev.ID)
	if !ok {
		logger.Info("job queued for offline device")
		d.countDispatch(metrics.OutcomeQueued)
		return &Result{Job: job, Delivery: DeliveryQueued}, nil
	}

	invocation := &pb.JobInvocation{
		JobId:     job.ID,
		Command:   job.Command,
		Arguments: job.Arguments,
		Script:    job.Script,
	}
	if err := sess.SendJob(invocation); err != nil {
		logger.Warn("pushing job to device failed; job left pending",
			"session_id", sess.ID,
			"error", err,
		)
		d.countDispatch(metrics.OutcomePushFailed)
		return &Result{Job: job, Delivery: DeliveryPushFailed}, nil
	}

	running, err := d.store.TransitionJob(ctx, job.ID, store.JobStatusRunning, nil)
	if err != nil {
		// The device can report a result before this update lands.
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.Debug("job already advanced past pending", "error", err)
			current, getErr := d.store.GetJob(ctx, job.ID)
			if getErr == nil {
				job = current
			}
			d.countDispatch(metrics.OutcomePushed)
			return &Result{Job: job, Delivery: DeliveryPushed}, nil
		}
		return nil, fmt.Errorf("marking job running: %w", err)
	}

	logger.Info("job pushed to device", "session_id", sess.ID)
	d.countDispatch(metrics.OutcomePushed)
	d.publishJob(ctx, running)
	return &Result{Job: running, Delivery: DeliveryPushed}, nil
}

// CompleteJob records the result a device reported for one of its jobs.
// Exit code zero completes the job, anything else fails it. A job that is
// still pending (its running update lost a race with the result) passes
// through running on success so the recorded sequence stays intact.
func (d *Dispatcher) CompleteJob(ctx context.Context, deviceID, jobID string, exitCode int, output string) (*store.Job, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	if job.DeviceID != deviceID {
		return nil, fmt.Errorf("%w: %s", ErrJobNotOwned, jobID)
	}

	outcome := &store.JobOutcome{ExitCode: exitCode, Output: TruncateOutput(output, d.maxOutput)}

	target := store.JobStatusFailed
	if exitCode == 0 {
		target = store.JobStatusCompleted
		if job.Status == store.JobStatusPending {
			if _, err := d.store.TransitionJob(ctx, jobID, store.JobStatusRunning, nil); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
				return nil, fmt.Errorf("marking job running: %w", err)
			}
		}
	}

	done, err := d.store.TransitionJob(ctx, jobID, target, outcome)
	if err != nil {
		return nil, fmt.Errorf("recording result: %w", err)
	}

	d.logger.Info("job finished",
		"job_id", jobID,
		"device_id", deviceID,
		"status", done.Status,
		"exit_code", exitCode,
	)
	if d.metrics != nil {
		d.metrics.JobResults.WithLabelValues(string(done.Status)).Inc()
	}
	d.publishJob(ctx, done)
	return done, nil
}

// TruncateOutput cuts s to at most max bytes without splitting a UTF-8 sequence.
func TruncateOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (d *Dispatcher) countDispatch(outcome string) {
	if d.metrics != nil {
		d.metrics.JobsDispatched.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) publishJob(ctx context.Context, job *store.Job) {
	ev := events.Event{
		Kind:     events.KindJob,
		DeviceID: job.DeviceID,
		JobID:    job.ID,
		Command:  job.Command,
		Status:   string(job.Status),
		ExitCode: job.ExitCode,
		At:       time.Now().UTC(),
	}
	if err := d.events.Publish(ctx, ev); err != nil {
		d.logger.Warn("publishing job event", "job_id", job.ID, "error", err)
	}
}
