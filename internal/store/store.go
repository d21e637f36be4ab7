// ABOUTME: Store interfaces and data types for fleetd persistence
// ABOUTME: Defines Device, Job, JobTransition and the DeviceStore/JobStore contracts

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/fleetd/internal/device"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateJob is returned when a job id is reused
var ErrDuplicateJob = errors.New("job already exists")

// ErrInvalidTransition is returned when a job is not in a state that allows
// the requested transition
var ErrInvalidTransition = errors.New("invalid job status transition")

// DeviceStatus is the operator-controlled lifecycle state of a device.
type DeviceStatus string

const (
	DeviceStatusPending     DeviceStatus = "pending"
	DeviceStatusActive      DeviceStatus = "active"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
	DeviceStatusBlocked     DeviceStatus = "blocked"
)

// Valid reports whether s is a known device status.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusPending, DeviceStatusActive, DeviceStatusMaintenance, DeviceStatusBlocked:
		return true
	}
	return false
}

// Device is a managed endpoint keyed by its normalized MAC address.
// Online and LastSeenAt are written only by the session gate.
type Device struct {
	ID           string
	MACAddress   string
	Hostname     string
	Platform     device.Platform
	OSVersion    string
	IPAddress    string
	Approved     bool
	Status       DeviceStatus
	Online       bool
	SecretHash   string
	RegisteredAt time.Time
	LastSeenAt   time.Time
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusCancelled is reserved; nothing transitions a job into it yet.
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// allowedFrom lists the statuses a job may leave to enter the key status.
var allowedFrom = map[JobStatus][]JobStatus{
	JobStatusRunning:   {JobStatusPending},
	JobStatusCompleted: {JobStatusRunning},
	JobStatusFailed:    {JobStatusPending, JobStatusRunning},
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Job is one command targeted at one device. It references the device by id only.
type Job struct {
	ID         string
	DeviceID   string
	Command    string
	Arguments  string
	Script     *string
	Status     JobStatus
	ExitCode   *int
	Output     *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// JobOutcome carries the result fields written on a terminal transition.
type JobOutcome struct {
	ExitCode int
	Output   string
}

// JobTransition records one status change of a job. The first transition of
// every job has an empty From and To == JobStatusPending.
type JobTransition struct {
	JobID string
	From  JobStatus
	To    JobStatus
	At    time.Time
}

// DeviceStore persists devices.
type DeviceStore interface {
	// UpsertDeviceByMAC creates a device for an unseen MAC, or refreshes the
	// reported fields of an existing one. The id and approval of an existing
	// device are never changed. created reports whether a new row was made.
	UpsertDeviceByMAC(ctx context.Context, id device.Identity) (dev *Device, created bool, err error)

	GetDevice(ctx context.Context, id string) (*Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*Device, error)
	GetDeviceBySecretHash(ctx context.Context, hash string) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)

	// ApproveDevice marks a device approved; a pending device becomes active.
	ApproveDevice(ctx context.Context, id string) error
	SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) error
	SetDeviceSecretHash(ctx context.Context, id, hash string) error

	// MarkDeviceOnline sets online and last_seen.
	MarkDeviceOnline(ctx context.Context, id string, at time.Time) error
	// TouchDevice updates last_seen only.
	TouchDevice(ctx context.Context, id string, at time.Time) error
	// MarkDeviceOffline clears online and leaves last_seen untouched.
	MarkDeviceOffline(ctx context.Context, id string) error
}

// JobStore persists jobs and their status history.
type JobStore interface {
	// CreateJob inserts a job in JobStatusPending and records its first transition.
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobsByDevice(ctx context.Context, deviceID string, limit int) ([]*Job, error)

	// TransitionJob moves a job to status to if its current status allows it,
	// returning ErrInvalidTransition otherwise. outcome is written when non-nil.
	TransitionJob(ctx context.Context, id string, to JobStatus, outcome *JobOutcome) (*Job, error)
	ListJobTransitions(ctx context.Context, jobID string) ([]JobTransition, error)
}

// Store is everything fleet-server persists.
type Store interface {
	DeviceStore
	JobStore

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
