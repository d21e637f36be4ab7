// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fleetd/internal/device"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	devices     map[string]*Device // keyed by device ID
	macIndex    map[string]string  // keyed by MAC -> device ID
	jobs        map[string]*Job    // keyed by job ID
	jobOrder    []string           // insertion order of job IDs
	transitions map[string][]JobTransition

	// CreateJobErr, when set, is returned by CreateJob.
	CreateJobErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		devices:     make(map[string]*Device),
		macIndex:    make(map[string]string),
		jobs:        make(map[string]*Job),
		transitions: make(map[string][]JobTransition),
	}
}

func copyDevice(d *Device) *Device {
	c := *d
	return &c
}

func copyJob(j *Job) *Job {
	c := *j
	if j.Script != nil {
		v := *j.Script
		c.Script = &v
	}
	if j.Output != nil {
		v := *j.Output
		c.Output = &v
	}
	if j.ExitCode != nil {
		v := *j.ExitCode
		c.ExitCode = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}

// AddDevice inserts a device directly, for test setup.
func (m *MockStore) AddDevice(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyDevice(d)
	if c.Status == "" {
		c.Status = DeviceStatusPending
	}
	m.devices[c.ID] = c
	if c.MACAddress != "" {
		m.macIndex[c.MACAddress] = c.ID
	}
}

// UpsertDeviceByMAC creates or refreshes the device with the identity's MAC address.
func (m *MockStore) UpsertDeviceByMAC(ctx context.Context, ident device.Identity) (*Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Second)

	if id, ok := m.macIndex[ident.MACAddress]; ok {
		d := m.devices[id]
		d.Hostname = ident.Hostname
		d.Platform = ident.Platform
		d.OSVersion = ident.OSVersion
		d.IPAddress = ident.IPAddress
		d.LastSeenAt = now
		return copyDevice(d), false, nil
	}

	d := &Device{
		ID:           uuid.New().String(),
		MACAddress:   ident.MACAddress,
		Hostname:     ident.Hostname,
		Platform:     ident.Platform,
		OSVersion:    ident.OSVersion,
		IPAddress:    ident.IPAddress,
		Status:       DeviceStatusPending,
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	m.devices[d.ID] = d
	m.macIndex[d.MACAddress] = d.ID
	return copyDevice(d), true, nil
}

// GetDevice retrieves a device by ID.
func (m *MockStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(d), nil
}

// GetDeviceByMAC retrieves a device by MAC address.
func (m *MockStore) GetDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.macIndex[mac]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(m.devices[id]), nil
}

// GetDeviceBySecretHash retrieves the device owning a secret hash.
func (m *MockStore) GetDeviceBySecretHash(ctx context.Context, hash string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if hash == "" {
		return nil, ErrNotFound
	}
	for _, d := range m.devices {
		if d.SecretHash == hash {
			return copyDevice(d), nil
		}
	}
	return nil, ErrNotFound
}

// ListDevices returns all devices ordered by registration time.
func (m *MockStore) ListDevices(ctx context.Context) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, copyDevice(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (m *MockStore) updateDevice(id string, fn func(d *Device)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	fn(d)
	return nil
}

// ApproveDevice marks a device approved.
func (m *MockStore) ApproveDevice(ctx context.Context, id string) error {
	return m.updateDevice(id, func(d *Device) {
		d.Approved = true
		if d.Status == DeviceStatusPending {
			d.Status = DeviceStatusActive
		}
	})
}

// SetDeviceStatus changes the lifecycle status of a device.
func (m *MockStore) SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown device status %q", status)
	}
	return m.updateDevice(id, func(d *Device) { d.Status = status })
}

// SetDeviceSecretHash stores the hash of a device secret.
func (m *MockStore) SetDeviceSecretHash(ctx context.Context, id, hash string) error {
	return m.updateDevice(id, func(d *Device) { d.SecretHash = hash })
}

// MarkDeviceOnline sets online and last_seen.
func (m *MockStore) MarkDeviceOnline(ctx context.Context, id string, at time.Time) error {
	return m.updateDevice(id, func(d *Device) {
		d.Online = true
		d.LastSeenAt = at.UTC()
	})
}

// TouchDevice updates last_seen.
func (m *MockStore) TouchDevice(ctx context.Context, id string, at time.Time) error {
	return m.updateDevice(id, func(d *Device) { d.LastSeenAt = at.UTC() })
}

// MarkDeviceOffline clears online.
func (m *MockStore) MarkDeviceOffline(ctx context.Context, id string) error {
	return m.updateDevice(id, func(d *Device) { d.Online = false })
}

// CreateJob stores a pending job.
func (m *MockStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateJobErr != nil {
		return m.CreateJobErr
	}
	if _, ok := m.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	if _, ok := m.devices[job.DeviceID]; !ok {
		return fmt.Errorf("inserting job for device %s: %w", job.DeviceID, ErrNotFound)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = JobStatusPending
	job.UpdatedAt = job.CreatedAt

	m.jobs[job.ID] = copyJob(job)
	m.jobOrder = append(m.jobOrder, job.ID)
	m.transitions[job.ID] = []JobTransition{{JobID: job.ID, To: JobStatusPending, At: job.CreatedAt}}
	return nil
}

// GetJob retrieves a job by ID.
func (m *MockStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

// ListJobsByDevice returns a device's jobs, newest first.
func (m *MockStore) ListJobsByDevice(ctx context.Context, deviceID string, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Job
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j := m.jobs[m.jobOrder[i]]
		if j.DeviceID != deviceID {
			continue
		}
		out = append(out, copyJob(j))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// TransitionJob moves a job to status to when its current status allows it.
func (m *MockStore) TransitionJob(ctx context.Context, id string, to JobStatus, outcome *JobOutcome) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	from := j.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if outcome != nil {
		code := outcome.ExitCode
		output := outcome.Output
		j.ExitCode = &code
		j.Output = &output
	}
	if to.Terminal() {
		j.FinishedAt = &now
	}
	m.transitions[id] = append(m.transitions[id], JobTransition{JobID: id, From: from, To: to, At: now})
	return copyJob(j), nil
}

// ListJobTransitions returns a job's status history in order.
func (m *MockStore) ListJobTransitions(ctx context.Context, jobID string) ([]JobTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]JobTransition(nil), m.transitions[jobID]...), nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
