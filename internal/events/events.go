// ABOUTME: Device and job lifecycle events published for external consumers
// ABOUTME: NATS core publisher plus no-op and in-memory publishers

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event kinds.
const (
	KindDeviceOnline  = "device.online"
	KindDeviceOffline = "device.offline"
	KindJob           = "job"
)

// Event is one lifecycle change.
type Event struct {
	Kind     string    `json:"kind"`
	DeviceID string    `json:"device_id"`
	JobID    string    `json:"job_id,omitempty"`
	Command  string    `json:"command,omitempty"`
	Status   string    `json:"status,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	At       time.Time `json:"at"`
}

// Subject returns the NATS subject for the event under prefix:
// <prefix>.jobs.<status> or <prefix>.devices.<online|offline>.
func (e Event) Subject(prefix string) string {
	switch e.Kind {
	case KindDeviceOnline:
		return prefix + ".devices.online"
	case KindDeviceOffline:
		return prefix + ".devices.offline"
	default:
		return prefix + ".jobs." + e.Status
	}
}

// Publisher delivers events. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// NATSPublisher publishes JSON events on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to url and reconnects forever in the background.
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = "fleet"
	}
	logger = logger.With("component", "events")

	opts := []nats.Option{
		nats.Name("fleet-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	logger.Info("nats publisher connected", "url", nc.ConnectedUrl(), "prefix", prefix)
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Publish encodes e as JSON and publishes it on its subject.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return errors.New("nats not connected")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return p.nc.Publish(e.Subject(p.prefix), data)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("draining nats connection", "error", err)
		}
		p.nc.Close()
	}
}

// Memory records events in order. Used by tests and the in-process CLI.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Close() {}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
