// ABOUTME: JSON request and response bodies of the fleet-server operator API
// ABOUTME: Shared by the HTTP handlers and the fleetctl client

package api

import (
	"time"

	"github.com/2389/fleetd/internal/store"
)

// Device is the API view of a device.
type Device struct {
	ID           string    `json:"id"`
	MACAddress   string    `json:"mac_address"`
	Hostname     string    `json:"hostname"`
	Platform     string    `json:"platform"`
	OSVersion    string    `json:"os_version"`
	IPAddress    string    `json:"ip_address,omitempty"`
	Approved     bool      `json:"approved"`
	Status       string    `json:"status"`
	Online       bool      `json:"online"`
	SessionID    string    `json:"session_id,omitempty"`
	HasSecret    bool      `json:"has_secret"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// DeviceFromStore converts a stored device. sessionID is the live session, if any.
func DeviceFromStore(d *store.Device, sessionID string) Device {
	return Device{
		ID:           d.ID,
		MACAddress:   d.MACAddress,
		Hostname:     d.Hostname,
		Platform:     string(d.Platform),
		OSVersion:    d.OSVersion,
		IPAddress:    d.IPAddress,
		Approved:     d.Approved,
		Status:       string(d.Status),
		Online:       d.Online,
		SessionID:    sessionID,
		HasSecret:    d.SecretHash != "",
		RegisteredAt: d.RegisteredAt,
		LastSeenAt:   d.LastSeenAt,
	}
}

// Transition is one job status change.
type Transition struct {
	From string    `json:"from,omitempty"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// Job is the API view of a job.
type Job struct {
	ID          string       `json:"id"`
	DeviceID    string       `json:"device_id"`
	Command     string       `json:"command"`
	Arguments   string       `json:"arguments,omitempty"`
	Script      *string      `json:"script,omitempty"`
	Status      string       `json:"status"`
	ExitCode    *int         `json:"exit_code,omitempty"`
	Output      *string      `json:"output,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// JobFromStore converts a stored job and its optional history.
func JobFromStore(j *store.Job, history []store.JobTransition) Job {
	out := Job{
		ID:         j.ID,
		DeviceID:   j.DeviceID,
		Command:    j.Command,
		Arguments:  j.Arguments,
		Script:     j.Script,
		Status:     string(j.Status),
		ExitCode:   j.ExitCode,
		Output:     j.Output,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		FinishedAt: j.FinishedAt,
	}
	for _, tr := range history {
		out.Transitions = append(out.Transitions, Transition{From: string(tr.From), To: string(tr.To), At: tr.At})
	}
	return out
}

// DispatchRequest is the body of POST /api/jobs.
type DispatchRequest struct {
	DeviceID  string  `json:"device_id"`
	Command   string  `json:"command"`
	Arguments string  `json:"arguments,omitempty"`
	Script    *string `json:"script,omitempty"`
}

// DispatchResponse reports the stored job and how it was delivered.
type DispatchResponse struct {
	Job      Job    `json:"job"`
	Delivery string `json:"delivery"`
}

// StatusRequest is the body of POST /api/devices/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// SecretResponse carries a freshly generated device secret. It is shown once.
type SecretResponse struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

// Session is one live device session.
type Session struct {
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}
