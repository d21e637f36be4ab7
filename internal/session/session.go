// ABOUTME: One authenticated device stream and its serialized send side
// ABOUTME: Wraps the gRPC server stream so concurrent dispatchers can push safely

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	pb "github.com/2389/fleetd/proto/fleet"
)

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("session closed")

// Sender is the send half of an AgentStream.
type Sender interface {
	Send(*pb.ServerMessage) error
}

// Session is a live device stream.
type Session struct {
	ID          string
	DeviceID    string
	ConnectedAt time.Time

	mu     sync.Mutex
	sender Sender
	closed bool
}

// New creates a session with a fresh id for deviceID.
func New(deviceID string, sender Sender) *Session {
	return &Session{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		ConnectedAt: time.Now().UTC(),
		sender:      sender,
	}
}

// Send writes one message to the stream. gRPC streams do not allow
// concurrent Send calls, so writes are serialized here.
func (s *Session) Send(msg *pb.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.sender.Send(msg)
}

// SendJob pushes a job invocation.
func (s *Session) SendJob(job *pb.JobInvocation) error {
	return s.Send(&pb.ServerMessage{Job: job})
}

// Close marks the session unusable for further sends.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
