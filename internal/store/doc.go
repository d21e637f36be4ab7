// Package store provides persistent storage for fleet-server using SQLite.
//
// # Architecture
//
// Two interfaces split the data by owner:
//
//   - DeviceStore: device identity, approval, lifecycle status and presence
//   - JobStore: jobs and their status history
//
// Store composes both and adds Ping/Close. SQLiteStore implements Store in a
// single struct; MockStore is the in-memory equivalent used by unit tests.
//
// # Data Models
//
//   - Device: keyed by id, unique by normalized MAC address
//   - Job: one command for one device, referenced by device id only
//   - JobTransition: one row per status change, including the initial pending
//
// # Job Status Transitions
//
// TransitionJob is a compare-and-set on the current status:
//
//	pending -> running
//	pending -> failed
//	running -> completed
//	running -> failed
//
// Anything else returns ErrInvalidTransition. Completed, failed and cancelled
// are terminal.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 text in UTC with a fixed nanosecond fraction.
//
// # Error Handling
//
//   - ErrNotFound: requested device or job does not exist
//   - ErrDuplicateJob: job id already used
//   - ErrInvalidTransition: job status does not allow the change
package store
