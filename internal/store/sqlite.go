// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides device and job persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/fleetd/internal/device"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			mac_address TEXT NOT NULL UNIQUE,
			hostname TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT 'unknown',
			os_version TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			approved INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			online INTEGER NOT NULL DEFAULT 0,
			secret_hash TEXT,
			registered_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_secret_hash
			ON devices(secret_hash) WHERE secret_hash IS NOT NULL;

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id),
			command TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '',
			script TEXT,
			status TEXT NOT NULL,
			exit_code INTEGER,
			output TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			finished_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_device_created
			ON jobs(device_id, created_at);

		CREATE TABLE IF NOT EXISTS job_transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_job_transitions_job
			ON job_transitions(job_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// timeLayout is RFC3339 with a fixed nine-digit fraction, so stored
// timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const deviceColumns = `id, mac_address, hostname, platform, os_version, ip_address,
	approved, status, online, secret_hash, registered_at, last_seen_at`

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                      Device
		platform, status       string
		approved, online       int
		secretHash             sql.NullString
		registeredAt, lastSeen string
	)
	err := row.Scan(&d.ID, &d.MACAddress, &d.Hostname, &platform, &d.OSVersion, &d.IPAddress,
		&approved, &status, &online, &secretHash, &registeredAt, &lastSeen)
	if err != nil {
		return nil, err
	}
	d.Platform = device.Platform(platform)
	d.Status = DeviceStatus(status)
	d.Approved = approved != 0
	d.Online = online != 0
	d.SecretHash = secretHash.String

	if d.RegisteredAt, err = parseTime("registered_at", registeredAt); err != nil {
		return nil, err
	}
	if d.LastSeenAt, err = parseTime("last_seen_at", lastSeen); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) queryDevice(ctx context.Context, where string, arg any) (*Device, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE "+where, arg)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// UpsertDeviceByMAC creates or refreshes the device with the identity's MAC address.
func (s *SQLiteStore) UpsertDeviceByMAC(ctx context.Context, ident device.Identity) (*Device, bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM devices WHERE mac_address = ?", ident.MACAddress).Scan(&id)
	created := errors.Is(err, sql.ErrNoRows)
	switch {
	case created:
		id = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices (id, mac_address, hostname, platform, os_version, ip_address,
				approved, status, online, registered_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?)
		`, id, ident.MACAddress, ident.Hostname, string(ident.Platform), ident.OSVersion, ident.IPAddress,
			string(DeviceStatusPending), formatTime(now), formatTime(now))
		if err != nil {
			return nil, false, fmt.Errorf("inserting device: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("looking up device by mac: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET hostname = ?, platform = ?, os_version = ?, ip_address = ?, last_seen_at = ?
			WHERE id = ?
		`, ident.Hostname, string(ident.Platform), ident.OSVersion, ident.IPAddress, formatTime(now), id)
		if err != nil {
			return nil, false, fmt.Errorf("updating device: %w", err)
		}
	}

	d, err := scanDevice(tx.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id))
	if err != nil {
		return nil, false, fmt.Errorf("reading device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("upserted device", "id", d.ID, "mac", d.MACAddress, "created", created)
	return d, created, nil
}

// GetDevice retrieves a device by ID.
// Returns ErrNotFound if the device doesn't exist.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	return s.queryDevice(ctx, "id = ?", id)
}

// GetDeviceByMAC retrieves a device by its normalized MAC address.
func (s *SQLiteStore) GetDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	return s.queryDevice(ctx, "mac_address = ?", mac)
}

// GetDeviceBySecretHash retrieves the device owning a secret hash.
func (s *SQLiteStore) GetDeviceBySecretHash(ctx context.Context, hash string) (*Device, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return s.queryDevice(ctx, "secret_hash = ?", hash)
}

// ListDevices returns all devices ordered by registration time.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY registered_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// execDevice runs an UPDATE against one device and maps zero rows to ErrNotFound.
func (s *SQLiteStore) execDevice(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApproveDevice marks a device approved. A pending device becomes active.
func (s *SQLiteStore) ApproveDevice(ctx context.Context, id string) error {
	return s.execDevice(ctx, `
		UPDATE devices
		SET approved = 1,
			status = CASE WHEN status = 'pending' THEN 'active' ELSE status END
		WHERE id = ?
	`, id)
}

// SetDeviceStatus changes the lifecycle status of a device.
func (s *SQLiteStore) SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown device status %q", status)
	}
	return s.execDevice(ctx, "UPDATE devices SET status = ? WHERE id = ?", string(status), id)
}

// SetDeviceSecretHash stores the hash of a device secret. An empty hash clears it.
func (s *SQLiteStore) SetDeviceSecretHash(ctx context.Context, id, hash string) error {
	var v any
	if hash != "" {
		v = hash
	}
	return s.execDevice(ctx, "UPDATE devices SET secret_hash = ? WHERE id = ?", v, id)
}

// MarkDeviceOnline sets online and last_seen.
func (s *SQLiteStore) MarkDeviceOnline(ctx context.Context, id string, at time.Time) error {
	return s.execDevice(ctx, "UPDATE devices SET online = 1, last_seen_at = ? WHERE id = ?", formatTime(at), id)
}

// TouchDevice updates last_seen.
func (s *SQLiteStore) TouchDevice(ctx context.Context, id string, at time.Time) error {
	return s.execDevice(ctx, "UPDATE devices SET last_seen_at = ? WHERE id = ?", formatTime(at), id)
}

// MarkDeviceOffline clears online without touching last_seen.
func (s *SQLiteStore) MarkDeviceOffline(ctx context.Context, id string) error {
	return s.execDevice(ctx, "UPDATE devices SET online = 0 WHERE id = ?", id)
}

const jobColumns = `id, device_id, command, arguments, script, status, exit_code, output,
	created_at, updated_at, finished_at`

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		status               string
		script, output       sql.NullString
		exitCode             sql.NullInt64
		createdAt, updatedAt string
		finishedAt           sql.NullString
	)
	err := row.Scan(&j.ID, &j.DeviceID, &j.Command, &j.Arguments, &script, &status, &exitCode, &output,
		&createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	if script.Valid {
		j.Script = &script.String
	}
	if output.Valid {
		j.Output = &output.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		j.ExitCode = &code
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime("finished_at", finishedAt.String)
		if err != nil {
			return nil, err
		}
		j.FinishedAt = &t
	}
	return &j, nil
}

// CreateJob inserts a pending job and its first transition.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = JobStatusPending
	job.UpdatedAt = job.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var script any
	if job.Script != nil {
		script = *job.Script
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, device_id, command, arguments, script, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.DeviceID, job.Command, job.Arguments, script, string(job.Status),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateJob
		}
		if isConstraintViolation(err) {
			return fmt.Errorf("inserting job for device %s: %w", job.DeviceID, ErrNotFound)
		}
		return fmt.Errorf("inserting job: %w", err)
	}

	if err := insertTransition(ctx, tx, job.ID, "", JobStatusPending, job.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created job", "id", job.ID, "device_id", job.DeviceID, "command", job.Command)
	return nil
}

func insertTransition(ctx context.Context, tx *sql.Tx, jobID string, from, to JobStatus, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_transitions (job_id, from_status, to_status, at)
		VALUES (?, ?, ?, ?)
	`, jobID, string(from), string(to), formatTime(at))
	if err != nil {
		return fmt.Errorf("recording transition: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return j, nil
}

// ListJobsByDevice returns the newest jobs for a device, newest first.
// A limit of zero or less returns all jobs.
func (s *SQLiteStore) ListJobsByDevice(ctx context.Context, deviceID string, limit int) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE device_id = ? ORDER BY created_at DESC, rowid DESC"
	args := []any{deviceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// TransitionJob moves a job to status to when its current status allows it.
func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, to JobStatus, outcome *JobOutcome) (*Job, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job status: %w", err)
	}

	from := JobStatus(current)
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	set := "status = ?, updated_at = ?"
	args := []any{string(to), formatTime(now)}
	if outcome != nil {
		set += ", exit_code = ?, output = ?"
		args = append(args, outcome.ExitCode, outcome.Output)
	}
	if to.Terminal() {
		set += ", finished_at = ?"
		args = append(args, formatTime(now))
	}
	args = append(args, id, current)

	result, err := tx.ExecContext(ctx, "UPDATE jobs SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}

	if err := insertTransition(ctx, tx, id, from, to, now); err != nil {
		return nil, err
	}

	j, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("reading job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("job transitioned", "id", id, "from", from, "to", to)
	return j, nil
}

// ListJobTransitions returns a job's status history in order.
func (s *SQLiteStore) ListJobTransitions(ctx context.Context, jobID string) ([]JobTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, from_status, to_status, at
		FROM job_transitions
		WHERE job_id = ?
		ORDER BY seq
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []JobTransition
	for rows.Next() {
		var (
			tr       JobTransition
			from, to string
			at       string
		)
		if err := rows.Scan(&tr.JobID, &from, &to, &at); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.From = JobStatus(from)
		tr.To = JobStatus(to)
		if tr.At, err = parseTime("at", at); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return out, nil
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
