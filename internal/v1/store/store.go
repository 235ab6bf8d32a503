// Package store persists the relay's durable security state in SQLite:
// blocked IPs that must survive restarts, the audit trail, and registered
// user accounts. Rooms, streams, and in-flight frames are never persisted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrUserNotFound is returned when no user row exists for a username.
var ErrUserNotFound = errors.New("user not found")

// Store persists relay security state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
// Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Info(context.Background(), "sqlite store opened", zap.String("path", path))
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies database connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS blocked_ips (
	ip TEXT PRIMARY KEY,
	blocked_until_unix_ms INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocked_ips_until ON blocked_ips(blocked_until_unix_ms);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	room_id TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type, created_at_unix_ms);
CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at_unix_ms);

CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	created_at_unix_ms INTEGER NOT NULL
);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	return nil
}

// --- Blocked IPs ---

// BlockedIP is one persisted IP block.
type BlockedIP struct {
	IP           string
	BlockedUntil time.Time
	Reason       string
	CreatedAt    time.Time
}

// UpsertBlockedIP inserts or refreshes a block row.
func (s *Store) UpsertBlockedIP(ctx context.Context, ip string, until time.Time, reason string) error {
	if strings.TrimSpace(ip) == "" {
		return fmt.Errorf("ip is required")
	}
	const q = `
INSERT INTO blocked_ips (ip, blocked_until_unix_ms, reason, created_at_unix_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(ip) DO UPDATE SET blocked_until_unix_ms = excluded.blocked_until_unix_ms, reason = excluded.reason
`
	_, err := s.db.ExecContext(ctx, q, ip, until.UnixMilli(), reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert blocked ip: %w", err)
	}
	return nil
}

// DeleteBlockedIP removes a block row.
func (s *Store) DeleteBlockedIP(ctx context.Context, ip string) error {
	const q = `DELETE FROM blocked_ips WHERE ip = ?`
	if _, err := s.db.ExecContext(ctx, q, ip); err != nil {
		return fmt.Errorf("delete blocked ip: %w", err)
	}
	return nil
}

// ActiveBlockedIPs returns all blocks that have not yet expired.
func (s *Store) ActiveBlockedIPs(ctx context.Context) ([]BlockedIP, error) {
	const q = `
SELECT ip, blocked_until_unix_ms, reason, created_at_unix_ms
FROM blocked_ips
WHERE blocked_until_unix_ms > ?
`
	rows, err := s.db.QueryContext(ctx, q, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query blocked ips: %w", err)
	}
	defer rows.Close()

	var blocks []BlockedIP
	for rows.Next() {
		var (
			b          BlockedIP
			untilUnixM int64
			createdAtM int64
		)
		if err := rows.Scan(&b.IP, &untilUnixM, &b.Reason, &createdAtM); err != nil {
			return nil, fmt.Errorf("scan blocked ip: %w", err)
		}
		b.BlockedUntil = time.UnixMilli(untilUnixM).UTC()
		b.CreatedAt = time.UnixMilli(createdAtM).UTC()
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// PruneExpiredBlocks deletes block rows whose expiry has passed.
func (s *Store) PruneExpiredBlocks(ctx context.Context) (int64, error) {
	const q = `DELETE FROM blocked_ips WHERE blocked_until_unix_ms <= ?`
	res, err := s.db.ExecContext(ctx, q, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune blocked ips: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Audit events ---

// InsertAuditEvent persists one audit record. Satisfies audit.Sink.
func (s *Store) InsertAuditEvent(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (event_type, username, session_id, room_id, ip_address, details, severity, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q,
		e.EventType, e.Username, e.SessionID, e.RoomID, e.IPAddress, e.Details,
		string(e.Severity), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// RecentAuditEvents returns the most recent audit records, newest first.
// Consumed by the external admin surface.
func (s *Store) RecentAuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT event_type, username, session_id, room_id, ip_address, details, severity, created_at_unix_ms
FROM audit_events
ORDER BY created_at_unix_ms DESC, id DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e          audit.Event
			severity   string
			createdAtM int64
		)
		if err := rows.Scan(&e.EventType, &e.Username, &e.SessionID, &e.RoomID, &e.IPAddress, &e.Details, &severity, &createdAtM); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Severity = audit.Severity(severity)
		e.CreatedAt = time.UnixMilli(createdAtM).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Users ---

// User is a registered account the relay may require at admission.
type User struct {
	Username    string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// UpsertUser inserts or updates a user row.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if u.Role == "" {
		u.Role = "user"
	}
	const q = `
INSERT INTO users (username, display_name, role, created_at_unix_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET display_name = excluded.display_name, role = excluded.role
`
	_, err := s.db.ExecContext(ctx, q, u.Username, u.DisplayName, u.Role, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UserByUsername returns the user row for a username.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	const q = `
SELECT username, display_name, role, created_at_unix_ms
FROM users
WHERE username = ?
`
	var (
		u          User
		createdAtM int64
	)
	err := s.db.QueryRowContext(ctx, q, username).Scan(&u.Username, &u.DisplayName, &u.Role, &createdAtM)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(createdAtM).UTC()
	return u, nil
}
