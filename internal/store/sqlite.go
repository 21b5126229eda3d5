package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/shared"
	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"
)

const maxWriteAttempts = 4

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode with immediate write transactions so concurrent approvals
	// queue on busy_timeout instead of failing lock upgrades.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS stagings (
		staging_id TEXT PRIMARY KEY,
		world_id TEXT NOT NULL,
		region_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		npcs_json TEXT NOT NULL,
		approved_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		ttl_hours INTEGER NOT NULL,
		source TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		guidance TEXT,
		is_current INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stagings_region ON stagings(region_id, is_current, created_at);

	CREATE TABLE IF NOT EXISTS actions (
		action_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		world_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		pc_id TEXT,
		action_type TEXT NOT NULL,
		target TEXT,
		dialogue TEXT,
		from_dm INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		queued_at INTEGER NOT NULL,
		processed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, queued_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs a write, retrying SQLITE_BUSY and "database is locked"
// failures with exponential backoff.
func withRetry(ctx context.Context, op string, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if shared.IsSQLiteConflictError(err) {
			slog.Debug("SQLite write conflict, retrying", "op", op, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(maxWriteAttempts),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Approve stores rec as the region's current staging.
func (s *SQLiteStore) Approve(ctx context.Context, rec domain.StagingRecord) error {
	return withRetry(ctx, "approve staging", func() error { return s.insertStaging(ctx, rec) })
}

// PreStage stores a pre-staged record as the region's current staging.
func (s *SQLiteStore) PreStage(ctx context.Context, rec domain.StagingRecord) error {
	return withRetry(ctx, "pre-stage region", func() error { return s.insertStaging(ctx, rec) })
}

func (s *SQLiteStore) insertStaging(ctx context.Context, rec domain.StagingRecord) error {
	npcs, err := json.Marshal(rec.Npcs)
	if err != nil {
		return fmt.Errorf("marshal npcs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Debug("Rollback failed", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE stagings SET is_current = 0 WHERE region_id = ? AND is_current = 1`, rec.RegionID); err != nil {
		return fmt.Errorf("supersede stagings: %w", err)
	}

	var guidance any
	if rec.Guidance != "" {
		guidance = rec.Guidance
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO stagings (staging_id, world_id, region_id, location_id, npcs_json,
		approved_at, expires_at, ttl_hours, source, approved_by, guidance, is_current, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		rec.ID, rec.WorldID, rec.RegionID, rec.LocationID, string(npcs),
		rec.ApprovedAt.Unix(), rec.ExpiresAt().Unix(), rec.TTLHours,
		string(rec.Source), rec.ApprovedBy, guidance, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert staging: %w", err)
	}
	return tx.Commit()
}

const stagingColumns = `staging_id, world_id, region_id, location_id, npcs_json,
	approved_at, ttl_hours, source, approved_by, guidance`

// GetCurrent returns the valid current staging for region, or nil.
func (s *SQLiteStore) GetCurrent(ctx context.Context, region domain.RegionID, gameTime time.Time) (*domain.StagingRecord, error) {
	query := `SELECT ` + stagingColumns + ` FROM stagings
		WHERE region_id = ? AND is_current = 1 AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`
	return s.queryOne(ctx, query, region, gameTime.Unix())
}

// GetPrevious returns the most recent staging for region, or nil.
func (s *SQLiteStore) GetPrevious(ctx context.Context, region domain.RegionID) (*domain.StagingRecord, error) {
	query := `SELECT ` + stagingColumns + ` FROM stagings
		WHERE region_id = ? ORDER BY created_at DESC LIMIT 1`
	return s.queryOne(ctx, query, region)
}

// History lists stagings for region, newest first.
func (s *SQLiteStore) History(ctx context.Context, region domain.RegionID, limit int) ([]domain.StagingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + stagingColumns + ` FROM stagings
		WHERE region_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, region, limit)
	if err != nil {
		return nil, fmt.Errorf("query staging history: %w", err)
	}
	defer rows.Close()

	var out []domain.StagingRecord
	for rows.Next() {
		rec, err := scanStaging(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*domain.StagingRecord, error) {
	rec, err := scanStaging(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStaging(row scanner) (*domain.StagingRecord, error) {
	var rec domain.StagingRecord
	var npcsJSON, source string
	var guidance sql.NullString
	var approvedAt int64

	err := row.Scan(&rec.ID, &rec.WorldID, &rec.RegionID, &rec.LocationID, &npcsJSON,
		&approvedAt, &rec.TTLHours, &source, &rec.ApprovedBy, &guidance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan staging row: %w", err)
	}
	if err := json.Unmarshal([]byte(npcsJSON), &rec.Npcs); err != nil {
		return nil, fmt.Errorf("unmarshal npcs: %w", err)
	}
	rec.ApprovedAt = time.Unix(approvedAt, 0).UTC()
	rec.Source = domain.StagingSource(source)
	rec.Guidance = guidance.String
	return &rec, nil
}

// RecordAction appends an entry to the action log.
func (s *SQLiteStore) RecordAction(ctx context.Context, entry ActionEntry) error {
	req := entry.Request
	var pcID, errMsg any
	if req.PCID != nil {
		pcID = string(*req.PCID)
	}
	if entry.Error != "" {
		errMsg = entry.Error
	}
	processedAt := entry.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	return withRetry(ctx, "record action", func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (action_id, session_id, world_id, player_id, pc_id, action_type,
			target, dialogue, from_dm, status, error, queued_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			processed_at = excluded.processed_at`,
			req.ActionID, req.SessionID, req.WorldID, req.PlayerID, pcID, req.ActionType,
			req.Target, req.Dialogue, req.FromDM, entry.Status, errMsg,
			req.QueuedAt.UnixNano(), processedAt.UnixNano(),
		)
		return err
	})
}

// ListActions returns a session's logged actions, oldest first.
func (s *SQLiteStore) ListActions(ctx context.Context, sessionID domain.SessionID) ([]ActionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT action_id, session_id, world_id, player_id, pc_id, action_type, target, dialogue,
		from_dm, status, error, queued_at, processed_at
	FROM actions WHERE session_id = ? ORDER BY queued_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionEntry
	for rows.Next() {
		var e ActionEntry
		var pcID, target, dialogue, errMsg sql.NullString
		var queuedAt, processedAt int64
		err := rows.Scan(&e.Request.ActionID, &e.Request.SessionID, &e.Request.WorldID, &e.Request.PlayerID,
			&pcID, &e.Request.ActionType, &target, &dialogue, &e.Request.FromDM,
			&e.Status, &errMsg, &queuedAt, &processedAt)
		if err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		if pcID.Valid {
			id := domain.PlayerCharacterID(pcID.String)
			e.Request.PCID = &id
		}
		if target.Valid {
			e.Request.Target = &target.String
		}
		if dialogue.Valid {
			e.Request.Dialogue = &dialogue.String
		}
		e.Error = errMsg.String
		e.Request.QueuedAt = time.Unix(0, queuedAt)
		e.ProcessedAt = time.Unix(0, processedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
