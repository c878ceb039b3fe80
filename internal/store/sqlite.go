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

	"github.com/voyagen/crowdqueue/internal/models"
	_ "modernc.org/sqlite"
)

// SQLite result codes (primary code is the low byte of an extended code).
const (
	sqliteBusyCode       = 5
	sqliteConstraintFK   = 787
	sqliteConstraintPK   = 1555
	sqliteConstraintUniq = 2067

	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// sqlitePragmas apply to every pooled connection. foreign_keys is
// per-connection in SQLite, so it must ride on the DSN.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// SQLite implements Store on an embedded database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?"+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; readers share the same connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() {
	_ = s.db.Close()
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteCode(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err)&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqliteConstraintUniq, sqliteConstraintPK:
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if sqliteCode(err) == sqliteConstraintFK {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const sqliteEntryColumns = `e.id, e.submitter_id, e.source, e.media_id, e.url, e.title, e.thumbnail, e.active, e.created_at,
	(SELECT COUNT(*) FROM votes v WHERE v.entry_id = e.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		e       models.QueueEntry
		active  int
		created int64
	)
	if err := row.Scan(&e.ID, &e.SubmitterID, &e.Source, &e.MediaID, &e.URL, &e.Title, &e.Thumbnail,
		&active, &created, &e.VoteCount); err != nil {
		return nil, err
	}
	e.Active = active == 1
	e.CreatedAt = time.Unix(0, created).UTC()
	return &e, nil
}

// CreateEntry inserts an inactive entry.
func (s *SQLite) CreateEntry(ctx context.Context, e *models.QueueEntry) error {
	_, err := s.exec(ctx,
		`INSERT INTO queue_entries (id, submitter_id, source, media_id, url, title, thumbnail, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.SubmitterID, e.Source, e.MediaID, e.URL, e.Title, e.Thumbnail, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("CreateEntry: %w", err)
	}
	e.Active = false
	return nil
}

// GetEntry returns a single entry by id.
func (s *SQLite) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM queue_entries e WHERE e.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetEntry: %w", err)
	}
	return e, nil
}

// ListEntries returns all entries in creation order.
func (s *SQLite) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM queue_entries e ORDER BY e.created_at, e.id`)
	if err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ListEntries: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, nil
}

// UpdateEntryMetadata sets title and thumbnail.
func (s *SQLite) UpdateEntryMetadata(ctx context.Context, id, title, thumbnail string) error {
	res, err := s.exec(ctx, `UPDATE queue_entries SET title = ?, thumbnail = ? WHERE id = ?`, title, thumbnail, id)
	if err != nil {
		return fmt.Errorf("UpdateEntryMetadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntry deletes the entry's votes and the entry in one transaction.
func (s *SQLite) DeleteEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	return s.deleteEntry(ctx, id, false)
}

// RetireActive deletes the entry only while it is the active one.
func (s *SQLite) RetireActive(ctx context.Context, id string) (*models.QueueEntry, error) {
	return s.deleteEntry(ctx, id, true)
}

func (s *SQLite) deleteEntry(ctx context.Context, id string, requireActive bool) (*models.QueueEntry, error) {
	var deleted *models.QueueEntry
	err := retryOnBusy(ctx, func() error {
		e, err := s.deleteEntryTx(ctx, id, requireActive)
		deleted = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// deleteEntryTx runs under BEGIN IMMEDIATE (_txlock), so the read and the
// deletes hold the write lock together.
func (s *SQLite) deleteEntryTx(ctx context.Context, id string, requireActive bool) (*models.QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanSQLiteEntry(tx.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM queue_entries e WHERE e.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock entry: %w", err)
	}
	if requireActive && !e.Active {
		return nil, ErrNotActive
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE entry_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete votes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return e, nil
}

// ActivateEntry flags id active when no other entry is.
func (s *SQLite) ActivateEntry(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE queue_entries SET active = 1
		 WHERE id = ? AND active = 0
		   AND NOT EXISTS (SELECT 1 FROM queue_entries WHERE active = 1)`, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveExists
		}
		return fmt.Errorf("ActivateEntry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var active int
	err = s.db.QueryRowContext(ctx, `SELECT active FROM queue_entries WHERE id = ?`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ActivateEntry: %w", err)
	}
	return ErrActiveExists
}

// AddVote inserts a vote; the primary key rejects duplicates.
func (s *SQLite) AddVote(ctx context.Context, v models.VoteRecord) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO votes (participant_id, entry_id, created_at) VALUES (?, ?, ?)`,
		v.ParticipantID, v.EntryID, v.CreatedAt.UnixNano())
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrAlreadyVoted
	case isForeignKeyViolation(err):
		return ErrNotFound
	}
	return fmt.Errorf("AddVote: %w", err)
}

// RemoveVote deletes a vote.
func (s *SQLite) RemoveVote(ctx context.Context, entryID, participantID string) error {
	res, err := s.exec(ctx, `DELETE FROM votes WHERE entry_id = ? AND participant_id = ?`, entryID, participantID)
	if err != nil {
		return fmt.Errorf("RemoveVote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotVoted
	}
	return nil
}

// VotedEntries lists entry ids the participant has voted for.
func (s *SQLite) VotedEntries(ctx context.Context, participantID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry_id FROM votes WHERE participant_id = ?`, participantID)
	if err != nil {
		return nil, fmt.Errorf("VotedEntries: %w", err)
	}
	defer rows.Close()

	voted := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("VotedEntries: %w", err)
		}
		voted[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("VotedEntries: %w", err)
	}
	return voted, nil
}
