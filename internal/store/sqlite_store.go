package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"daytrader/internal/interfaces"
	"daytrader/internal/types"
)

// SQLiteStore keeps one row per trading date, so past days stay queryable.
type SQLiteStore struct {
	db *sql.DB
}

var _ interfaces.SessionStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer at a time; the orchestrator never needs more.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			trading_date TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions_quarantine (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trading_date TEXT NOT NULL,
			payload TEXT NOT NULL,
			quarantined_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, date string) (*types.TradingSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM sessions WHERE trading_date = ?", date,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query session %s: %v", types.ErrPersistence, date, err)
	}
	return decodeSession([]byte(payload), date)
}

func (s *SQLiteStore) Save(ctx context.Context, sess types.TradingSession) error {
	if sess.TradingDate == "" {
		return fmt.Errorf("%w: session without trading date", types.ErrPersistence)
	}
	sess.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", types.ErrPersistence, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", types.ErrPersistence, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (trading_date, status, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trading_date) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, sess.TradingDate, string(sess.Status), string(payload), sess.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: upsert session: %v", types.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", types.ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) Quarantine(ctx context.Context, date string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %v", types.ErrPersistence, err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions_quarantine (trading_date, payload, quarantined_at)
		SELECT trading_date, payload, ? FROM sessions WHERE trading_date = ?
	`, now, date)
	if err != nil {
		return "", fmt.Errorf("%w: quarantine %s: %v", types.ErrPersistence, date, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE trading_date = ?", date); err != nil {
		return "", fmt.Errorf("%w: quarantine %s: %v", types.ErrPersistence, date, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %v", types.ErrPersistence, err)
	}
	return fmt.Sprintf("sessions_quarantine/%s/%d", date, now), nil
}

// History returns up to limit sessions, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]types.TradingSession, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM sessions ORDER BY trading_date DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query history: %v", types.ErrPersistence, err)
	}
	defer rows.Close()

	var out []types.TradingSession
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan history: %v", types.ErrPersistence, err)
		}
		var sess types.TradingSession
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
