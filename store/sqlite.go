package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens a SQLite database with the mattn driver.
func OpenSQLite(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		// each pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// SQLiteStateStore persists state records in a SQLite table.
type SQLiteStateStore struct {
	db    *sql.DB
	table string

	mu          sync.Mutex
	schemaReady bool
}

// NewSQLiteStateStore builds a store using the given DB and table name.
func NewSQLiteStateStore(db *sql.DB, table string) *SQLiteStateStore {
	if table == "" {
		table = "fsm_states"
	}
	return &SQLiteStateStore{db: db, table: table}
}

// Load reads the state row for kind/id.
func (s *SQLiteStateStore) Load(ctx context.Context, kind, id string) (*StateRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	q := fmt.Sprintf(`SELECT kind, id, state, version, machine, metadata, updated_at FROM %s WHERE kind = ? AND id = ?`, s.table)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, normalizeName(kind), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// SaveIfVersion writes rec using optimistic version compare.
func (s *SQLiteStateStore) SaveIfVersion(ctx context.Context, rec *StateRecord, expectedVersion int) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	rec, err := normalize(rec)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, err
	}
	updatedAt := rec.UpdatedAt.UTC().Format(time.RFC3339Nano)

	var result sql.Result
	if expectedVersion == 0 {
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (kind, id, state, version, machine, metadata, updated_at) VALUES (?, ?, ?, 1, ?, ?, ?)`, s.table)
		result, err = s.db.ExecContext(ctx, q, rec.Kind, rec.ID, rec.State, rec.Machine, string(metadataJSON), updatedAt)
	} else {
		q := fmt.Sprintf(`UPDATE %s SET state=?, version=?, machine=?, metadata=?, updated_at=? WHERE kind=? AND id=? AND version=?`, s.table)
		result, err = s.db.ExecContext(ctx, q, rec.State, expectedVersion+1, rec.Machine, string(metadataJSON), updatedAt, rec.Kind, rec.ID, expectedVersion)
	}
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

// List returns records of kind ordered by id, optionally filtered by state.
func (s *SQLiteStateStore) List(ctx context.Context, kind, state string) ([]*StateRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT kind, id, state, version, machine, metadata, updated_at FROM %s WHERE kind = ?`, s.table)
	args := []any{normalizeName(kind)}
	if state = normalizeName(state); state != "" {
		q += ` AND state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStateStore) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schemaReady {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER NOT NULL,
		machine TEXT,
		metadata TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*StateRecord, error) {
	var rec StateRecord
	var machine, metadataJSON sql.NullString
	var updatedAt string
	if err := row.Scan(&rec.Kind, &rec.ID, &rec.State, &rec.Version, &machine, &metadataJSON, &updatedAt); err != nil {
		return nil, err
	}
	rec.Machine = machine.String
	if metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s:%s: %w", rec.Kind, rec.ID, err)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return &rec, nil
}
