package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for the requested identifier.
var ErrNotFound = errors.New("store: record not found")

// Record is a loosely-typed document row.
type Record map[string]any

// ListResult is the structured return of a list operation. The full,
// unordered set is returned; sorting and limiting belong to the caller.
type ListResult struct {
	Count int
	Items []Record
}

// CreateResult reports the identifier of the produced record.
type CreateResult struct {
	ID string
}

// Ack reports how many records a mutation touched.
type Ack struct {
	Affected int
}

// EntityStore persists arbitrary entity records as JSON documents in a single
// sqlite table keyed by (entity table, identifier). Schema knowledge lives in
// the registry, not here.
type EntityStore struct {
	DB *sql.DB
}

func NewEntityStore(dbPath string) (*EntityStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
			entity_table TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (entity_table, id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			instruction TEXT,
			interval_seconds INTEGER,
			last_run DATETIME,
			status TEXT DEFAULT 'active'
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, err
		}
	}

	return &EntityStore{DB: db}, nil
}

func (s *EntityStore) Close() error {
	return s.DB.Close()
}

// Create inserts a record. If the record carries a non-empty value for
// identifierField that value becomes the key, otherwise a UUID is minted and
// written back into the document. The creation time is recorded on the
// document under _creationTime (unix milliseconds).
func (s *EntityStore) Create(ctx context.Context, table, identifierField string, rec Record) (CreateResult, error) {
	if rec == nil {
		rec = Record{}
	}

	id := ""
	if identifierField != "" {
		if v, ok := rec[identifierField]; ok {
			id = fmt.Sprintf("%v", v)
		}
	}
	if id == "" {
		id = uuid.NewString()
		if identifierField != "" {
			rec[identifierField] = id
		}
	}

	now := time.Now().UnixMilli()
	rec["_creationTime"] = now

	data, err := json.Marshal(rec)
	if err != nil {
		return CreateResult{}, err
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO records (entity_table, id, data, created_at) VALUES (?, ?, ?, ?)`,
		table, id, string(data), now)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{ID: id}, nil
}

// Read fetches one record by identifier.
func (s *EntityStore) Read(ctx context.Context, table, id string) (Record, error) {
	var data string
	err := s.DB.QueryRowContext(ctx,
		`SELECT data FROM records WHERE entity_table = ? AND id = ?`, table, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, table, id)
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges fields into an existing record.
func (s *EntityStore) Update(ctx context.Context, table, id string, fields Record) (Ack, error) {
	rec, err := s.Read(ctx, table, id)
	if err != nil {
		return Ack{}, err
	}
	for k, v := range fields {
		rec[k] = v
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Ack{}, err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE records SET data = ? WHERE entity_table = ? AND id = ?`,
		string(data), table, id)
	if err != nil {
		return Ack{}, err
	}
	n, _ := res.RowsAffected()
	return Ack{Affected: int(n)}, nil
}

// Delete removes one record by identifier.
func (s *EntityStore) Delete(ctx context.Context, table, id string) (Ack, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM records WHERE entity_table = ? AND id = ?`, table, id)
	if err != nil {
		return Ack{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Ack{}, fmt.Errorf("%w: %s %q", ErrNotFound, table, id)
	}
	return Ack{Affected: int(n)}, nil
}

// List returns every record of the table in storage order.
func (s *EntityStore) List(ctx context.Context, table string) (ListResult, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT data FROM records WHERE entity_table = ?`, table)
	if err != nil {
		return ListResult{}, err
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return ListResult{}, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return ListResult{}, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, err
	}
	return ListResult{Count: len(items), Items: items}, nil
}

// Count returns the number of records in one table.
func (s *EntityStore) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE entity_table = ?`, table).Scan(&n)
	return n, err
}
