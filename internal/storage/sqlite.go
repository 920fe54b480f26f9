package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a single SQLite file. Each collection gets
// its own table; record bodies are stored as JSON text next to the extracted
// timestamp so collections stay queryable by time without a schema per shape.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	for _, collection := range collections {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`, collection)
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init collection %s: %w", collection, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Add appends a record to the collection.
func (s *SQLiteStore) Add(ctx context.Context, collection string, record Record) error {
	if err := validCollection(collection); err != nil {
		return err
	}

	record.Stamp(time.Now())
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	timestamp, _ := record["timestamp"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf(`INSERT INTO %s (payload, timestamp) VALUES (?, ?)`, collection)
	if _, err := s.db.ExecContext(ctx, stmt, string(payload), timestamp); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

// List returns every record in the collection in insertion order.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Record, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf(`SELECT payload FROM %s ORDER BY id`, collection)
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", collection, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
