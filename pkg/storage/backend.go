package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"duodb/pkg/common"

	_ "modernc.org/sqlite"
)

// Backend is a plain KV store loaded side by side with the dual tree by the
// benchmark command, so runs can be compared against a conventional engine.
type Backend interface {
	Write(key common.KeyType, val common.ValueType) error
	BatchWrite(pairs []common.Pair) error
	Read(key common.KeyType) (common.ValueType, bool)
	Close() error
}

type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS data (
		key INTEGER,
		value INTEGER
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite table: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set sqlite pragma: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Write(key common.KeyType, val common.ValueType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT INTO data (key, value) VALUES (?, ?)", int64(key), int64(val))
	return err
}

func (s *SQLiteBackend) BatchWrite(pairs []common.Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO data (key, value) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.Exec(int64(p.Key), int64(p.Value)); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Read(key common.KeyType) (common.ValueType, bool) {
	var val int64
	err := s.db.QueryRow("SELECT value FROM data WHERE key = ? LIMIT 1", int64(key)).Scan(&val)
	if err != nil {
		return 0, false
	}
	return common.ValueType(val), true
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
