// Package db provides the durable local store for registrations and the
// sync queue.
package db

import (
	"database/sql"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
)

// Statement is a single parameterized SQL statement for transactional runs.
type Statement struct {
	Query string
	Args  []interface{}
}

// StoreStats summarizes local storage contents.
type StoreStats struct {
	RecordCount  int `json:"record_count"`
	PendingCount int `json:"pending_count"`
	QueueCount   int `json:"queue_count"`
}

// Store owns the device database lifecycle. Schema failures during Init are
// fatal: the facade must not start sync against a database it cannot trust.
type Store struct {
	dataDir string
	db      *DB
}

// NewStore creates a Store rooted at dataDir. Init must be called before use.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Init opens the database and applies pending migrations.
func (s *Store) Init() error {
	database, err := Open(s.dataDir)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to open local database", err)
	}

	if err := Migrate(database.DB); err != nil {
		database.Close()
		return err
	}

	s.db = database

	version, _ := SchemaVersion(database.DB)
	logging.Info("Local store initialized", map[string]interface{}{
		"data_dir":       s.dataDir,
		"schema_version": version,
	})

	return nil
}

// DB exposes the underlying handle for the typed repository.
func (s *Store) DB() *sql.DB {
	if s.db == nil {
		return nil
	}
	return s.db.DB
}

// Execute runs a single write statement.
func (s *Store) Execute(query string, args ...interface{}) (sql.Result, error) {
	if s.db == nil {
		return nil, errors.New(errors.ErrNotInitialized, "store is not initialized")
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "query failed", err)
	}
	return res, nil
}

// Query runs a read statement and returns the rows.
func (s *Store) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if s.db == nil {
		return nil, errors.New(errors.ErrNotInitialized, "store is not initialized")
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "query failed", err)
	}
	return rows, nil
}

// RunInTransaction executes all statements atomically.
func (s *Store) RunInTransaction(statements []Statement) error {
	if s.db == nil {
		return errors.New(errors.ErrNotInitialized, "store is not initialized")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt.Query, stmt.Args...); err != nil {
			return errors.Wrap(errors.ErrStorage, "transaction statement failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to commit transaction", err)
	}
	return nil
}

// Stats returns row counts for status surfaces.
func (s *Store) Stats() (*StoreStats, error) {
	if s.db == nil {
		return nil, errors.New(errors.ErrNotInitialized, "store is not initialized")
	}

	stats := &StoreStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM weight_registrations").Scan(&stats.RecordCount); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to count registrations", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM weight_registrations WHERE sync_status = 'pending'").Scan(&stats.PendingCount); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to count pending registrations", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&stats.QueueCount); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to count queue entries", err)
	}

	return stats, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
