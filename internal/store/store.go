// Package store persists the agent's library in a local SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store owns the database connection shared by the entity stores.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dbPath and applies
// migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Games() *GameStore { return &GameStore{db: s.db} }
func (s *Store) Saves() *SaveStore { return &SaveStore{db: s.db} }
func (s *Store) Histories() *HistoryStore { return &HistoryStore{db: s.db} }
func (s *Store) Activities() *ActivityStore { return &ActivityStore{db: s.db} }
func (s *Store) Guides() *GuideStore { return &GuideStore{db: s.db} }
