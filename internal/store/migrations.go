package store

import (
	"database/sql"
	"fmt"
)

const createGamesTable = `
CREATE TABLE IF NOT EXISTS games (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	game_path TEXT NOT NULL,
	save_path TEXT NOT NULL,
	exe_file TEXT NOT NULL,
	create_time INTEGER NOT NULL,
	cover_img_url TEXT NOT NULL DEFAULT '',
	local_save_num INTEGER NOT NULL DEFAULT 0,
	order_num INTEGER NOT NULL DEFAULT 0,
	update_time INTEGER NOT NULL DEFAULT 0,
	last_history_sync_time INTEGER NOT NULL DEFAULT 0,
	save_backup_limit INTEGER NOT NULL DEFAULT 100,
	use_custom_save_backup_limit INTEGER NOT NULL DEFAULT 0
)`

const createSavesTable = `
CREATE TABLE IF NOT EXISTS saves (
	id TEXT PRIMARY KEY,
	game_id TEXT NOT NULL,
	create_time INTEGER NOT NULL,
	update_time INTEGER NOT NULL DEFAULT 0,
	remark TEXT NOT NULL DEFAULT '',
	hostname TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	stared INTEGER NOT NULL DEFAULT 0,
	directory_hash TEXT,
	zip_hash TEXT,
	directory_size INTEGER,
	oss_path TEXT
)`

const createHistoriesTable = `
CREATE TABLE IF NOT EXISTS histories (
	id TEXT PRIMARY KEY,
	game_id TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	create_time INTEGER NOT NULL DEFAULT 0
)`

const createActivitiesTable = `
CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
)`

const createGuidesTable = `
CREATE TABLE IF NOT EXISTS guides (
	game_id TEXT PRIMARY KEY,
	content TEXT NOT NULL DEFAULT '',
	always_top INTEGER NOT NULL DEFAULT 0
)`

const createIndices = `
CREATE INDEX IF NOT EXISTS idx_saves_game_id ON saves(game_id);
CREATE INDEX IF NOT EXISTS idx_histories_game_id ON histories(game_id);
CREATE INDEX IF NOT EXISTS idx_activities_game_id ON activities(game_id)`

// applyMigrations applies all schema migrations in order.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	migrations := []struct {
		version int
		name    string
		sql     string
	}{
		{1, "create_games_table", createGamesTable},
		{2, "create_saves_table", createSavesTable},
		{3, "create_histories_table", createHistoriesTable},
		{4, "create_activities_table", createActivitiesTable},
		{5, "create_guides_table", createGuidesTable},
		{6, "create_indices", createIndices},
	}

	for _, m := range migrations {
		var n int
		err := db.QueryRow("SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version).Scan(&n)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}
