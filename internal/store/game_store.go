package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type GameStore struct {
	db *sql.DB
}

const gameColumns = `id, name, game_path, save_path, exe_file, create_time, cover_img_url,
	local_save_num, order_num, update_time, last_history_sync_time,
	save_backup_limit, use_custom_save_backup_limit`

func scanGame(row interface{ Scan(...any) error }) (*GameRow, error) {
	g := &GameRow{}
	err := row.Scan(
		&g.ID,
		&g.Name,
		&g.GamePath,
		&g.SavePath,
		&g.ExeFile,
		&g.CreateTime,
		&g.CoverImgURL,
		&g.LocalSaveNum,
		&g.Order,
		&g.UpdateTime,
		&g.LastHistorySyncTime,
		&g.SaveBackupLimit,
		&g.UseCustomSaveBackupLimit,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetByID returns nil, nil when no row matches.
func (s *GameStore) GetByID(ctx context.Context, id string) (*GameRow, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = ?`
	g, err := scanGame(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get game by id: %w", err)
	}
	return g, nil
}

// List returns every game ordered by the manual ordering key, newest first.
func (s *GameStore) List(ctx context.Context) ([]*GameRow, error) {
	query := `SELECT ` + gameColumns + ` FROM games ORDER BY order_num DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []*GameRow
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// Save inserts or fully replaces the row.
func (s *GameStore) Save(ctx context.Context, g *GameRow) error {
	query := `
		INSERT INTO games (` + gameColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			game_path = excluded.game_path,
			save_path = excluded.save_path,
			exe_file = excluded.exe_file,
			cover_img_url = excluded.cover_img_url,
			local_save_num = excluded.local_save_num,
			order_num = excluded.order_num,
			update_time = excluded.update_time,
			last_history_sync_time = excluded.last_history_sync_time,
			save_backup_limit = excluded.save_backup_limit,
			use_custom_save_backup_limit = excluded.use_custom_save_backup_limit
	`
	_, err := s.db.ExecContext(ctx, query,
		g.ID, g.Name, g.GamePath, g.SavePath, g.ExeFile, g.CreateTime, g.CoverImgURL,
		g.LocalSaveNum, g.Order, g.UpdateTime, g.LastHistorySyncTime,
		g.SaveBackupLimit, g.UseCustomSaveBackupLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

func (s *GameStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}
	return nil
}
