package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type SaveStore struct {
	db *sql.DB
}

const saveColumns = `id, game_id, create_time, update_time, remark, hostname, size, stared,
	directory_hash, zip_hash, directory_size, oss_path`

func scanSave(row interface{ Scan(...any) error }) (*SaveRow, error) {
	sv := &SaveRow{}
	err := row.Scan(
		&sv.ID,
		&sv.GameID,
		&sv.CreateTime,
		&sv.UpdateTime,
		&sv.Remark,
		&sv.Hostname,
		&sv.Size,
		&sv.Stared,
		&sv.DirectoryHash,
		&sv.ZipHash,
		&sv.DirectorySize,
		&sv.OssPath,
	)
	if err != nil {
		return nil, err
	}
	return sv, nil
}

func (s *SaveStore) GetByID(ctx context.Context, id string) (*SaveRow, error) {
	query := `SELECT ` + saveColumns + ` FROM saves WHERE id = ?`
	sv, err := scanSave(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get save by id: %w", err)
	}
	return sv, nil
}

// ListByGame returns a game's saves ordered by creation time, oldest first.
func (s *SaveStore) ListByGame(ctx context.Context, gameID string) ([]*SaveRow, error) {
	query := `SELECT ` + saveColumns + ` FROM saves WHERE game_id = ? ORDER BY create_time ASC`
	rows, err := s.db.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	defer rows.Close()

	var saves []*SaveRow
	for rows.Next() {
		sv, err := scanSave(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan save: %w", err)
		}
		saves = append(saves, sv)
	}
	return saves, rows.Err()
}

func (s *SaveStore) Save(ctx context.Context, sv *SaveRow) error {
	query := `
		INSERT INTO saves (` + saveColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			update_time = excluded.update_time,
			remark = excluded.remark,
			hostname = excluded.hostname,
			size = excluded.size,
			stared = excluded.stared,
			directory_hash = excluded.directory_hash,
			zip_hash = excluded.zip_hash,
			directory_size = excluded.directory_size,
			oss_path = excluded.oss_path
	`
	_, err := s.db.ExecContext(ctx, query,
		sv.ID, sv.GameID, sv.CreateTime, sv.UpdateTime, sv.Remark, sv.Hostname,
		sv.Size, sv.Stared, sv.DirectoryHash, sv.ZipHash, sv.DirectorySize, sv.OssPath,
	)
	if err != nil {
		return fmt.Errorf("failed to save save record: %w", err)
	}
	return nil
}

func (s *SaveStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saves WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete save: %w", err)
	}
	return nil
}

func (s *SaveStore) DeleteByGame(ctx context.Context, gameID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saves WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("failed to delete saves for game: %w", err)
	}
	return nil
}
