package store

import (
	"context"
	"database/sql"
	"fmt"
)

type ActivityStore struct {
	db *sql.DB
}

func (s *ActivityStore) Create(ctx context.Context, a *ActivityRow) error {
	query := `INSERT INTO activities (game_id, type, data, created_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, a.GameID, a.Type, a.Data, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// ListByGame returns a game's activities, newest first.
func (s *ActivityStore) ListByGame(ctx context.Context, gameID string) ([]*ActivityRow, error) {
	query := `SELECT id, game_id, type, data, created_at FROM activities
		WHERE game_id = ? ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*ActivityRow
	for rows.Next() {
		a := &ActivityRow{}
		if err := rows.Scan(&a.ID, &a.GameID, &a.Type, &a.Data, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (s *ActivityStore) DeleteByGame(ctx context.Context, gameID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("failed to delete activities for game: %w", err)
	}
	return nil
}

type GuideStore struct {
	db *sql.DB
}

func (s *GuideStore) GetByGame(ctx context.Context, gameID string) (*GuideRow, error) {
	query := `SELECT game_id, content, always_top FROM guides WHERE game_id = ?`
	g := &GuideRow{}
	err := s.db.QueryRowContext(ctx, query, gameID).Scan(&g.GameID, &g.Content, &g.AlwaysTop)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get guide: %w", err)
	}
	return g, nil
}

func (s *GuideStore) Save(ctx context.Context, g *GuideRow) error {
	query := `
		INSERT INTO guides (game_id, content, always_top)
		VALUES (?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			content = excluded.content,
			always_top = excluded.always_top
	`
	if _, err := s.db.ExecContext(ctx, query, g.GameID, g.Content, g.AlwaysTop); err != nil {
		return fmt.Errorf("failed to save guide: %w", err)
	}
	return nil
}

func (s *GuideStore) DeleteByGame(ctx context.Context, gameID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM guides WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("failed to delete guide: %w", err)
	}
	return nil
}
