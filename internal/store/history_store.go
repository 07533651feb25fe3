package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type HistoryStore struct {
	db *sql.DB
}

const historyColumns = `id, game_id, host, start_time, end_time, synced, create_time`

func scanHistory(row interface{ Scan(...any) error }) (*HistoryRow, error) {
	h := &HistoryRow{}
	err := row.Scan(&h.ID, &h.GameID, &h.Host, &h.StartTime, &h.EndTime, &h.Synced, &h.CreateTime)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *HistoryStore) GetByID(ctx context.Context, id string) (*HistoryRow, error) {
	query := `SELECT ` + historyColumns + ` FROM histories WHERE id = ?`
	h, err := scanHistory(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get history by id: %w", err)
	}
	return h, nil
}

func (s *HistoryStore) ListByGame(ctx context.Context, gameID string) ([]*HistoryRow, error) {
	query := `SELECT ` + historyColumns + ` FROM histories WHERE game_id = ? ORDER BY end_time DESC`
	return s.list(ctx, query, gameID)
}

// ListUnsynced returns the sessions still pending a push to the server.
func (s *HistoryStore) ListUnsynced(ctx context.Context, gameID string) ([]*HistoryRow, error) {
	query := `SELECT ` + historyColumns + ` FROM histories WHERE game_id = ? AND synced = 0 ORDER BY end_time ASC`
	return s.list(ctx, query, gameID)
}

func (s *HistoryStore) list(ctx context.Context, query string, args ...any) ([]*HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list histories: %w", err)
	}
	defer rows.Close()

	var histories []*HistoryRow
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		histories = append(histories, h)
	}
	return histories, rows.Err()
}

func (s *HistoryStore) Save(ctx context.Context, h *HistoryRow) error {
	query := `
		INSERT INTO histories (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host = excluded.host,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			synced = excluded.synced,
			create_time = excluded.create_time
	`
	_, err := s.db.ExecContext(ctx, query, h.ID, h.GameID, h.Host, h.StartTime, h.EndTime, h.Synced, h.CreateTime)
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (s *HistoryStore) DeleteByGame(ctx context.Context, gameID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM histories WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("failed to delete histories for game: %w", err)
	}
	return nil
}
