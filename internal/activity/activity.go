// Package activity keeps the append-only per-game record of backup and
// sync events used for the diagnostics timeline. It is not safety-critical:
// write failures are logged and swallowed by callers that choose to.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/whitecloud/save-agent/internal/server"
	"github.com/whitecloud/save-agent/internal/store"
)

// Event types.
const (
	TypeBackupLocal       = "SAVE_BACKUP_LOCAL"
	TypeBackupCloud       = "SAVE_BACKUP_CLOUD"
	TypeUploadFailed      = "SAVE_UPLOAD_FAILED"
	TypeBackupLocalFailed = "SAVE_BACKUP_LOCAL_FAILED"
	typeGameTime          = "GAME_TIME"
)

// Entry is one rendered timeline item.
type Entry struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type failureData struct {
	Reason string `json:"reason"`
}

// Service writes and reads activity rows.
type Service struct {
	activities *store.ActivityStore
	histories  *store.HistoryStore
}

func NewService(activities *store.ActivityStore, histories *store.HistoryStore) *Service {
	return &Service{activities: activities, histories: histories}
}

func (s *Service) create(ctx context.Context, gameID, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.activities.Create(ctx, &store.ActivityRow{
		GameID:    gameID,
		Type:      typ,
		Data:      string(raw),
		CreatedAt: time.Now().Unix(),
	})
}

// BackupLocal records a backup that stayed local only.
func (s *Service) BackupLocal(ctx context.Context, gameID string) error {
	return s.create(ctx, gameID, TypeBackupLocal, struct{}{})
}

// BackupCloud records a backup that also reached the remote store.
func (s *Service) BackupCloud(ctx context.Context, gameID string) error {
	return s.create(ctx, gameID, TypeBackupCloud, struct{}{})
}

// UploadFailed records a backup whose upload leg failed; the local backup
// itself succeeded.
func (s *Service) UploadFailed(ctx context.Context, gameID, reason string) error {
	return s.create(ctx, gameID, TypeUploadFailed, failureData{Reason: reason})
}

// BackupFailed records a backup attempt that failed outright.
func (s *Service) BackupFailed(ctx context.Context, gameID, reason string) error {
	return s.create(ctx, gameID, TypeBackupLocalFailed, failureData{Reason: reason})
}

// Timeline returns the combined backup events and play sessions for one
// game, newest first.
func (s *Service) Timeline(ctx context.Context, gameID string) ([]Entry, error) {
	rows, err := s.activities.ListByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			ID:        fmt.Sprintf("%d", row.ID),
			GameID:    row.GameID,
			Type:      row.Type,
			Content:   renderContent(row.Type, row.Data),
			CreatedAt: time.Unix(row.CreatedAt, 0),
		})
	}

	histories, err := s.histories.ListByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, h := range histories {
		entries = append(entries, Entry{
			ID:        h.ID,
			GameID:    h.GameID,
			Type:      typeGameTime,
			Content:   fmt.Sprintf("played on %s for %s", h.Host, formatGameTime(h.EndTime-h.StartTime)),
			CreatedAt: time.Unix(h.EndTime, 0),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func renderContent(typ, data string) string {
	switch typ {
	case TypeBackupLocal:
		return "save backed up"
	case TypeBackupCloud:
		return "save backed up and uploaded to cloud storage"
	case TypeUploadFailed:
		var d failureData
		json.Unmarshal([]byte(data), &d)
		return "save upload failed: " + server.MessageForCode(d.Reason)
	case TypeBackupLocalFailed:
		return "save backup failed"
	}
	return ""
}

func formatGameTime(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
