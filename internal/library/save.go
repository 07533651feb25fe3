package library

import (
	"os"
	"sort"

	"github.com/whitecloud/save-agent/internal/server"
	"github.com/whitecloud/save-agent/internal/store"
)

// Availability is the derived placement of one save's bytes.
type Availability int

const (
	// LocalOnly means the archive exists on disk and was never uploaded.
	LocalOnly Availability = iota + 1
	// LocalAndCloud means the archive exists on disk and on the remote store.
	LocalAndCloud
	// CloudOnly means only the remote copy remains; the save is fetchable
	// on demand.
	CloudOnly
	// Gone means neither copy exists. Gone saves are kept out of retention
	// and current-save selection.
	Gone
)

// Save is one point-in-time backup of a game's save directory. A save
// known only from the remote catalogue carries persisted == false and has
// no row in the local store until it is downloaded.
type Save struct {
	ID            string
	GameID        string
	CreateTime    int64
	UpdateTime    int64
	Remark        string
	Hostname      string
	Size          int64
	Stared        bool
	DirectoryHash *string
	ZipHash       *string
	DirectorySize *int64
	OssPath       *string

	persisted   bool
	archivePath string
}

func saveFromRow(row *store.SaveRow, archivePath string) *Save {
	return &Save{
		ID:            row.ID,
		GameID:        row.GameID,
		CreateTime:    row.CreateTime,
		UpdateTime:    row.UpdateTime,
		Remark:        row.Remark,
		Hostname:      row.Hostname,
		Size:          row.Size,
		Stared:        row.Stared,
		DirectoryHash: row.DirectoryHash,
		ZipHash:       row.ZipHash,
		DirectorySize: row.DirectorySize,
		OssPath:       row.OssPath,
		persisted:     true,
		archivePath:   archivePath,
	}
}

func saveFromRemote(remote *server.UserGameSave, archivePath string) *Save {
	oss := remote.OssPath
	return &Save{
		ID:            remote.SaveID,
		GameID:        remote.GameID,
		CreateTime:    remote.CreateTime,
		UpdateTime:    remote.UpdateTime,
		Remark:        remote.Remark,
		Hostname:      remote.Hostname,
		Size:          remote.Size,
		Stared:        remote.Stared,
		DirectoryHash: remote.DirectoryHash,
		ZipHash:       remote.ZipHash,
		DirectorySize: remote.DirectorySize,
		OssPath:       &oss,
		archivePath:   archivePath,
	}
}

func (s *Save) toRow() *store.SaveRow {
	return &store.SaveRow{
		ID:            s.ID,
		GameID:        s.GameID,
		CreateTime:    s.CreateTime,
		UpdateTime:    s.UpdateTime,
		Remark:        s.Remark,
		Hostname:      s.Hostname,
		Size:          s.Size,
		Stared:        s.Stared,
		DirectoryHash: s.DirectoryHash,
		ZipHash:       s.ZipHash,
		DirectorySize: s.DirectorySize,
		OssPath:       s.OssPath,
	}
}

// ArchivePath is where this save's zip lives (or would live) on disk.
func (s *Save) ArchivePath() string { return s.archivePath }

// Deleted reports whether the local archive is absent. It is derived from
// the filesystem on every call, never stored.
func (s *Save) Deleted() bool {
	if s.archivePath == "" {
		return true
	}
	_, err := os.Stat(s.archivePath)
	return err != nil
}

func (s *Save) uploaded() bool {
	return s.OssPath != nil && *s.OssPath != ""
}

// Availability classifies the save by where its bytes currently are.
func (s *Save) Availability() Availability {
	deleted := s.Deleted()
	switch {
	case !deleted && s.uploaded():
		return LocalAndCloud
	case !deleted:
		return LocalOnly
	case s.uploaded():
		return CloudOnly
	default:
		return Gone
	}
}

// matches reports whether this save's content identity equals the given
// live-directory fingerprint.
func (s *Save) matches(dirHash string, dirSize int64) bool {
	if s.DirectoryHash == nil || s.DirectorySize == nil {
		return false
	}
	return *s.DirectoryHash == dirHash && *s.DirectorySize == dirSize
}

// applyRemote folds a remote catalogue entry into this save. Entries whose
// updateTime is not newer than the local one are discarded so an
// out-of-order merge never regresses a fresher local edit.
func (s *Save) applyRemote(remote *server.UserGameSave) bool {
	if remote.UpdateTime <= s.UpdateTime {
		return false
	}
	s.Remark = remote.Remark
	s.Stared = remote.Stared
	s.UpdateTime = remote.UpdateTime
	if remote.OssPath != "" {
		oss := remote.OssPath
		s.OssPath = &oss
	}
	return true
}

// sortSaves orders a save list by ascending creation time, the invariant
// every list mutation restores.
func sortSaves(saves []*Save) {
	sort.SliceStable(saves, func(i, j int) bool {
		return saves[i].CreateTime < saves[j].CreateTime
	})
}
