package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/whitecloud/save-agent/internal/activity"
	"github.com/whitecloud/save-agent/internal/archive"
	"github.com/whitecloud/save-agent/internal/bus"
	"github.com/whitecloud/save-agent/internal/content"
	"github.com/whitecloud/save-agent/internal/server"
	"github.com/whitecloud/save-agent/internal/store"
)

// GameState is the visible library state of one game. Values match the
// remote catalogue's encoding.
type GameState int

const (
	StateInit             GameState = 1
	StateChecked          GameState = 2
	StateRunning          GameState = 3
	StateSaving           GameState = 4
	StateSaveSizeExceeded GameState = 5
	StateCloud            GameState = 80
	StateError            GameState = 99
)

func (s GameState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateChecked:
		return "checked"
	case StateRunning:
		return "running"
	case StateSaving:
		return "saving"
	case StateSaveSizeExceeded:
		return "save-size-exceeded"
	case StateCloud:
		return "cloud"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrBackupBusy is returned when a backup is requested for a game that
// already has one in flight. The caller retries after the running pass
// finishes; requests are rejected, not queued.
var ErrBackupBusy = errors.New("backup already in progress")

// ErrSaveNotFound is returned by save-scoped operations given an unknown id.
var ErrSaveNotFound = errors.New("save not found")

// ProcessEventKind tags a process lifecycle event.
type ProcessEventKind int

const (
	ProcessStart ProcessEventKind = iota + 1
	ProcessEnd
)

// ProcessEvent is one start/stop observation for an executable.
type ProcessEvent struct {
	Kind     ProcessEventKind
	ExecPath string
}

// ProcessMonitor is the OS process enumeration collaborator. Subscribe
// keys delivery on a directory-prefix match against the executable path.
type ProcessMonitor interface {
	Running(dirPrefix string) ([]string, error)
	Subscribe(dirPrefix string, fn func(ProcessEvent)) (cancel func())
}

// deps bundles the collaborators every Game shares. Owned by the Library.
type deps struct {
	store    *store.Store
	biz      *server.Business
	transfer *Transfer
	activity *activity.Service
	monitor  ProcessMonitor
	resolver RootResolver
	dataDir  string
	hostname string

	globalBackupLimitMB int
	defaultLocalSaveNum int

	// online reports whether remote calls are worth attempting. Best-effort
	// sync paths skip the network entirely when it returns false.
	online func() bool
}

func (d *deps) backupDir(gameID string) string {
	return filepath.Join(d.dataDir, "saves", gameID)
}

func (d *deps) archivePath(gameID, saveID string) string {
	return filepath.Join(d.backupDir(gameID), saveID+".zip")
}

// Game is one library entry: persisted metadata, its save list, the
// tracked running-process set and the visible state machine.
type Game struct {
	d *deps

	mu    sync.Mutex
	row   *store.GameRow
	saves []*Save // ascending create time

	state     *bus.Value[GameState]
	savesFeed *bus.Value[[]*Save]
	current   *bus.Value[string] // current-save id, "" when no match

	// Server-owned cloud settings, refreshed on every merge and never
	// persisted locally.
	cloudSaveNum    int
	enableCloudSave bool

	running      map[string]bool
	sessionStart int64
	backupBusy   atomic.Bool
	unsubscribe  func()
}

func newGame(d *deps, row *store.GameRow, saveRows []*store.SaveRow) *Game {
	g := &Game{
		d:       d,
		row:     row,
		state:   bus.NewValue(StateInit),
		current: bus.NewValue(""),
		running: make(map[string]bool),
	}
	for _, sr := range saveRows {
		g.saves = append(g.saves, saveFromRow(sr, d.archivePath(row.ID, sr.ID)))
	}
	sortSaves(g.saves)
	g.savesFeed = bus.NewValue(g.snapshotSaves())
	return g
}

func (g *Game) ID() string { return g.row.ID }

// setCloudSettings writes the server-owned retention settings. Merge
// handlers and logout run on different goroutines, so the per-game lock
// covers both fields.
func (g *Game) setCloudSettings(num int, enabled bool) {
	g.mu.Lock()
	g.cloudSaveNum = num
	g.enableCloudSave = enabled
	g.mu.Unlock()
}

func (g *Game) cloudSettings() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cloudSaveNum, g.enableCloudSave
}

func (g *Game) Name() string { return g.row.Name }

func (g *Game) State() *bus.Value[GameState] { return g.state }

func (g *Game) Saves() *bus.Value[[]*Save] { return g.savesFeed }

// CurrentSave exposes the id of the save whose content matches the live
// save directory, or "" when none does.
func (g *Game) CurrentSave() *bus.Value[string] { return g.current }

func (g *Game) snapshotSaves() []*Save {
	out := make([]*Save, len(g.saves))
	copy(out, g.saves)
	return out
}

func (g *Game) publishSaves() {
	g.savesFeed.Set(g.snapshotSaves())
}

func (g *Game) gamePath() string { return g.row.GamePath }

// SavePath is the resolved live save directory on this machine.
func (g *Game) SavePath() string { return g.savePath() }

func (g *Game) savePath() string {
	return ParsePath(g.row.SavePath).Resolve(g.row.GamePath, g.d.resolver)
}

func (g *Game) exePath() string {
	return filepath.Join(g.row.GamePath, filepath.FromSlash(g.row.ExeFile))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CheckState verifies the game's paths, (re)binds the process-event
// subscription and settles the visible state. A failed path check parks
// the game in Error and drops the subscription until the next manual
// check.
func (g *Game) CheckState(ctx context.Context) error {
	if !exists(g.gamePath()) {
		g.fail()
		return &server.UserError{Code: server.CodeGamePathNotFound}
	}
	if !exists(g.savePath()) {
		g.fail()
		return &server.UserError{Code: server.CodeSavePathNotFound}
	}
	if !exists(g.exePath()) {
		g.fail()
		return &server.UserError{Code: server.CodeExeNotFound}
	}

	g.mu.Lock()
	if g.unsubscribe == nil && g.d.monitor != nil {
		g.unsubscribe = g.d.monitor.Subscribe(g.gamePath(), g.onProcessEvent)
		if procs, err := g.d.monitor.Running(g.gamePath()); err == nil {
			for _, p := range procs {
				g.running[p] = true
			}
			if len(g.running) > 0 && g.sessionStart == 0 {
				g.sessionStart = time.Now().Unix()
			}
		}
	}
	g.mu.Unlock()

	g.state.Set(g.settledState())
	g.RefreshCurrentSave()
	return nil
}

// fail parks the game in Error and stops reacting to process events.
func (g *Game) fail() {
	g.mu.Lock()
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	g.running = make(map[string]bool)
	g.mu.Unlock()
	g.state.Set(StateError)
}

// settledState is the resting state between backups: Running while the
// tracked process set is non-empty, Checked otherwise.
func (g *Game) settledState() GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.running) > 0 {
		return StateRunning
	}
	return StateChecked
}

func (g *Game) onProcessEvent(ev ProcessEvent) {
	switch ev.Kind {
	case ProcessStart:
		g.mu.Lock()
		wasIdle := len(g.running) == 0
		g.running[ev.ExecPath] = true
		if wasIdle {
			g.sessionStart = time.Now().Unix()
		}
		g.mu.Unlock()
		if wasIdle {
			g.state.Set(StateRunning)
		}
	case ProcessEnd:
		g.mu.Lock()
		delete(g.running, ev.ExecPath)
		idle := len(g.running) == 0
		start := g.sessionStart
		if idle {
			g.sessionStart = 0
		}
		g.mu.Unlock()
		if idle {
			go g.onSessionEnd(start)
		}
	}
}

// onSessionEnd records the finished play session and runs the automatic
// backup pass.
func (g *Game) onSessionEnd(startTime int64) {
	ctx := context.Background()
	now := time.Now().Unix()
	if startTime > 0 {
		g.recordSession(ctx, startTime, now)
	}
	if err := g.Backup(ctx, false); err != nil && !errors.Is(err, ErrBackupBusy) {
		log.Errorf("automatic backup for game %s failed: %v", g.row.ID, err)
	}
	if g.d.online() {
		if err := g.PushHistory(ctx); err != nil {
			log.Warnf("history push for game %s failed: %v", g.row.ID, err)
		}
	}
}

func (g *Game) recordSession(ctx context.Context, start, end int64) {
	row := &store.HistoryRow{
		ID:         uuid.NewString(),
		GameID:     g.row.ID,
		Host:       g.d.hostname,
		StartTime:  start,
		EndTime:    end,
		Synced:     0,
		CreateTime: time.Now().Unix(),
	}
	if err := g.d.store.Histories().Save(ctx, row); err != nil {
		log.Errorf("failed to record play session for game %s: %v", g.row.ID, err)
	}
}

// effectiveLimitBytes is the byte-size ceiling a save directory must stay
// under to be backed up. Limits are configured in megabytes.
func (g *Game) effectiveLimitBytes() int64 {
	mb := g.d.globalBackupLimitMB
	if g.row.UseCustomSaveBackupLimit && g.row.SaveBackupLimit > 0 {
		mb = g.row.SaveBackupLimit
	}
	return int64(mb) * 1024 * 1024
}

// Backup captures the live save directory into a new archive unless its
// content already matches the current save. At most one pass per game may
// run at a time; a concurrent request gets ErrBackupBusy.
func (g *Game) Backup(ctx context.Context, force bool) error {
	if !g.backupBusy.CompareAndSwap(false, true) {
		return ErrBackupBusy
	}
	defer g.backupBusy.Store(false)

	g.state.Set(StateSaving)

	savePath := g.savePath()
	dirHash, err := content.HashDirectory(savePath)
	if err != nil {
		g.fail()
		g.logBackupFailure(ctx, err)
		return &server.UserError{Code: server.CodeSavePathNotFound}
	}
	dirSize, err := content.SizeDirectory(savePath)
	if err != nil {
		g.fail()
		g.logBackupFailure(ctx, err)
		return &server.UserError{Code: server.CodeSavePathNotFound}
	}

	if !force {
		if cur := g.findSave(g.current.Get()); cur != nil && cur.matches(dirHash, dirSize) {
			g.state.Set(g.settledState())
			return nil
		}
	}

	if dirSize > g.effectiveLimitBytes() {
		log.Warnf("save directory of game %s is %d bytes, over the backup limit", g.row.ID, dirSize)
		g.state.Set(StateSaveSizeExceeded)
		return nil
	}

	save, err := g.writeArchive(ctx, savePath, dirHash, dirSize)
	if err != nil {
		g.logBackupFailure(ctx, err)
		g.state.Set(g.settledState())
		return err
	}

	g.mu.Lock()
	g.saves = append(g.saves, save)
	sortSaves(g.saves)
	g.mu.Unlock()
	g.current.Set(save.ID)
	g.publishSaves()

	g.evictExcess(ctx)
	g.syncNewSave(ctx, save)

	g.state.Set(g.settledState())
	return nil
}

// writeArchive zips the save directory into a fresh archive and persists
// the resulting record.
func (g *Game) writeArchive(ctx context.Context, savePath, dirHash string, dirSize int64) (*Save, error) {
	id := uuid.NewString()
	dest := g.d.archivePath(g.row.ID, id)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup folder: %w", err)
	}
	if err := archive.Pack(savePath, dest); err != nil {
		return nil, fmt.Errorf("failed to archive save directory: %w", err)
	}
	zipHash, err := content.HashFile(dest)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	save := &Save{
		ID:            id,
		GameID:        g.row.ID,
		CreateTime:    now,
		UpdateTime:    now,
		Hostname:      g.d.hostname,
		Size:          info.Size(),
		DirectoryHash: &dirHash,
		ZipHash:       &zipHash,
		DirectorySize: &dirSize,
		persisted:     true,
		archivePath:   dest,
	}
	if err := g.d.store.Saves().Save(ctx, save.toRow()); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("failed to persist save record: %w", err)
	}
	return save, nil
}

// syncNewSave pushes the fresh save's metadata and bytes to the remote
// store. Upload failure never fails the backup; it is recorded in the
// activity log instead.
func (g *Game) syncNewSave(ctx context.Context, save *Save) {
	_, cloudEnabled := g.cloudSettings()
	if !g.d.online() || !cloudEnabled {
		g.logActivity(ctx, g.d.activity.BackupLocal)
		return
	}
	if err := g.upload(ctx, save); err != nil {
		log.Warnf("upload of save %s failed: %v", save.ID, err)
		reason := server.CodeServer
		var ue *server.UserError
		if errors.As(err, &ue) {
			reason = ue.Code
		}
		if aerr := g.d.activity.UploadFailed(ctx, g.row.ID, reason); aerr != nil {
			log.Errorf("failed to record upload failure: %v", aerr)
		}
		return
	}
	g.logActivity(ctx, g.d.activity.BackupCloud)
}

func (g *Game) logActivity(ctx context.Context, fn func(context.Context, string) error) {
	if err := fn(ctx, g.row.ID); err != nil {
		log.Errorf("failed to record activity for game %s: %v", g.row.ID, err)
	}
}

func (g *Game) logBackupFailure(ctx context.Context, cause error) {
	if err := g.d.activity.BackupFailed(ctx, g.row.ID, cause.Error()); err != nil {
		log.Errorf("failed to record backup failure: %v", err)
	}
}

// upload asks the gateway for a signed grant, posts the archive and
// remembers the object path it landed at.
func (g *Game) upload(ctx context.Context, save *Save) error {
	sig, err := g.d.biz.GenerateGameSaveSignature(&server.SaveSignatureReq{
		GameID:        save.GameID,
		SaveID:        save.ID,
		Remark:        save.Remark,
		Stared:        save.Stared,
		Hostname:      save.Hostname,
		Size:          save.Size,
		CreateTime:    save.CreateTime,
		DirectoryHash: save.DirectoryHash,
		ZipHash:       save.ZipHash,
		DirectorySize: save.DirectorySize,
	})
	if err != nil {
		return err
	}
	key, err := g.d.transfer.Upload(sig, save.archivePath)
	if err != nil {
		return err
	}
	save.OssPath = &key
	save.UpdateTime = time.Now().Unix()
	if err := g.d.store.Saves().Save(ctx, save.toRow()); err != nil {
		return err
	}
	g.publishSaves()
	return nil
}

// evictExcess enforces the local retention count: keep the newest N
// available, non-starred local archives, delete the rest. Starred saves
// never count and are never evicted. A record whose bytes survive in the
// cloud degrades to cloud-only; one with no remote copy is dropped
// entirely.
func (g *Game) evictExcess(ctx context.Context) {
	keep := g.row.LocalSaveNum
	if keep <= 0 {
		return
	}

	g.mu.Lock()
	var candidates []*Save // ascending create time, so oldest first
	for _, s := range g.saves {
		if s.persisted && !s.Stared && !s.Deleted() {
			candidates = append(candidates, s)
		}
	}
	excess := len(candidates) - keep
	victims := candidates[:max(excess, 0)]
	g.mu.Unlock()

	for _, s := range victims {
		if err := os.Remove(s.archivePath); err != nil {
			log.Errorf("failed to delete archive of save %s: %v", s.ID, err)
			continue
		}
		if s.uploaded() {
			continue
		}
		if err := g.d.store.Saves().Delete(ctx, s.ID); err != nil {
			log.Errorf("failed to delete record of save %s: %v", s.ID, err)
		}
		g.dropSave(s.ID)
	}
	if len(victims) > 0 {
		g.publishSaves()
	}
}

func (g *Game) dropSave(saveID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, s := range g.saves {
		if s.ID == saveID {
			g.saves = append(g.saves[:i], g.saves[i+1:]...)
			return
		}
	}
}

func (g *Game) findSave(saveID string) *Save {
	if saveID == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.saves {
		if s.ID == saveID {
			return s
		}
	}
	return nil
}

// RefreshCurrentSave re-derives which save matches the live directory.
// The newest matching available save wins; no match clears the pointer.
func (g *Game) RefreshCurrentSave() {
	dirHash, err := content.HashDirectory(g.savePath())
	if err != nil {
		g.current.Set("")
		return
	}
	dirSize, err := content.SizeDirectory(g.savePath())
	if err != nil {
		g.current.Set("")
		return
	}

	g.mu.Lock()
	var match *Save
	for _, s := range g.saves { // ascending, so the last hit is the newest
		if s.Availability() != Gone && s.matches(dirHash, dirSize) {
			match = s
		}
	}
	g.mu.Unlock()

	if match == nil {
		g.current.Set("")
		return
	}
	g.current.Set(match.ID)
}

// Rollback restores the live save directory from the given save,
// downloading the archive first when only the cloud copy exists.
func (g *Game) Rollback(ctx context.Context, saveID string) error {
	save := g.findSave(saveID)
	if save == nil {
		return ErrSaveNotFound
	}

	if save.Deleted() {
		if !save.uploaded() {
			return fmt.Errorf("save %s has no local archive and no remote copy", saveID)
		}
		if err := g.download(ctx, save); err != nil {
			return err
		}
	}

	savePath := g.savePath()
	if err := os.RemoveAll(savePath); err != nil {
		return fmt.Errorf("failed to clear save directory: %w", err)
	}
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return err
	}
	if err := archive.Extract(save.archivePath, savePath); err != nil {
		return fmt.Errorf("failed to extract save %s: %w", saveID, err)
	}

	g.RefreshCurrentSave()
	return nil
}

// download materializes a cloud-only save as a local archive, upgrading a
// catalogue-only record to a persisted one.
func (g *Game) download(ctx context.Context, save *Save) error {
	url, err := g.d.biz.SignGameSaveURL(*save.OssPath)
	if err != nil {
		return err
	}
	if save.archivePath == "" {
		save.archivePath = g.d.archivePath(save.GameID, save.ID)
	}
	if err := g.d.transfer.Download(url, save.archivePath); err != nil {
		return err
	}
	if !save.persisted {
		save.persisted = true
		if err := g.d.store.Saves().Save(ctx, save.toRow()); err != nil {
			return err
		}
	}
	g.publishSaves()
	return nil
}

// StarSave toggles the starred flag. Starring is the explicit keep signal,
// so it also triggers an upload when the save has no cloud copy yet.
func (g *Game) StarSave(ctx context.Context, saveID string, stared bool) error {
	save := g.findSave(saveID)
	if save == nil {
		return ErrSaveNotFound
	}
	save.Stared = stared
	save.UpdateTime = time.Now().Unix()
	if save.persisted {
		if err := g.d.store.Saves().Save(ctx, save.toRow()); err != nil {
			return err
		}
	}
	g.publishSaves()

	if !g.d.online() {
		return nil
	}
	if stared && !save.uploaded() && !save.Deleted() {
		if err := g.upload(ctx, save); err != nil {
			return err
		}
		return nil
	}
	return g.pushSaveMeta(save)
}

// SetSaveRemark updates a save's free-text note.
func (g *Game) SetSaveRemark(ctx context.Context, saveID, remark string) error {
	save := g.findSave(saveID)
	if save == nil {
		return ErrSaveNotFound
	}
	save.Remark = remark
	save.UpdateTime = time.Now().Unix()
	if save.persisted {
		if err := g.d.store.Saves().Save(ctx, save.toRow()); err != nil {
			return err
		}
	}
	g.publishSaves()
	if g.d.online() && save.uploaded() {
		return g.pushSaveMeta(save)
	}
	return nil
}

func (g *Game) pushSaveMeta(save *Save) error {
	return g.d.biz.SyncGameSave(&server.SyncGameSaveReq{
		GameID:        save.GameID,
		SaveID:        save.ID,
		Remark:        save.Remark,
		Stared:        save.Stared,
		Hostname:      save.Hostname,
		CreateTime:    save.CreateTime,
		UpdateTime:    save.UpdateTime,
		DirectoryHash: save.DirectoryHash,
		ZipHash:       save.ZipHash,
		DirectorySize: save.DirectorySize,
	})
}

// DeleteSave removes one save everywhere it exists: local archive, local
// record, and the remote copy when authenticated.
func (g *Game) DeleteSave(ctx context.Context, saveID string) error {
	save := g.findSave(saveID)
	if save == nil {
		return ErrSaveNotFound
	}
	if save.uploaded() && g.d.online() {
		if err := g.d.biz.DeleteGameSave(save.GameID, save.ID); err != nil {
			return err
		}
	}
	if !save.Deleted() {
		if err := os.Remove(save.archivePath); err != nil {
			return err
		}
	}
	if save.persisted {
		if err := g.d.store.Saves().Delete(ctx, save.ID); err != nil {
			return err
		}
	}
	g.dropSave(saveID)
	g.publishSaves()
	if g.current.Get() == saveID {
		g.RefreshCurrentSave()
	}
	return nil
}

// PushHistory uploads play sessions not yet acknowledged by the server.
func (g *Game) PushHistory(ctx context.Context) error {
	rows, err := g.d.store.Histories().ListUnsynced(ctx, g.row.ID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	entries := make([]server.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, server.HistoryEntry{
			ID:        r.ID,
			GameID:    r.GameID,
			Host:      r.Host,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
		})
	}
	if _, err := g.d.biz.SyncGameHistory(entries); err != nil {
		return err
	}
	for _, r := range rows {
		r.Synced = 1
		if err := g.d.store.Histories().Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// PullHistory fetches sessions recorded on other machines since the last
// watermark and advances it.
func (g *Game) PullHistory(ctx context.Context) error {
	remote, err := g.d.biz.FetchGameHistory(g.row.ID, g.row.LastHistorySyncTime)
	if err != nil {
		return err
	}
	watermark := g.row.LastHistorySyncTime
	for _, h := range remote {
		row := &store.HistoryRow{
			ID:         h.ID,
			GameID:     h.GameID,
			Host:       h.Host,
			StartTime:  h.StartTime,
			EndTime:    h.EndTime,
			Synced:     1,
			CreateTime: h.CreateTime,
		}
		if err := g.d.store.Histories().Save(ctx, row); err != nil {
			return err
		}
		if h.CreateTime > watermark {
			watermark = h.CreateTime
		}
	}
	// The watermark follows the entries themselves, not this machine's
	// clock, so skew cannot skip sessions created in the gap.
	if watermark == g.row.LastHistorySyncTime {
		return nil
	}
	g.row.LastHistorySyncTime = watermark
	return g.d.store.Games().Save(ctx, g.row)
}

// Rename changes the display name and propagates it.
func (g *Game) Rename(ctx context.Context, name string) error {
	g.row.Name = name
	return g.touch(ctx)
}

// SetRetention changes how many local archives are kept.
func (g *Game) SetRetention(ctx context.Context, keep int) error {
	g.row.LocalSaveNum = keep
	if err := g.touch(ctx); err != nil {
		return err
	}
	g.evictExcess(ctx)
	return nil
}

// SetBackupLimit configures the per-game size ceiling in megabytes.
func (g *Game) SetBackupLimit(ctx context.Context, limitMB int, useCustom bool) error {
	g.row.SaveBackupLimit = limitMB
	g.row.UseCustomSaveBackupLimit = useCustom
	return g.touch(ctx)
}

// touch bumps updateTime, persists the row and pushes the metadata
// best-effort.
func (g *Game) touch(ctx context.Context) error {
	g.row.UpdateTime = time.Now().Unix()
	if err := g.d.store.Games().Save(ctx, g.row); err != nil {
		return err
	}
	if g.d.online() {
		if _, err := g.d.biz.SyncGame(g.toSyncReq()); err != nil {
			log.Warnf("failed to push game %s metadata: %v", g.row.ID, err)
		}
	}
	return nil
}

func (g *Game) toSyncReq() *server.SyncGameReq {
	cloudNum, cloudEnabled := g.cloudSettings()
	req := &server.SyncGameReq{
		GameID:          g.row.ID,
		Name:            g.row.Name,
		ExePath:         g.row.ExeFile,
		CloudSaveNum:    cloudNum,
		EnableCloudSave: cloudEnabled,
		Order:           g.row.Order,
	}
	if g.row.SavePath != "" {
		sp := g.row.SavePath
		req.SavePath = &sp
	}
	if g.row.CoverImgURL != "" {
		cover := g.row.CoverImgURL
		req.GameCoverImgURL = &cover
	}
	return req
}

// applyRemote folds a remote catalogue entry into this game. Stale entries
// are discarded field-for-field, except the server-owned cloud settings
// which are always refreshed.
func (g *Game) applyRemote(ctx context.Context, remote *server.UserGame) error {
	g.setCloudSettings(remote.CloudSaveNum, remote.EnableCloudSave)

	if remote.UpdateTime <= g.row.UpdateTime {
		return nil
	}
	g.row.Name = remote.Name
	g.row.ExeFile = remote.ExePath
	if remote.SavePath != nil && *remote.SavePath != "" {
		g.row.SavePath = *remote.SavePath
	}
	if remote.GameCoverImgURL != nil && *remote.GameCoverImgURL != g.row.CoverImgURL {
		g.row.CoverImgURL = *remote.GameCoverImgURL
	}
	g.row.UpdateTime = remote.UpdateTime
	return g.d.store.Games().Save(ctx, g.row)
}

// mergeRemoteSaves folds the remote save list for this game into the local
// one. Known ids merge under the stale-write guard; unknown ids join the
// list as catalogue-only records.
func (g *Game) mergeRemoteSaves(ctx context.Context, remotes []server.UserGameSave) {
	changed := false
	for i := range remotes {
		r := &remotes[i]
		if local := g.findSave(r.SaveID); local != nil {
			if local.applyRemote(r) {
				changed = true
				if local.persisted {
					if err := g.d.store.Saves().Save(ctx, local.toRow()); err != nil {
						log.Errorf("failed to persist merged save %s: %v", local.ID, err)
					}
				}
			}
			continue
		}
		g.mu.Lock()
		g.saves = append(g.saves, saveFromRemote(r, g.d.archivePath(r.GameID, r.SaveID)))
		sortSaves(g.saves)
		g.mu.Unlock()
		changed = true
	}
	if changed {
		g.publishSaves()
	}
}

// applySaveDelete handles a save-deleted push: a catalogue-only record
// disappears, a local one merely loses its cloud copy. The cleared link
// is written through so a restart cannot resurrect it.
func (g *Game) applySaveDelete(ctx context.Context, saveID string) {
	save := g.findSave(saveID)
	if save == nil {
		return
	}
	if !save.persisted {
		g.dropSave(saveID)
	} else {
		save.OssPath = nil
		if err := g.d.store.Saves().Save(ctx, save.toRow()); err != nil {
			log.Errorf("failed to persist cleared cloud link of save %s: %v", saveID, err)
		}
	}
	g.publishSaves()
}

// dropRemoteSaves strips catalogue-only records and cloud linkage from the
// in-memory list; the persisted rows are untouched. Used on logout.
func (g *Game) dropRemoteSaves() {
	g.mu.Lock()
	kept := g.saves[:0]
	for _, s := range g.saves {
		if s.persisted {
			kept = append(kept, s)
		}
	}
	g.saves = kept
	g.mu.Unlock()
	g.publishSaves()
}

// removeFromLocal tears the game down on this machine: subscription,
// archives, and every persisted row that references it.
func (g *Game) removeFromLocal(ctx context.Context) error {
	g.mu.Lock()
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	g.mu.Unlock()

	if err := os.RemoveAll(g.d.backupDir(g.row.ID)); err != nil {
		return fmt.Errorf("failed to delete backup folder: %w", err)
	}
	st := g.d.store
	for _, del := range []func(context.Context, string) error{
		st.Saves().DeleteByGame,
		st.Histories().DeleteByGame,
		st.Activities().DeleteByGame,
		st.Guides().DeleteByGame,
	} {
		if err := del(ctx, g.row.ID); err != nil {
			return err
		}
	}
	return st.Games().Delete(ctx, g.row.ID)
}
