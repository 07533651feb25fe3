// Package library owns the game catalogue: the local entities, their save
// lists and state machines, and the reconciliation of local state against
// the remote catalogue over the gateway connection.
package library

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/whitecloud/save-agent/internal/activity"
	"github.com/whitecloud/save-agent/internal/bus"
	"github.com/whitecloud/save-agent/internal/server"
	"github.com/whitecloud/save-agent/internal/store"
)

// Options wires a Library to its collaborators.
type Options struct {
	Store    *store.Store
	Client   *server.Client
	Monitor  ProcessMonitor
	Resolver RootResolver
	Activity *activity.Service
	DataDir  string
	Hostname string

	// GlobalBackupLimitMB caps save-directory size for games without a
	// custom limit.
	GlobalBackupLimitMB int
	// DefaultLocalSaveNum seeds the retention count of newly imported games.
	DefaultLocalSaveNum int
}

// Library is the in-memory registry of games and ghosts. It is the only
// component that mutates the catalogue; everything else observes it
// through the exposed values.
type Library struct {
	d      *deps
	client *server.Client
	auth   *server.Auth

	mu     sync.Mutex
	games  map[string]*Game
	ghosts map[string]*RemoteGame

	gamesFeed  *bus.Value[[]*Game]
	remoteFeed *bus.Value[[]*RemoteGame]
	loggedIn   *bus.Value[bool]
	storage    *bus.Value[server.StorageUpdate]

	authenticated atomic.Bool
	unsubs        []func()
}

func New(opts Options) *Library {
	l := &Library{
		client:     opts.Client,
		auth:       opts.Client.Auth(),
		games:      make(map[string]*Game),
		ghosts:     make(map[string]*RemoteGame),
		gamesFeed:  bus.NewValue[[]*Game](nil),
		remoteFeed: bus.NewValue[[]*RemoteGame](nil),
		loggedIn:   bus.NewValue(false),
		storage:    bus.NewValue(server.StorageUpdate{}),
	}
	l.d = &deps{
		store:               opts.Store,
		biz:                 opts.Client.Business(),
		transfer:            NewTransfer(),
		activity:            opts.Activity,
		monitor:             opts.Monitor,
		resolver:            opts.Resolver,
		dataDir:             opts.DataDir,
		hostname:            opts.Hostname,
		globalBackupLimitMB: opts.GlobalBackupLimitMB,
		defaultLocalSaveNum: opts.DefaultLocalSaveNum,
		online:              l.online,
	}
	return l
}

func (l *Library) online() bool {
	return l.authenticated.Load() && l.client.State().Get() == server.Connected
}

func (l *Library) Games() *bus.Value[[]*Game] { return l.gamesFeed }

func (l *Library) RemoteGames() *bus.Value[[]*RemoteGame] { return l.remoteFeed }

func (l *Library) LoggedIn() *bus.Value[bool] { return l.loggedIn }

func (l *Library) Storage() *bus.Value[server.StorageUpdate] { return l.storage }

// Game looks a registered game up by id.
func (l *Library) Game(id string) *Game {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.games[id]
}

// Load populates the registry from the local store and runs the first
// state check on every game. Check failures park the game in Error and do
// not abort the load.
func (l *Library) Load(ctx context.Context) error {
	rows, err := l.d.store.Games().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load game list: %w", err)
	}
	for _, row := range rows {
		saveRows, err := l.d.store.Saves().ListByGame(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("failed to load saves of game %s: %w", row.ID, err)
		}
		g := newGame(l.d, row, saveRows)
		l.mu.Lock()
		l.games[row.ID] = g
		l.mu.Unlock()
		if err := g.CheckState(ctx); err != nil {
			log.Warnf("game %s failed its state check: %v", row.ID, err)
		}
	}
	l.publishGames()
	return nil
}

// Start subscribes the library to the gateway's push notifications and to
// connection-state changes for session resumption. The returned function
// detaches everything.
func (l *Library) Start() func() {
	l.unsubs = append(l.unsubs,
		server.SubscribeNotify(l.client, server.NotifyGameUpdate, l.onGameUpdate),
		server.SubscribeNotify(l.client, server.NotifyGameDeleted, l.onGameDeleted),
		server.SubscribeNotify(l.client, server.NotifyGameSaveUpdate, l.onSaveUpdate),
		server.SubscribeNotify(l.client, server.NotifyGameSaveDelete, l.onSaveDelete),
		server.SubscribeNotify(l.client, server.NotifyGameHistoryUpdate, l.onHistoryUpdate),
		server.SubscribeNotify(l.client, server.NotifyStorageUpdate, func(s server.StorageUpdate) {
			l.storage.Set(s)
		}),
		l.client.State().Subscribe(l.onConnState),
	)
	return func() {
		for _, u := range l.unsubs {
			u()
		}
		l.unsubs = nil
	}
}

// onConnState resumes the session after a reconnect. The token is still
// held by the client; the server just needs the login restated.
func (l *Library) onConnState(s server.State) {
	if s != server.Connected || !l.authenticated.Load() {
		return
	}
	go func() {
		if _, err := l.auth.ReconnectLogin(); err != nil {
			log.Warnf("session resume failed: %v", err)
			l.setAuthenticated(false)
			return
		}
		if err := l.PullCatalogue(context.Background()); err != nil {
			log.Warnf("catalogue pull after reconnect failed: %v", err)
		}
	}()
}

func (l *Library) setAuthenticated(v bool) {
	l.authenticated.Store(v)
	l.loggedIn.Set(v)
}

// Login authenticates, then pushes pending history and pulls the remote
// catalogue. The pull is best-effort; login succeeds even when it fails.
func (l *Library) Login(ctx context.Context, username, password string) error {
	res, err := l.auth.Login(username, password)
	if err != nil {
		return err
	}
	l.client.SetToken(res.Authorization.Token)
	l.setAuthenticated(true)
	l.storage.Set(res.Storage)

	for _, g := range l.snapshotGames() {
		if err := g.PushHistory(ctx); err != nil {
			log.Warnf("history push for game %s failed: %v", g.ID(), err)
		}
	}
	if err := l.PullCatalogue(ctx); err != nil {
		log.Warnf("catalogue pull after login failed: %v", err)
	}
	return nil
}

// Logout drops the session. Catalogue ghosts disappear and local games
// lose their in-memory cloud linkage; persisted rows are untouched so the
// next login restores everything.
func (l *Library) Logout(ctx context.Context) error {
	if l.online() {
		if err := l.auth.Logout(); err != nil {
			log.Warnf("logout call failed: %v", err)
		}
	}
	l.setAuthenticated(false)
	l.client.SetToken("")

	l.mu.Lock()
	l.ghosts = make(map[string]*RemoteGame)
	l.mu.Unlock()
	l.publishRemote()

	for _, g := range l.snapshotGames() {
		g.dropRemoteSaves()
		g.setCloudSettings(0, false)
	}
	return nil
}

func (l *Library) snapshotGames() []*Game {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Game, 0, len(l.games))
	for _, g := range l.games {
		out = append(out, g)
	}
	return out
}

func (l *Library) publishGames() {
	games := l.snapshotGames()
	sort.SliceStable(games, func(i, j int) bool {
		return games[i].row.Order > games[j].row.Order
	})
	l.gamesFeed.Set(games)
}

func (l *Library) publishRemote() {
	l.mu.Lock()
	ghosts := make([]*RemoteGame, 0, len(l.ghosts))
	for _, r := range l.ghosts {
		ghosts = append(ghosts, r)
	}
	l.mu.Unlock()
	sort.SliceStable(ghosts, func(i, j int) bool {
		return ghosts[i].Order > ghosts[j].Order
	})
	l.remoteFeed.Set(ghosts)
}

// PullCatalogue fetches the full remote game list and folds it into the
// registry: known games merge, unknown ones become ghosts, and local
// games the authenticated account no longer owns are removed along with
// their archives.
func (l *Library) PullCatalogue(ctx context.Context) error {
	remotes, err := l.d.biz.FetchUserGame()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(remotes))
	for i := range remotes {
		ug := &remotes[i]
		seen[ug.GameID] = true
		if err := l.mergeGame(ctx, ug, true); err != nil {
			log.Errorf("failed to merge game %s: %v", ug.GameID, err)
		}
	}

	for _, g := range l.snapshotGames() {
		if !seen[g.ID()] {
			log.Infof("game %s is no longer in the account catalogue, removing locally", g.ID())
			if err := l.dropGame(ctx, g); err != nil {
				log.Errorf("failed to remove game %s: %v", g.ID(), err)
			}
		}
	}

	// Ghosts the catalogue no longer lists were deleted server-side,
	// possibly while this agent was offline.
	l.mu.Lock()
	for id := range l.ghosts {
		if !seen[id] {
			delete(l.ghosts, id)
		}
	}
	l.mu.Unlock()

	l.publishGames()
	l.publishRemote()
	return nil
}

// mergeGame applies one remote catalogue entry. withSaves additionally
// pulls and folds the game's remote save list, which the full catalogue
// pull wants and single push events do not.
func (l *Library) mergeGame(ctx context.Context, ug *server.UserGame, withSaves bool) error {
	l.mu.Lock()
	g := l.games[ug.GameID]
	l.mu.Unlock()

	if ug.Deleted {
		if g != nil {
			return l.dropGame(ctx, g)
		}
		l.mu.Lock()
		delete(l.ghosts, ug.GameID)
		l.mu.Unlock()
		return nil
	}

	if g == nil {
		l.mu.Lock()
		l.ghosts[ug.GameID] = remoteGameFrom(ug)
		l.mu.Unlock()
		return nil
	}

	if err := g.applyRemote(ctx, ug); err != nil {
		return err
	}
	if withSaves {
		saves, err := l.d.biz.FetchGameSave(ug.GameID)
		if err != nil {
			return err
		}
		g.mergeRemoteSaves(ctx, saves)
		if err := g.PullHistory(ctx); err != nil {
			log.Warnf("history pull for game %s failed: %v", ug.GameID, err)
		}
	}
	return nil
}

func (l *Library) dropGame(ctx context.Context, g *Game) error {
	if err := g.removeFromLocal(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.games, g.ID())
	l.mu.Unlock()
	return nil
}

func (l *Library) onGameUpdate(ug server.UserGame) {
	if err := l.mergeGame(context.Background(), &ug, false); err != nil {
		log.Errorf("failed to apply game update for %s: %v", ug.GameID, err)
	}
	l.publishGames()
	l.publishRemote()
}

func (l *Library) onGameDeleted(ev server.GameDeleted) {
	l.mu.Lock()
	g := l.games[ev.GameID]
	_, isGhost := l.ghosts[ev.GameID]
	delete(l.ghosts, ev.GameID)
	l.mu.Unlock()

	if g != nil {
		if err := l.dropGame(context.Background(), g); err != nil {
			log.Errorf("failed to remove deleted game %s: %v", ev.GameID, err)
		}
		l.publishGames()
	}
	if isGhost {
		l.publishRemote()
	}
}

func (l *Library) onSaveUpdate(us server.UserGameSave) {
	g := l.Game(us.GameID)
	if g == nil {
		return
	}
	g.mergeRemoteSaves(context.Background(), []server.UserGameSave{us})
}

func (l *Library) onSaveDelete(ev server.GameSaveDeleted) {
	g := l.Game(ev.GameID)
	if g == nil {
		return
	}
	g.applySaveDelete(context.Background(), ev.SaveID)
}

func (l *Library) onHistoryUpdate(h server.GameHistory) {
	row := &store.HistoryRow{
		ID:         h.ID,
		GameID:     h.GameID,
		Host:       h.Host,
		StartTime:  h.StartTime,
		EndTime:    h.EndTime,
		Synced:     1,
		CreateTime: h.CreateTime,
	}
	if err := l.d.store.Histories().Save(context.Background(), row); err != nil {
		log.Errorf("failed to store pushed history %s: %v", h.ID, err)
	}
}

// ImportGame registers a locally installed game. savePath is absolute and
// re-encoded against the well-known roots before it is stored.
func (l *Library) ImportGame(ctx context.Context, name, gamePath, savePath, exeRel string) (*Game, error) {
	now := time.Now().Unix()
	row := &store.GameRow{
		ID:              uuid.NewString(),
		Name:            name,
		GamePath:        gamePath,
		SavePath:        EncodePath(savePath, gamePath, l.d.resolver),
		ExeFile:         exeRel,
		CreateTime:      now,
		UpdateTime:      now,
		LocalSaveNum:    l.d.defaultLocalSaveNum,
		Order:           l.nextOrder(),
		SaveBackupLimit: l.d.globalBackupLimitMB,
	}
	return l.register(ctx, row)
}

// ImportRemoteGame binds a catalogue ghost to a local install, turning it
// into a real game and pulling its saves down.
func (l *Library) ImportRemoteGame(ctx context.Context, gameID, gamePath string) (*Game, error) {
	l.mu.Lock()
	ghost := l.ghosts[gameID]
	l.mu.Unlock()
	if ghost == nil {
		return nil, fmt.Errorf("unknown remote game %s", gameID)
	}

	savePath := tagGameRoot
	if ghost.SavePath != nil && *ghost.SavePath != "" {
		savePath = *ghost.SavePath
	}
	now := time.Now().Unix()
	row := &store.GameRow{
		ID:              ghost.GameID,
		Name:            ghost.Name,
		GamePath:        gamePath,
		SavePath:        savePath,
		ExeFile:         ghost.ExePath,
		CreateTime:      now,
		UpdateTime:      ghost.UpdateTime,
		LocalSaveNum:    l.d.defaultLocalSaveNum,
		Order:           l.nextOrder(),
		SaveBackupLimit: l.d.globalBackupLimitMB,
	}
	if ghost.CoverImgURL != nil {
		row.CoverImgURL = *ghost.CoverImgURL
	}

	g, err := l.register(ctx, row)
	if err != nil {
		return nil, err
	}
	g.setCloudSettings(ghost.CloudSaveNum, ghost.EnableCloudSave)

	l.mu.Lock()
	delete(l.ghosts, gameID)
	l.mu.Unlock()
	l.publishRemote()

	if saves, err := l.d.biz.FetchGameSave(gameID); err == nil {
		g.mergeRemoteSaves(ctx, saves)
	} else {
		log.Warnf("failed to fetch saves of imported game %s: %v", gameID, err)
	}
	return g, nil
}

func (l *Library) register(ctx context.Context, row *store.GameRow) (*Game, error) {
	if err := l.d.store.Games().Save(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist game: %w", err)
	}
	g := newGame(l.d, row, nil)
	l.mu.Lock()
	l.games[row.ID] = g
	l.mu.Unlock()

	if err := g.CheckState(ctx); err != nil {
		log.Warnf("imported game %s failed its state check: %v", row.ID, err)
	}
	l.publishGames()

	if l.online() {
		if _, err := l.d.biz.SyncGame(g.toSyncReq()); err != nil {
			log.Warnf("failed to push imported game %s: %v", row.ID, err)
		}
	}
	return g, nil
}

func (l *Library) nextOrder() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := 0
	for _, g := range l.games {
		if g.row.Order >= next {
			next = g.row.Order + 1
		}
	}
	return next
}

// RemoveGame deletes a game everywhere. The remote removal is attempted
// first so a gateway refusal leaves local state intact.
func (l *Library) RemoveGame(ctx context.Context, gameID string) error {
	g := l.Game(gameID)
	if g == nil {
		return fmt.Errorf("unknown game %s", gameID)
	}
	if l.online() {
		if err := l.d.biz.RemoveGame(gameID); err != nil {
			return err
		}
	}
	if err := l.dropGame(ctx, g); err != nil {
		return err
	}
	l.publishGames()
	return nil
}

// SwapOrder exchanges the manual ordering keys of two games.
func (l *Library) SwapOrder(ctx context.Context, aID, bID string) error {
	a, b := l.Game(aID), l.Game(bID)
	if a == nil || b == nil {
		return fmt.Errorf("unknown game in swap (%s, %s)", aID, bID)
	}
	a.row.Order, b.row.Order = b.row.Order, a.row.Order
	if err := a.touch(ctx); err != nil {
		return err
	}
	if err := b.touch(ctx); err != nil {
		return err
	}
	l.publishGames()
	return nil
}

// Guide returns the per-game note, or nil when none was written.
func (l *Library) Guide(ctx context.Context, gameID string) (*store.GuideRow, error) {
	return l.d.store.Guides().GetByGame(ctx, gameID)
}

// SetGuide writes the per-game note.
func (l *Library) SetGuide(ctx context.Context, gameID, content string, alwaysTop bool) error {
	return l.d.store.Guides().Save(ctx, &store.GuideRow{
		GameID:    gameID,
		Content:   content,
		AlwaysTop: alwaysTop,
	})
}
