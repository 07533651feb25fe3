package library

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whitecloud/save-agent/internal/activity"
	"github.com/whitecloud/save-agent/internal/comm"
	"github.com/whitecloud/save-agent/internal/server"
	"github.com/whitecloud/save-agent/internal/store"
)

func newTestLibraryAt(t *testing.T, endpoint string) *Library {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	client := server.NewClient(endpoint)
	t.Cleanup(func() { client.Close() })

	return New(Options{
		Store:               st,
		Client:              client,
		Resolver:            testRoots{app: filepath.Join(dir, "app"), user: filepath.Join(dir, "user")},
		Activity:            activity.NewService(st.Activities(), st.Histories()),
		DataDir:             filepath.Join(dir, "data"),
		Hostname:            "test-host",
		GlobalBackupLimitMB: 100,
		DefaultLocalSaveNum: 10,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// newGateway serves a scripted remote over a real websocket: each
// business/auth method maps to a handler returning the result payload.
func newGateway(t *testing.T, handlers map[string]func(args json.RawMessage) any) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var p comm.Packet
			if err := conn.ReadJSON(&p); err != nil {
				return
			}
			if p.OpCode != comm.OpRequest {
				continue
			}
			id, _ := p.RPCID()
			var result any
			if h := handlers[p.Service+"."+p.Method]; h != nil {
				result = h(p.Payload)
			}
			raw, err := json.Marshal(result)
			if err != nil {
				t.Errorf("failed to marshal result for %s.%s: %v", p.Service, p.Method, err)
				return
			}
			payload, _ := json.Marshal(comm.ResponsePayload{Result: raw})
			resp := &comm.Packet{
				OpCode:  comm.OpResponse,
				Headers: map[string]any{comm.HeaderRPCID: id},
				Payload: payload,
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func loginHandler(args json.RawMessage) any {
	return map[string]any{
		"account":       map[string]any{"id": 1, "nickname": "tester", "disabled": false},
		"authorization": map[string]any{"token": "tok-1", "expireAt": time.Now().Add(time.Hour).Unix()},
		"storage":       map[string]any{"usedSpace": 10, "totalSpace": 100},
	}
}

func TestLoginPullsCatalogueAndCreatesGhosts(t *testing.T) {
	endpoint := newGateway(t, map[string]func(json.RawMessage) any{
		"auth.login": loginHandler,
		"business.fetchUserGame": func(json.RawMessage) any {
			return []server.UserGame{{
				GameID:     "remote-1",
				Name:       "Ghost Game",
				ExePath:    "ghost.exe",
				UpdateTime: 5,
				Order:      1,
			}}
		},
	})
	lib := newTestLibraryAt(t, endpoint)
	g := importTestGame(t, lib)
	localID := g.ID()

	if err := lib.Login(context.Background(), "user", "pass"); err != nil {
		t.Fatal(err)
	}
	if !lib.LoggedIn().Get() {
		t.Fatal("loggedIn not set")
	}
	if got := lib.Storage().Get(); got.UsedSpace != 10 || got.TotalSpace != 100 {
		t.Fatalf("storage = %+v", got)
	}

	ghosts := lib.RemoteGames().Get()
	if len(ghosts) != 1 || ghosts[0].GameID != "remote-1" {
		t.Fatalf("ghosts = %+v, want remote-1", ghosts)
	}
	if ghosts[0].State() != StateCloud {
		t.Fatalf("ghost state = %v, want cloud", ghosts[0].State())
	}

	// The local game is not in the authenticated account's catalogue, so it
	// is removed along with its rows.
	if lib.Game(localID) != nil {
		t.Fatal("uncatalogued local game survived the pull")
	}
	rows, err := lib.d.store.Games().List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("store still holds %d games", len(rows))
	}
}

func TestLoginMergesCatalogueIntoLocalGame(t *testing.T) {
	var g *Game
	endpoint := newGateway(t, map[string]func(json.RawMessage) any{
		"auth.login": loginHandler,
		"business.fetchUserGame": func(json.RawMessage) any {
			return []server.UserGame{{
				GameID:          g.ID(),
				Name:            "Renamed Elsewhere",
				ExePath:         "game.exe",
				UpdateTime:      time.Now().Unix() + 100,
				CloudSaveNum:    3,
				EnableCloudSave: true,
			}}
		},
		"business.fetchGameSave": func(json.RawMessage) any {
			return []server.UserGameSave{{
				SaveID:     "S1",
				GameID:     g.ID(),
				OssPath:    "bucket/S1.zip",
				CreateTime: 1,
				UpdateTime: 100,
			}}
		},
		"business.fetchGameHistory": func(json.RawMessage) any {
			return []server.GameHistory{}
		},
	})
	lib := newTestLibraryAt(t, endpoint)
	g = importTestGame(t, lib)

	if err := lib.Login(context.Background(), "user", "pass"); err != nil {
		t.Fatal(err)
	}

	if g.Name() != "Renamed Elsewhere" {
		t.Fatalf("name = %q, not merged", g.Name())
	}
	if g.cloudSaveNum != 3 || !g.enableCloudSave {
		t.Fatal("cloud settings not refreshed")
	}
	s := g.findSave("S1")
	if s == nil || s.Availability() != CloudOnly {
		t.Fatal("remote save not folded into the list")
	}
	if len(lib.RemoteGames().Get()) != 0 {
		t.Fatal("catalogued local game produced a ghost")
	}
}

func TestLogoutDropsGhostsAndRemoteSaves(t *testing.T) {
	endpoint := newGateway(t, map[string]func(json.RawMessage) any{
		"auth.login": loginHandler,
		"business.fetchUserGame": func(json.RawMessage) any {
			return []server.UserGame{{GameID: "remote-1", Name: "Ghost", UpdateTime: 5}}
		},
	})
	lib := newTestLibraryAt(t, endpoint)

	if err := lib.Login(context.Background(), "user", "pass"); err != nil {
		t.Fatal(err)
	}
	if len(lib.RemoteGames().Get()) != 1 {
		t.Fatal("ghost missing before logout")
	}

	if err := lib.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lib.LoggedIn().Get() {
		t.Fatal("still logged in")
	}
	if len(lib.RemoteGames().Get()) != 0 {
		t.Fatal("ghosts survived logout")
	}
}

func TestPullCataloguePrunesStaleGhosts(t *testing.T) {
	pulls := 0
	endpoint := newGateway(t, map[string]func(json.RawMessage) any{
		"auth.login": loginHandler,
		"business.fetchUserGame": func(json.RawMessage) any {
			pulls++
			if pulls == 1 {
				return []server.UserGame{{
					GameID:     "remote-1",
					Name:       "Ghost Game",
					ExePath:    "ghost.exe",
					UpdateTime: 5,
					Order:      1,
				}}
			}
			return []server.UserGame{}
		},
	})
	lib := newTestLibraryAt(t, endpoint)
	ctx := context.Background()

	if err := lib.Login(ctx, "user", "pass"); err != nil {
		t.Fatal(err)
	}
	if got := lib.RemoteGames().Get(); len(got) != 1 {
		t.Fatalf("ghosts after first pull = %d, want 1", len(got))
	}

	// The account dropped the game while this agent was offline; the next
	// full pull no longer lists it.
	if err := lib.PullCatalogue(ctx); err != nil {
		t.Fatal(err)
	}
	if got := lib.RemoteGames().Get(); len(got) != 0 {
		t.Fatalf("stale ghost survived the pull: %d ghosts remain", len(got))
	}
}

func TestPullHistoryAdvancesWatermarkByEntryTime(t *testing.T) {
	var g *Game
	endpoint := newGateway(t, map[string]func(json.RawMessage) any{
		"business.fetchGameHistory": func(json.RawMessage) any {
			return []server.GameHistory{
				{ID: "h1", GameID: g.ID(), Host: "laptop", StartTime: 100, EndTime: 200, CreateTime: 12345},
				{ID: "h2", GameID: g.ID(), Host: "laptop", StartTime: 50, EndTime: 90, CreateTime: 11111},
			}
		},
	})
	lib := newTestLibraryAt(t, endpoint)
	g = importTestGame(t, lib)
	ctx := context.Background()

	if err := g.PullHistory(ctx); err != nil {
		t.Fatal(err)
	}
	if g.row.LastHistorySyncTime != 12345 {
		t.Fatalf("watermark = %d, want 12345", g.row.LastHistorySyncTime)
	}
	row, err := lib.d.store.Games().GetByID(ctx, g.ID())
	if err != nil {
		t.Fatal(err)
	}
	if row.LastHistorySyncTime != 12345 {
		t.Fatalf("stored watermark = %d, want 12345", row.LastHistorySyncTime)
	}
}

func TestGameDeletedPushRemovesGhost(t *testing.T) {
	lib := newTestLibrary(t)
	lib.mu.Lock()
	lib.ghosts["remote-1"] = &RemoteGame{GameID: "remote-1", Name: "Ghost"}
	lib.mu.Unlock()
	lib.publishRemote()

	lib.onGameDeleted(server.GameDeleted{GameID: "remote-1"})
	if len(lib.RemoteGames().Get()) != 0 {
		t.Fatal("ghost survived its delete push")
	}
}

func TestRemoveGameCascades(t *testing.T) {
	lib := newTestLibrary(t)
	g := importTestGame(t, lib)
	ctx := context.Background()

	if err := g.Backup(ctx, false); err != nil {
		t.Fatal(err)
	}
	backupDir := lib.d.backupDir(g.ID())

	if err := lib.RemoveGame(ctx, g.ID()); err != nil {
		t.Fatal(err)
	}
	if lib.Game(g.ID()) != nil {
		t.Fatal("game still registered")
	}
	if exists(backupDir) {
		t.Fatal("backup folder survived removal")
	}
	rows, err := lib.d.store.Saves().ListByGame(ctx, g.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatal("save rows survived removal")
	}
}

func TestSwapOrderExchangesKeys(t *testing.T) {
	lib := newTestLibrary(t)
	a := importTestGame(t, lib)
	b := importTestGame(t, lib)

	ao, bo := a.row.Order, b.row.Order
	if ao == bo {
		t.Fatalf("import assigned duplicate order keys %d", ao)
	}
	if err := lib.SwapOrder(context.Background(), a.ID(), b.ID()); err != nil {
		t.Fatal(err)
	}
	if a.row.Order != bo || b.row.Order != ao {
		t.Fatalf("orders after swap: %d, %d", a.row.Order, b.row.Order)
	}

	games := lib.Games().Get()
	if len(games) != 2 || games[0].ID() != a.ID() {
		t.Fatal("published ordering does not reflect the swap")
	}
}

func TestLoadRestoresRegistryFromStore(t *testing.T) {
	lib := newTestLibrary(t)
	g := importTestGame(t, lib)
	ctx := context.Background()
	if err := g.Backup(ctx, false); err != nil {
		t.Fatal(err)
	}

	// A second library over the same store sees the same catalogue.
	client := server.NewClient("ws://127.0.0.1:1/agent")
	t.Cleanup(func() { client.Close() })
	fresh := New(Options{
		Store:               lib.d.store,
		Client:              client,
		Resolver:            lib.d.resolver,
		Activity:            lib.d.activity,
		DataDir:             lib.d.dataDir,
		Hostname:            "test-host",
		GlobalBackupLimitMB: 100,
		DefaultLocalSaveNum: 10,
	})
	if err := fresh.Load(ctx); err != nil {
		t.Fatal(err)
	}

	got := fresh.Game(g.ID())
	if got == nil {
		t.Fatal("game not restored from store")
	}
	if len(got.Saves().Get()) != 1 {
		t.Fatal("saves not restored from store")
	}
	if got.CurrentSave().Get() == "" {
		t.Fatal("current save not recomputed on load")
	}
}
