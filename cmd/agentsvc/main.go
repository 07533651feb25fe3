package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/whitecloud/save-agent/configs"
	"github.com/whitecloud/save-agent/internal/activity"
	"github.com/whitecloud/save-agent/internal/diag"
	"github.com/whitecloud/save-agent/internal/library"
	"github.com/whitecloud/save-agent/internal/procmon"
	"github.com/whitecloud/save-agent/internal/server"
	"github.com/whitecloud/save-agent/internal/store"
)

const SERVICE_NAME = "agent"

const clientVersion = "0.1.0"

func init() {
	config.Logging(SERVICE_NAME + "_service")
	config.LoadEnv(SERVICE_NAME)
}

// osRoots resolves the well-known path tags against this machine.
type osRoots struct{}

func (osRoots) AppPath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func (osRoots) UserDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func main() {
	config.CreateUniqueInstance(SERVICE_NAME)

	dataDir := config.DataDir()
	st, err := store.Open(filepath.Join(dataDir, "agent.db"))
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer st.Close()
	log.Printf("local store opened at %s", dataDir)

	client := server.NewClient(config.GatewayEndpoint())
	defer client.Close()

	act := activity.NewService(st.Activities(), st.Histories())

	poller := procmon.NewPoller(nil, time.Second)
	poller.Start()
	defer poller.Stop()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lib := library.New(library.Options{
		Store:               st,
		Client:              client,
		Monitor:             poller,
		Resolver:            osRoots{},
		Activity:            act,
		DataDir:             dataDir,
		Hostname:            hostname,
		GlobalBackupLimitMB: config.BackupLimitMB(),
		DefaultLocalSaveNum: config.DefaultLocalSaveNum(),
	})
	if err := lib.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load game library: %v", err)
	}
	stopLib := lib.Start()
	defer stopLib()

	stopWatchers := watchSaveDirs(lib)
	defer stopWatchers()

	// First dial is best-effort; the client keeps retrying on its own.
	if err := client.Connect(); err != nil {
		log.Warnf("gateway not reachable yet: %v", err)
	} else {
		go checkClientVersion(client)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)
	r.Use(httprate.LimitByIP(config.RateLimit(), 1*time.Minute))

	diag.NewHandler(lib, act).SetRoutes(r)

	httpServer := &http.Server{
		Addr:         "127.0.0.1:" + strconv.Itoa(config.DiagPort()),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at %s", SERVICE_NAME, httpServer.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

// checkClientVersion reports whether a newer build has been published. The
// download and swap are handled by the updater binary, not the service.
func checkClientVersion(client *server.Client) {
	v, err := client.Business().FetchLatestClientVersion()
	if err != nil {
		log.Debugf("client version check failed: %v", err)
		return
	}
	if v.Version != "" && v.Version != clientVersion {
		log.Infof("client version %s is available (running %s)", v.Version, clientVersion)
	}
	if v.Deprecated {
		log.Warnf("client version %s is deprecated, update required", clientVersion)
	}
}

// watchSaveDirs keeps one filesystem watcher per game so the current-save
// pointer tracks live edits. Watchers follow the catalogue as games come
// and go.
func watchSaveDirs(lib *library.Library) func() {
	var mu sync.Mutex
	watchers := make(map[string]*procmon.SaveWatcher)

	rebind := func(games []*library.Game) {
		mu.Lock()
		defer mu.Unlock()
		seen := make(map[string]bool, len(games))
		for _, g := range games {
			seen[g.ID()] = true
			if _, ok := watchers[g.ID()]; ok {
				continue
			}
			game := g
			w, err := procmon.WatchDir(game.SavePath(), 2*time.Second, func() {
				game.RefreshCurrentSave()
			})
			if err != nil {
				log.Warnf("cannot watch save directory of game %s: %v", game.ID(), err)
				continue
			}
			watchers[game.ID()] = w
		}
		for id, w := range watchers {
			if !seen[id] {
				w.Close()
				delete(watchers, id)
			}
		}
	}

	unsub := lib.Games().Subscribe(rebind)
	return func() {
		unsub()
		mu.Lock()
		defer mu.Unlock()
		for _, w := range watchers {
			w.Close()
		}
	}
}
