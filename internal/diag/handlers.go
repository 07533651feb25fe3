// Package diag serves the loopback diagnostics HTTP API: a read-only JSON
// view of the catalogue and the per-game activity timeline.
package diag

import (
	"encoding/json"
	"net/http"

	"github.com/whitecloud/save-agent/internal/activity"
	"github.com/whitecloud/save-agent/internal/library"
)

type Handler struct {
	lib *library.Library
	act *activity.Service
}

func NewHandler(lib *library.Library, act *activity.Service) *Handler {
	return &Handler{lib: lib, act: act}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

// GameView is the wire shape of one catalogue entry.
type GameView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Saves       int    `json:"saves"`
	CurrentSave string `json:"currentSave,omitempty"`
}

// RemoteGameView is the wire shape of one catalogue ghost.
type RemoteGameView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "save agent is running",
		Code:    200,
		Data: map[string]any{
			"loggedIn": h.lib.LoggedIn().Get(),
			"games":    len(h.lib.Games().Get()),
		},
	})
}

func (h *Handler) GamesHandler(w http.ResponseWriter, r *http.Request) {
	var views []GameView
	for _, g := range h.lib.Games().Get() {
		views = append(views, GameView{
			ID:          g.ID(),
			Name:        g.Name(),
			State:       g.State().Get().String(),
			Saves:       len(g.Saves().Get()),
			CurrentSave: g.CurrentSave().Get(),
		})
	}
	var ghosts []RemoteGameView
	for _, rg := range h.lib.RemoteGames().Get() {
		ghosts = append(ghosts, RemoteGameView{
			ID:    rg.GameID,
			Name:  rg.Name,
			State: rg.State().String(),
		})
	}
	h.CreateResponse(w, Response{
		Code: 200,
		Data: map[string]any{"games": views, "remoteGames": ghosts},
	})
}

func (h *Handler) ActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	gameID := routeParam(r, "gameId")
	if h.lib.Game(gameID) == nil {
		h.CreateResponse(w, Response{Code: 404, Error: "unknown game " + gameID})
		return
	}
	entries, err := h.act.Timeline(r.Context(), gameID)
	if err != nil {
		h.CreateResponse(w, Response{Code: 500, Error: err.Error()})
		return
	}
	h.CreateResponse(w, Response{Code: 200, Data: entries})
}
