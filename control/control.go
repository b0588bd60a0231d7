// Package control exposes the engine's signal surface over a local HTTP
// API. This is the seam where the login/logout UI lives in front of the
// engine: credentials are exchanged elsewhere, only the resulting opaque
// token crosses this boundary.
//
//	POST /login   {"token": "..."}        -> authenticate and start reporting
//	POST /logout                          -> sign off, clear state
//	PUT  /server  {"name": "...", "url": "..."} -> switch reporting endpoint
//	GET  /status                          -> agent introspection
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/tabpulse/identity"
	"github.com/hazyhaar/tabpulse/pulse"
)

// Handler serves the control API.
type Handler struct {
	eng    *pulse.Engine
	ids    *identity.Store
	logger *slog.Logger
}

// New builds the control router.
func New(eng *pulse.Engine, ids *identity.Store, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{eng: eng, ids: ids, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Put("/server", h.setServer)
	r.Get("/status", h.status)
	return r
}

func (h *Handler) login(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	h.eng.Login(body.Token)
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true})
}

func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.eng.Logout()
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

func (h *Handler) setServer(w http.ResponseWriter, req *http.Request) {
	var sc pulse.ServerConfig
	if err := json.NewDecoder(req.Body).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if sc.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	h.eng.SetServer(sc)
	writeJSON(w, http.StatusOK, sc)
}

func (h *Handler) status(w http.ResponseWriter, req *http.Request) {
	deviceID, err := h.ids.GetOrCreate(req.Context())
	if err != nil {
		h.logger.Warn("control: resolve device id", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": h.eng.Authenticated(),
		"device_id":     deviceID,
		"server":        h.eng.Reporter().BaseURL(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
