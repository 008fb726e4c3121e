package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the operator endpoints.
func (c *Controller) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/status", c.handleStatus)
	mux.HandleFunc("/screenshot", c.handleScreenshot)
	mux.HandleFunc("/connect", c.handleConnect)
}

// handleConnect retries the connect chain after the operator fixed whatever
// put the controller in an error state.
func (c *Controller) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !c.Restart() {
		http.Error(w, "controller is "+c.State().String()+", nothing to restart", http.StatusConflict)
		return
	}
	log.Info().Msg("reconnect requested over http")
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) handleHealth(w http.ResponseWriter, r *http.Request) {
	if c.State().Failed() {
		http.Error(w, c.State().String(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c.Status()); err != nil {
		log.Error().Err(err).Msg("failed to encode status")
	}
}

func (c *Controller) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("source")
	if name == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	control := c.currentControl()
	if control == nil {
		http.Error(w, "scene service not connected", http.StatusServiceUnavailable)
		return
	}

	img, err := control.GetSourceScreenshot(r.Context(), name)
	if errors.Is(err, scene.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("source", name).Msg("screenshot failed")
		http.Error(w, "screenshot failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}
