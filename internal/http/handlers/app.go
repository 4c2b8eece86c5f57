// Package handlers contains the HTTP layer: request decoding, error shaping
// and response envelopes. All generation logic lives in internal/video.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/providers/veo"
	"server/internal/video"
)

// Generator is the slice of the orchestrator the handlers call.
type Generator interface {
	Generate(ctx context.Context, req video.Request) (*video.Result, error)
}

// App bundles the dependencies shared by the HTTP handlers.
type App struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Generator Generator
	Catalog   veo.Caller
	// Stream issues the plain download proxy calls; those must not ride the
	// retrying client because a partial body cannot be retried mid-stream.
	Stream *http.Client
}

// NewApp wires the handler set.
func NewApp(cfg *infra.Config, logger zerolog.Logger, gen Generator, catalog veo.Caller) *App {
	return &App{
		Config:    cfg,
		Logger:    logger.With().Str("component", "http").Logger(),
		Generator: gen,
		Catalog:   catalog,
		Stream:    &http.Client{Timeout: 0},
	}
}

// errorBody is the error envelope every non-2xx answer uses.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error().Err(err).Msg("http: writing response failed")
	}
}

func (a *App) writeError(w http.ResponseWriter, status int, body errorBody) {
	a.writeJSON(w, status, body)
}

// maxBodyBytes caps inbound bodies. Base64 inflates the image by a third, so
// this sits comfortably above the raw image limit the orchestrator enforces.
const maxBodyBytes = 16 << 20

func newStrictDecoder(r *http.Request) *json.Decoder {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
}
