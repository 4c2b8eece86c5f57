package handlers

import "net/http"

type healthResponse struct {
	Status        string `json:"status"`
	Env           string `json:"env"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	FastModel     string `json:"fastModel"`
	ImageMode     string `json:"imageMode"`
	RequireImage  bool   `json:"requireImage"`
	MaxConcurrent int    `json:"maxConcurrent"`
	ClipSeconds   int    `json:"clipSeconds"`
}

// Health handles GET /health and GET /api/health: liveness plus an echo of
// the non-secret generation settings, which the frontend shows on its debug
// panel.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Env:           a.Config.AppEnv,
		Provider:      a.Config.Provider,
		Model:         a.Config.VeoModel,
		FastModel:     a.Config.VeoFastModel,
		ImageMode:     a.Config.ImageMode,
		RequireImage:  a.Config.RequireImage,
		MaxConcurrent: a.Config.MaxSlots,
		ClipSeconds:   a.Config.ClipSeconds,
	})
}
