package handlers

import (
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/providers/veo"
)

type modelDetail struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type modelsResponse struct {
	HasVeoAccess bool          `json:"hasVeoAccess"`
	TotalModels  int           `json:"totalModels"`
	VeoModels    []string      `json:"veoModels"`
	Details      []modelDetail `json:"details"`
}

var titleCaser = cases.Title(language.English)

// ListModels handles GET /api/models. It answers from the upstream catalog so
// the frontend can tell whether the configured credentials actually unlock a
// Veo model before the user uploads anything.
func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.Catalog.Models(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: model catalog query failed")
		a.writeError(w, http.StatusInternalServerError, errorBody{
			Error:   "querying the model catalog failed",
			Details: err.Error(),
			Status:  "failed",
		})
		return
	}

	out := modelsResponse{
		TotalModels: len(models),
		VeoModels:   []string{},
		Details:     []modelDetail{},
	}
	for _, m := range models {
		if !strings.Contains(strings.ToLower(m.Name), "veo") {
			continue
		}
		out.VeoModels = append(out.VeoModels, m.Name)
		out.Details = append(out.Details, modelDetail{
			Name:        m.Name,
			DisplayName: displayName(m),
		})
	}
	out.HasVeoAccess = len(out.VeoModels) > 0

	a.writeJSON(w, http.StatusOK, out)
}

// displayName falls back to a human-readable form of the model id when the
// catalog entry carries none, as the Vertex static catalog does.
func displayName(m veo.Model) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return titleCaser.String(strings.ReplaceAll(m.Name, "-", " "))
}
