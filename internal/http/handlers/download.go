package handlers

import (
	"io"
	"net/http"
	"net/url"

	"server/internal/providers/veo"
)

// DownloadVideo handles GET /api/veo/download. It proxies the finished clip
// from the allow-listed upstream host to the browser, which cannot fetch the
// Gemini file service directly without exposing the API key.
func (a *App) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	target, err := veo.ResolveDownload(r.URL.Query().Get("url"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errorBody{Error: "invalid download url: " + err.Error()})
		return
	}

	fetchURL := target.URL
	if target.NeedsKey {
		sep := "?"
		if u, err := url.Parse(fetchURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		fetchURL += sep + "key=" + url.QueryEscape(a.Config.GeminiAPIKey)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, fetchURL, nil)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, errorBody{Error: "building download request failed"})
		return
	}
	resp, err := a.Stream.Do(req)
	if err != nil {
		a.Logger.Error().Err(err).Str("host", target.URL).Msg("http: video download failed")
		a.writeError(w, http.StatusBadGateway, errorBody{Error: "fetching video from upstream failed", Details: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.Logger.Error().Int("status", resp.StatusCode).Msg("http: upstream refused video download")
		a.writeError(w, http.StatusBadGateway, errorBody{Error: "upstream refused the video download", Status: "failed"})
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "video/mp4")
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already out; all that is left is logging.
		a.Logger.Warn().Err(err).Msg("http: video stream interrupted")
	}
}
