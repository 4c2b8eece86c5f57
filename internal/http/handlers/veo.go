package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"server/internal/httpx"
	"server/internal/providers/veo"
	"server/internal/video"
)

type generateVideoRequest struct {
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
	AspectRatio string `json:"aspectRatio"`
	Model       string `json:"model"`
	Resolution  string `json:"resolution"`
	UserPrompt  string `json:"userPrompt"`
	PageIndex   *int   `json:"pageIndex"`
	PageNumber  *int   `json:"pageNumber"`
}

type generateVideoResponse struct {
	VideoURL    string `json:"videoUrl"`
	DownloadURL string `json:"downloadUrl"`
	Status      string `json:"status"`
	Resolution  string `json:"resolution"`
	Prompt      string `json:"prompt,omitempty"`
}

// GenerateVideo handles POST /api/veo. The response stays open for the whole
// generation, which can run for minutes; a client disconnect cancels the job
// through the request context.
func (a *App) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	var req generateVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	image, err := decodeImage(req.ImageBase64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res, err := a.Generator.Generate(r.Context(), video.Request{
		ImageBytes:    image,
		ImageMIME:     req.MimeType,
		UserDirective: req.UserPrompt,
		PageLabel:     pageLabel(req.PageNumber, req.PageIndex),
		AspectRatio:   req.AspectRatio,
		Resolution:    req.Resolution,
		Fast:          strings.EqualFold(req.Model, "fast"),
	})
	if err != nil {
		a.writeGenerateError(w, r, err)
		return
	}

	out := generateVideoResponse{
		VideoURL:    res.VideoURI,
		DownloadURL: "/api/veo/download?url=" + url.QueryEscape(res.VideoURI),
		Status:      "ready",
		Resolution:  res.Resolution,
	}
	if a.Config.DebugPrompt {
		out.Prompt = res.Prompt
		a.Logger.Debug().Str("page", pageLabel(req.PageNumber, req.PageIndex)).
			Str("prompt", res.Prompt).Msg("http: compiled prompt")
	}
	a.writeJSON(w, http.StatusOK, out)
}

// writeGenerateError maps orchestrator failures onto the documented status
// shapes. A canceled request gets no response at all: the client is gone.
func (a *App) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
		a.Logger.Info().Str("path", r.URL.Path).Msg("http: client disconnected, job abandoned")
		return
	}

	var ve *video.ValidationError
	if errors.As(err, &ve) {
		a.writeError(w, http.StatusBadRequest, errorBody{Error: ve.Reason})
		return
	}
	var ue *video.UnsupportedError
	if errors.As(err, &ue) {
		a.writeError(w, http.StatusBadRequest, errorBody{Error: ue.Error()})
		return
	}
	if httpx.IsStatus(err, http.StatusTooManyRequests) {
		a.writeError(w, http.StatusTooManyRequests, errorBody{
			Error:   "video generation is rate limited upstream, wait a moment and retry",
			Details: veo.UpstreamMessage(err),
			Status:  "rate_limited",
		})
		return
	}

	a.Logger.Error().Err(err).Msg("http: video generation failed")
	a.writeError(w, http.StatusInternalServerError, errorBody{
		Error:   "video generation failed",
		Details: err.Error(),
		Status:  "failed",
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := newStrictDecoder(r)
	return dec.Decode(v)
}

// decodeImage accepts both a bare base64 string and a browser-style data URL.
func decodeImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if i := strings.Index(raw, ";base64,"); strings.HasPrefix(raw, "data:") && i >= 0 {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("imageBase64 is not valid base64")
	}
	return data, nil
}

func pageLabel(pageNumber, pageIndex *int) string {
	switch {
	case pageNumber != nil:
		return fmt.Sprintf("page-%d", *pageNumber)
	case pageIndex != nil:
		return fmt.Sprintf("page-%d", *pageIndex+1)
	default:
		return ""
	}
}
