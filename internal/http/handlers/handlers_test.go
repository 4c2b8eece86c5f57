package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"server/internal/httpx"
	"server/internal/infra"
	"server/internal/providers/veo"
	"server/internal/video"
)

type fakeGenerator struct {
	res *video.Result
	err error
	got video.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req video.Request) (*video.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeCatalog struct {
	models []veo.Model
	err    error
}

func (f *fakeCatalog) Start(ctx context.Context, model string, p veo.Payload) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeCatalog) Poll(ctx context.Context, name string) (*veo.Operation, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCatalog) Models(ctx context.Context) ([]veo.Model, error) {
	return f.models, f.err
}

func escapeQuery(s string) string { return url.QueryEscape(s) }

type stubTransport func(*http.Request) (*http.Response, error)

func (s stubTransport) RoundTrip(r *http.Request) (*http.Response, error) { return s(r) }

func newTestApp(gen Generator, catalog veo.Caller) *App {
	cfg := &infra.Config{
		AppEnv:       "test",
		Provider:     infra.ProviderGemini,
		GeminiAPIKey: "test-key",
		VeoModel:     "veo-3.1-generate-preview",
		VeoFastModel: "veo-3.1-fast-generate-preview",
		ImageMode:    "first_frame",
		RequireImage: true,
		MaxSlots:     2,
		ClipSeconds:  8,
	}
	return NewApp(cfg, zerolog.Nop(), gen, catalog)
}

func postVeo(t *testing.T, app *App, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/veo", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	app.GenerateVideo(w, req)
	return w
}

func TestGenerateVideoSuccess(t *testing.T) {
	gen := &fakeGenerator{res: &video.Result{
		VideoURI:   "https://storage.googleapis.com/out/clip.mp4",
		Resolution: "720p",
		Prompt:     "compiled prompt",
	}}
	app := newTestApp(gen, &fakeCatalog{})

	page := 3
	w := postVeo(t, app, map[string]any{
		"imageBase64": base64.StdEncoding.EncodeToString([]byte("page-bytes")),
		"mimeType":    "image/png",
		"userPrompt":  "animate the rain",
		"model":       "fast",
		"pageNumber":  page,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var out generateVideoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "ready" {
		t.Fatalf("status = %q", out.Status)
	}
	if out.VideoURL != "https://storage.googleapis.com/out/clip.mp4" {
		t.Fatalf("videoUrl = %q", out.VideoURL)
	}
	if !strings.HasPrefix(out.DownloadURL, "/api/veo/download?url=") {
		t.Fatalf("downloadUrl = %q", out.DownloadURL)
	}
	if out.Prompt != "" {
		t.Fatalf("prompt must be omitted unless debug logging is on")
	}

	if string(gen.got.ImageBytes) != "page-bytes" {
		t.Fatalf("image bytes = %q", gen.got.ImageBytes)
	}
	if !gen.got.Fast {
		t.Fatalf("model=fast should select the fast variant")
	}
	if gen.got.PageLabel != "page-3" {
		t.Fatalf("page label = %q", gen.got.PageLabel)
	}
}

func TestGenerateVideoEchoesPromptInDebugMode(t *testing.T) {
	gen := &fakeGenerator{res: &video.Result{VideoURI: "https://storage.googleapis.com/o/c.mp4", Prompt: "the compiled prompt"}}
	app := newTestApp(gen, &fakeCatalog{})
	app.Config.DebugPrompt = true

	w := postVeo(t, app, map[string]any{
		"imageBase64": base64.StdEncoding.EncodeToString([]byte("x")),
		"mimeType":    "image/png",
	})
	var out generateVideoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Prompt != "the compiled prompt" {
		t.Fatalf("prompt = %q", out.Prompt)
	}
}

func TestGenerateVideoAcceptsDataURL(t *testing.T) {
	gen := &fakeGenerator{res: &video.Result{VideoURI: "https://storage.googleapis.com/o/c.mp4"}}
	app := newTestApp(gen, &fakeCatalog{})

	w := postVeo(t, app, map[string]any{
		"imageBase64": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("raw")),
		"mimeType":    "image/png",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if string(gen.got.ImageBytes) != "raw" {
		t.Fatalf("data URL prefix not stripped: %q", gen.got.ImageBytes)
	}
}

func TestGenerateVideoErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{"validation", &video.ValidationError{Reason: "a page image is required"}, http.StatusBadRequest, ""},
		{"unsupported", &video.UnsupportedError{Field: "image", Message: "nope"}, http.StatusBadRequest, ""},
		{"rate limited", &httpx.StatusError{StatusCode: 429, Body: `{"error":{"message":"quota"}}`}, http.StatusTooManyRequests, "rate_limited"},
		{"upstream failure", &veo.OperationError{Message: "boom"}, http.StatusInternalServerError, "failed"},
		{"timeout", veo.ErrPollTimeout, http.StatusInternalServerError, "failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(&fakeGenerator{err: tc.err}, &fakeCatalog{})
			w := postVeo(t, app, map[string]any{
				"imageBase64": base64.StdEncoding.EncodeToString([]byte("x")),
				"mimeType":    "image/png",
			})
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.wantCode, w.Body)
			}
			var out errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if out.Error == "" {
				t.Fatalf("error message missing")
			}
			if out.Status != tc.wantStatus {
				t.Fatalf("status field = %q, want %q", out.Status, tc.wantStatus)
			}
		})
	}
}

func TestGenerateVideoSilentOnClientDisconnect(t *testing.T) {
	app := newTestApp(&fakeGenerator{err: context.Canceled}, &fakeCatalog{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body, _ := json.Marshal(map[string]any{
		"imageBase64": base64.StdEncoding.EncodeToString([]byte("x")),
		"mimeType":    "image/png",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/veo", bytes.NewReader(body)).WithContext(ctx)
	w := httptest.NewRecorder()
	app.GenerateVideo(w, req)

	if w.Body.Len() != 0 {
		t.Fatalf("disconnected client must get no body, got %s", w.Body)
	}
}

func TestGenerateVideoRejectsBadBase64(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{})
	w := postVeo(t, app, map[string]any{"imageBase64": "%%%not-base64%%%"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDownloadVideoStreamsUpstream(t *testing.T) {
	var fetched *http.Request
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{})
	app.Stream = &http.Client{Transport: stubTransport(func(r *http.Request) (*http.Response, error) {
		fetched = r
		return &http.Response{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Content-Type":   []string{"video/mp4"},
				"Content-Length": []string{"9"},
			},
			Body: io.NopCloser(strings.NewReader("mp4-bytes")),
		}, nil
	})}

	target := "https://generativelanguage.googleapis.com/v1beta/files/abc:download?alt=media"
	req := httptest.NewRequest(http.MethodGet, "/api/veo/download?url="+escapeQuery(target), nil)
	w := httptest.NewRecorder()
	app.DownloadVideo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if w.Body.String() != "mp4-bytes" {
		t.Fatalf("body = %q", w.Body)
	}
	if got := w.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if fetched == nil {
		t.Fatal("upstream never fetched")
	}
	if fetched.URL.Query().Get("key") != "test-key" {
		t.Fatalf("file-service fetch must carry the API key, got %q", fetched.URL.String())
	}
}

func TestDownloadVideoRejectsForeignHosts(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{})
	req := httptest.NewRequest(http.MethodGet, "/api/veo/download?url="+escapeQuery("https://evil.example.com/x.mp4"), nil)
	w := httptest.NewRecorder()
	app.DownloadVideo(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDownloadVideoReportsUpstreamRefusal(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{})
	app.Stream = &http.Client{Transport: stubTransport(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("gone"))}, nil
	})}

	req := httptest.NewRequest(http.MethodGet, "/api/veo/download?url="+escapeQuery("gs://bucket/clip.mp4"), nil)
	w := httptest.NewRecorder()
	app.DownloadVideo(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestListModels(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{models: []veo.Model{
		{Name: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash"},
		{Name: "veo-3.1-generate-preview", DisplayName: "Veo 3.1"},
		{Name: "veo-3.1-fast-generate-preview"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	app.ListModels(w, req)

	var out modelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.HasVeoAccess {
		t.Fatalf("hasVeoAccess = false")
	}
	if out.TotalModels != 3 {
		t.Fatalf("totalModels = %d", out.TotalModels)
	}
	if len(out.VeoModels) != 2 {
		t.Fatalf("veoModels = %v", out.VeoModels)
	}
	if out.Details[1].DisplayName == "" {
		t.Fatalf("display name fallback missing for %q", out.Details[1].Name)
	}
}

func TestListModelsNoVeoAccess(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{models: []veo.Model{{Name: "gemini-2.5-flash"}}})

	w := httptest.NewRecorder()
	app.ListModels(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	var out modelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.HasVeoAccess || len(out.VeoModels) != 0 {
		t.Fatalf("unexpected veo access: %+v", out)
	}
}

func TestListModelsCatalogFailure(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{err: errors.New("auth broken")})

	w := httptest.NewRecorder()
	app.ListModels(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHealthEchoesConfig(t *testing.T) {
	app := newTestApp(&fakeGenerator{}, &fakeCatalog{})

	w := httptest.NewRecorder()
	app.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var out healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "ok" || out.Provider != infra.ProviderGemini || out.MaxConcurrent != 2 {
		t.Fatalf("unexpected health payload: %+v", out)
	}
}
