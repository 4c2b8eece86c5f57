// Package veo integrates Google's Veo video-generation models behind a
// provider-neutral interface. Two call conventions exist: the Gemini API
// (direct API key) and Vertex AI (cloud auth); both start a long-running
// operation with predictLongRunning and are polled to completion.
package veo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"server/internal/httpx"
)

// Operation is the normalized view of an upstream long-running job.
type Operation struct {
	Name       string
	Done       bool
	ErrMessage string
	VideoURI   string
}

// Model describes one entry of the upstream model catalog.
type Model struct {
	Name        string
	DisplayName string
}

// Caller is the upstream surface the orchestrator depends on.
type Caller interface {
	// Start begins a generation job and returns the operation handle.
	Start(ctx context.Context, model string, p Payload) (string, error)
	// Poll fetches the current state of a running operation.
	Poll(ctx context.Context, name string) (*Operation, error)
	// Models lists the catalog visible to the configured credentials.
	Models(ctx context.Context) ([]Model, error)
}

type upstreamError struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

type operationEnvelope struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RAIMediaFilteredCount   int      `json:"raiMediaFilteredCount"`
			RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse"`
		Videos []struct {
			GcsURI   string `json:"gcsUri"`
			MimeType string `json:"mimeType"`
		} `json:"videos"`
	} `json:"response"`
}

func (env *operationEnvelope) normalize() *Operation {
	op := &Operation{Name: env.Name, Done: env.Done}
	if env.Error != nil {
		op.ErrMessage = env.Error.Message
	}
	if env.Response == nil {
		return op
	}
	if gvr := env.Response.GenerateVideoResponse; gvr != nil {
		if len(gvr.GeneratedSamples) > 0 {
			op.VideoURI = gvr.GeneratedSamples[0].Video.URI
		} else if gvr.RAIMediaFilteredCount > 0 && op.ErrMessage == "" {
			op.ErrMessage = fmt.Sprintf("output filtered by safety policy: %s",
				strings.Join(gvr.RAIMediaFilteredReasons, "; "))
		}
	}
	if op.VideoURI == "" && len(env.Response.Videos) > 0 {
		op.VideoURI = env.Response.Videos[0].GcsURI
	}
	return op
}

// UpstreamMessage pulls the human-readable message out of a StatusError body
// so rejection classification can run on what the API actually said.
func UpstreamMessage(err error) string {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return err.Error()
	}
	var parsed upstreamError
	// The body is already truncated; a parse failure just falls back to raw.
	if jsonErr := json.Unmarshal([]byte(se.Body), &parsed); jsonErr == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return se.Body
}

// GeminiClient talks to the Gemini API key endpoint.
type GeminiClient struct {
	baseURL string
	apiKey  string
	http    *httpx.Client
	logger  zerolog.Logger
}

// NewGeminiClient constructs the direct API-key provider.
func NewGeminiClient(baseURL, apiKey string, hc *httpx.Client, logger zerolog.Logger) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
		logger:  logger.With().Str("component", "veo.gemini").Logger(),
	}
}

func (c *GeminiClient) keyed(path string) string {
	return fmt.Sprintf("%s/%s?key=%s", c.baseURL, strings.TrimLeft(path, "/"), url.QueryEscape(c.apiKey))
}

// Start implements Caller.
func (c *GeminiClient) Start(ctx context.Context, model string, p Payload) (string, error) {
	endpoint := c.keyed(fmt.Sprintf("models/%s:predictLongRunning", url.PathEscape(model)))
	resp, err := c.http.PostJSON(ctx, endpoint, nil, p)
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", err
	}
	if out.Name == "" {
		return "", fmt.Errorf("start call returned no operation name: %s", resp.Text())
	}
	c.logger.Info().Str("model", model).Str("operation", out.Name).Msg("veo: generation started")
	return out.Name, nil
}

// Poll implements Caller.
func (c *GeminiClient) Poll(ctx context.Context, name string) (*Operation, error) {
	resp, err := c.http.Get(ctx, c.keyed(name), nil)
	if err != nil {
		return nil, err
	}
	var env operationEnvelope
	if err := resp.JSON(&env); err != nil {
		return nil, err
	}
	return env.normalize(), nil
}

// Models implements Caller.
func (c *GeminiClient) Models(ctx context.Context) ([]Model, error) {
	resp, err := c.http.Get(ctx, c.keyed("models")+"&pageSize=200", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Models []struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	models := make([]Model, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, Model{
			Name:        strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
		})
	}
	return models, nil
}

// VertexClient talks to the Vertex AI publisher-model endpoint using cloud
// credentials.
type VertexClient struct {
	project    string
	location   string
	outputGCS  string
	tokens     oauth2.TokenSource
	http       *httpx.Client
	logger     zerolog.Logger
	knownVeo   []string
	apiBaseURL string
}

// NewVertexClient constructs the cloud-auth provider. knownModels seeds the
// catalog answer, since Vertex exposes no lightweight listing for publisher
// models.
func NewVertexClient(project, location, outputGCS string, tokens oauth2.TokenSource, hc *httpx.Client, logger zerolog.Logger, knownModels []string) *VertexClient {
	return &VertexClient{
		project:    project,
		location:   location,
		outputGCS:  outputGCS,
		tokens:     tokens,
		http:       hc,
		logger:     logger.With().Str("component", "veo.vertex").Logger(),
		knownVeo:   knownModels,
		apiBaseURL: fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", location),
	}
}

func (c *VertexClient) modelPath(model string) string {
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
		c.project, c.location, model)
}

func (c *VertexClient) authHeader() (http.Header, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("fetch cloud credentials: %w", err)
	}
	h := http.Header{}
	tok.SetAuthHeader(&http.Request{Header: h})
	return h, nil
}

// Start implements Caller. The bucket output location is injected into the
// payload parameters; Vertex writes the finished video there.
func (c *VertexClient) Start(ctx context.Context, model string, p Payload) (string, error) {
	header, err := c.authHeader()
	if err != nil {
		return "", err
	}
	if c.outputGCS != "" && p.Parameters != nil {
		p.Parameters.StorageURI = c.outputGCS
	}
	endpoint := fmt.Sprintf("%s/%s:predictLongRunning", c.apiBaseURL, c.modelPath(model))
	resp, err := c.http.PostJSON(ctx, endpoint, header, p)
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", err
	}
	if out.Name == "" {
		return "", fmt.Errorf("start call returned no operation name: %s", resp.Text())
	}
	c.logger.Info().Str("model", model).Str("operation", out.Name).Msg("veo: generation started")
	return out.Name, nil
}

// Poll implements Caller. Vertex has no GET for predict operations; state is
// fetched with fetchPredictOperation on the owning model, whose path is the
// operation-name prefix.
func (c *VertexClient) Poll(ctx context.Context, name string) (*Operation, error) {
	header, err := c.authHeader()
	if err != nil {
		return nil, err
	}
	modelPath, _, found := strings.Cut(name, "/operations/")
	if !found {
		return nil, fmt.Errorf("malformed vertex operation name %q", name)
	}
	endpoint := fmt.Sprintf("%s/%s:fetchPredictOperation", c.apiBaseURL, modelPath)
	resp, err := c.http.PostJSON(ctx, endpoint, header, map[string]string{"operationName": name})
	if err != nil {
		return nil, err
	}
	var env operationEnvelope
	if err := resp.JSON(&env); err != nil {
		return nil, err
	}
	return env.normalize(), nil
}

// Models implements Caller with the statically configured Veo model set.
func (c *VertexClient) Models(ctx context.Context) ([]Model, error) {
	models := make([]Model, 0, len(c.knownVeo))
	for _, name := range c.knownVeo {
		models = append(models, Model{Name: name})
	}
	return models, nil
}
