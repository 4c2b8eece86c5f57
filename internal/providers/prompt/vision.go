package prompt

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"server/internal/httpx"
)

const (
	describeInstruction = "Look at this comic page. In two or three short sentences, describe the visible elements that could plausibly move: hair, fabric, weather, background effects, speed lines, steam, water. Use neutral, generic wording; never name a person, character, franchise, or studio."

	condenseInstruction = "Rewrite the following scene notes as one compact motion directive of at most 40 words, keeping only concrete movable elements:\n\n"
)

// VisionClient makes the optional scene-analysis calls against a Gemini
// text/vision model. Both calls ride the resilient client, so they share its
// retry and rate-limit behaviour.
type VisionClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *httpx.Client
}

// NewVisionClient returns a scene analyzer bound to one model.
func NewVisionClient(baseURL, apiKey, model string, hc *httpx.Client) *VisionClient {
	return &VisionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    hc,
	}
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// DescribeMotion asks the vision model what could move in the page image.
func (v *VisionClient) DescribeMotion(ctx context.Context, image []byte, mime string) (string, error) {
	payload := generateContentRequest{Contents: []content{{
		Role: "user",
		Parts: []part{
			{Text: describeInstruction},
			{InlineData: &inlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(image)}},
		},
	}}}
	return v.invoke(ctx, payload)
}

// Condense compresses a scene analysis into a short directive.
func (v *VisionClient) Condense(ctx context.Context, analysis string) (string, error) {
	payload := generateContentRequest{Contents: []content{{
		Role:  "user",
		Parts: []part{{Text: condenseInstruction + analysis}},
	}}}
	return v.invoke(ctx, payload)
}

func (v *VisionClient) invoke(ctx context.Context, payload generateContentRequest) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		v.baseURL, url.PathEscape(v.model), url.QueryEscape(v.apiKey))
	resp, err := v.http.PostJSON(ctx, endpoint, nil, payload)
	if err != nil {
		return "", err
	}
	var out generateContentResponse
	if err := resp.JSON(&out); err != nil {
		return "", err
	}
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if text := strings.TrimSpace(p.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("vision model returned no text")
}
