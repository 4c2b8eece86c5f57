package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider selects which upstream call convention the service uses.
const (
	ProviderGemini = "gemini"
	ProviderVertex = "vertex"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Upstream selection and credentials.
	Provider      string
	GeminiAPIKey  string
	GeminiBaseURL string

	// Model identifiers.
	VeoModel     string
	VeoFastModel string
	VisionModel  string

	// Generation behaviour.
	RequireImage bool
	ImageMode    string
	MaxSlots     int
	ClipSeconds  int
	DebugPrompt  bool
	PollInterval time.Duration
	MaxPolls     int

	// Vertex (cloud-auth) parameters.
	VertexProject   string
	VertexLocation  string
	VertexOutputGCS string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. It fails fast when the selected provider is missing
// its credentials so misconfiguration surfaces at boot instead of on the
// first generation request.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		Port:            getEnv("PORT", "8080"),
		Provider:        strings.ToLower(getEnv("VEO_PROVIDER", ProviderGemini)),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VeoModel:        getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		VeoFastModel:    getEnv("VEO_FAST_MODEL", "veo-3.1-fast-generate-preview"),
		VisionModel:     getEnv("GEMINI_VISION_MODEL", "gemini-2.5-flash"),
		RequireImage:    getEnvBool("VEO_REQUIRE_IMAGE", true),
		ImageMode:       getEnv("VEO_IMAGE_MODE", "first_frame"),
		MaxSlots:        getEnvInt("VEO_MAX_CONCURRENT", 2),
		ClipSeconds:     getEnvInt("VEO_CLIP_SECONDS", 8),
		DebugPrompt:     getEnvBool("VEO_DEBUG_PROMPT", false),
		PollInterval:    time.Second * time.Duration(getEnvInt("VEO_POLL_SECONDS", 5)),
		MaxPolls:        getEnvInt("VEO_MAX_POLLS", 180),
		VertexProject:   os.Getenv("VERTEX_PROJECT_ID"),
		VertexLocation:  getEnv("VERTEX_LOCATION", "us-central1"),
		VertexOutputGCS: os.Getenv("VERTEX_OUTPUT_GCS"),
		HTTPReadTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		// Generation responses stay open for the whole poll window, so the
		// write timeout must exceed PollInterval * MaxPolls.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 960)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
	}

	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when VEO_PROVIDER=gemini")
		}
	case ProviderVertex:
		if cfg.VertexProject == "" {
			return nil, fmt.Errorf("VERTEX_PROJECT_ID is required when VEO_PROVIDER=vertex")
		}
	default:
		return nil, fmt.Errorf("unknown VEO_PROVIDER %q (want %q or %q)", cfg.Provider, ProviderGemini, ProviderVertex)
	}

	if cfg.ImageMode != "first_frame" && cfg.ImageMode != "reference" {
		return nil, fmt.Errorf("unknown VEO_IMAGE_MODE %q (want first_frame or reference)", cfg.ImageMode)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
