package veo

import (
	"fmt"
	"net/url"
	"strings"
)

// DownloadTarget is a validated, fetchable form of an upstream video
// reference.
type DownloadTarget struct {
	URL string
	// NeedsKey marks Gemini file-service URLs whose fetch requires the API
	// key appended as a query parameter.
	NeedsKey bool
}

// ResolveDownload validates a caller-supplied video reference against the
// allow-listed upstream hosts and rewrites bucket URIs into fetchable HTTPS
// URLs. Anything else is rejected so the download proxy cannot be used to
// reach arbitrary hosts.
func ResolveDownload(raw string) (*DownloadTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty download url")
	}

	if rest, ok := strings.CutPrefix(raw, "gs://"); ok {
		if rest == "" || strings.HasPrefix(rest, "/") {
			return nil, fmt.Errorf("malformed bucket uri %q", raw)
		}
		return &DownloadTarget{URL: "https://storage.googleapis.com/" + rest}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse download url: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	switch u.Host {
	case "storage.googleapis.com":
		return &DownloadTarget{URL: u.String()}, nil
	case "generativelanguage.googleapis.com":
		if !strings.Contains(u.Path, "/files/") {
			return nil, fmt.Errorf("path %q is not a file-service url", u.Path)
		}
		return &DownloadTarget{URL: u.String(), NeedsKey: true}, nil
	default:
		return nil, fmt.Errorf("host %q is not an allowed video source", u.Host)
	}
}
