package veo

import (
	"encoding/base64"
	"strings"
)

// AttachMode selects where the source image rides in the upstream payload.
type AttachMode string

const (
	// ModeFirstFrame embeds the image directly on the job instance so the
	// model animates it as the opening frame.
	ModeFirstFrame AttachMode = "first_frame"
	// ModeReference passes the image as a style/asset reference instead.
	ModeReference AttachMode = "reference"
)

// ParseAttachMode maps a config string to a mode, defaulting to first frame.
func ParseAttachMode(s string) AttachMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeReference)) {
		return ModeReference
	}
	return ModeFirstFrame
}

// Alternate returns the other attachment mode.
func (m AttachMode) Alternate() AttachMode {
	if m == ModeFirstFrame {
		return ModeReference
	}
	return ModeFirstFrame
}

// Field names the upstream may reject by name. Dropping one rebuilds the
// payload without it; the image fields instead trigger a mode switch.
const (
	FieldImage            = "image"
	FieldReferenceImages  = "referenceImages"
	FieldResolution       = "resolution"
	FieldSeed             = "seed"
	FieldPersonGeneration = "personGeneration"
	FieldSampleCount      = "sampleCount"
	FieldDurationSeconds  = "durationSeconds"
)

// IsImageField reports whether a rejected field carries the source image,
// which makes the alternate attachment mode a recovery option.
func IsImageField(field string) bool {
	return field == FieldImage || field == FieldReferenceImages
}

// Intent is the provider-agnostic description of one generation job. It is
// derived once per request; payloads for retries are rebuilt from the same
// intent so a downgrade never re-derives other parameters.
type Intent struct {
	Prompt           string
	ImageBytes       []byte
	ImageMIME        string
	AspectRatio      string
	Resolution       string
	SampleCount      int
	PersonGeneration string
	Seed             int64
	DurationSeconds  int
}

// NormalizeAspectRatio maps arbitrary input onto the two ratios Veo supports.
// Anything unrecognized falls back to widescreen.
func NormalizeAspectRatio(s string) string {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "9:16", "portrait", "vertical", "tall":
		return "9:16"
	default:
		return "16:9"
	}
}

type wireImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type wireReferenceImage struct {
	Image         *wireImage `json:"image,omitempty"`
	ReferenceType string     `json:"referenceType,omitempty"`
}

type wireInstance struct {
	Prompt          string               `json:"prompt"`
	Image           *wireImage           `json:"image,omitempty"`
	ReferenceImages []wireReferenceImage `json:"referenceImages,omitempty"`
}

type wireParameters struct {
	AspectRatio      string `json:"aspectRatio,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	SampleCount      int    `json:"sampleCount,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	Seed             int64  `json:"seed,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	StorageURI       string `json:"storageUri,omitempty"`
}

// Payload is the exact predictLongRunning request body.
type Payload struct {
	Instances  []wireInstance  `json:"instances"`
	Parameters *wireParameters `json:"parameters,omitempty"`
}

// BuildPayload shapes an intent into the upstream schema. mode places the
// image, dropped suppresses fields the upstream already rejected, and
// storageURI (cloud-auth mode only) routes output to a bucket. The function
// is deterministic: identical arguments always produce an identical payload.
func BuildPayload(in Intent, mode AttachMode, dropped map[string]bool, storageURI string) Payload {
	inst := wireInstance{Prompt: in.Prompt}

	if len(in.ImageBytes) > 0 {
		img := &wireImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(in.ImageBytes),
			MimeType:           in.ImageMIME,
		}
		switch {
		case mode == ModeFirstFrame && !dropped[FieldImage]:
			inst.Image = img
		case mode == ModeReference && !dropped[FieldReferenceImages]:
			inst.ReferenceImages = []wireReferenceImage{{Image: img, ReferenceType: "asset"}}
		}
	}

	params := &wireParameters{
		AspectRatio: NormalizeAspectRatio(in.AspectRatio),
		StorageURI:  storageURI,
	}
	if !dropped[FieldResolution] {
		params.Resolution = in.Resolution
		if params.Resolution == "" {
			params.Resolution = "720p"
		}
	}
	if !dropped[FieldSampleCount] && in.SampleCount > 0 {
		params.SampleCount = in.SampleCount
	}
	if !dropped[FieldPersonGeneration] && in.PersonGeneration != "" {
		params.PersonGeneration = in.PersonGeneration
	}
	if !dropped[FieldSeed] && in.Seed > 0 {
		params.Seed = in.Seed
	}
	if !dropped[FieldDurationSeconds] && in.DurationSeconds > 0 {
		params.DurationSeconds = in.DurationSeconds
	}

	return Payload{Instances: []wireInstance{inst}, Parameters: params}
}
