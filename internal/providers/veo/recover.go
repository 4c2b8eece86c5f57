package veo

import (
	"regexp"
	"strings"
)

// The upstream rejects unsupported request fields with free-text error
// messages whose phrasing is undocumented and drifts between model versions.
// Classification is therefore an ordered table of (pattern, field) pairs
// rather than branching logic, so each known phrasing is auditable and new
// ones are one-line additions.
type rejectionRule struct {
	pattern *regexp.Regexp
	// field overrides the capture group when the phrasing does not name the
	// field in a parseable way.
	field string
}

var rejectionRules = []rejectionRule{
	// `referenceImages` isn't supported / `seed` isn't supported ...
	{pattern: regexp.MustCompile("`([A-Za-z][A-Za-z0-9]*)` (?:isn't|is not) supported")},
	// referenceImages is not supported for this model
	{pattern: regexp.MustCompile(`(?i)\b(referenceImages?)\b[^.]{0,60}\bnot supported`), field: FieldReferenceImages},
	// image-to-video / inline image data rejected
	{pattern: regexp.MustCompile(`(?i)(?:inline ?data|image bytes|input image|image input)[^.]{0,60}\bnot supported`), field: FieldImage},
	{pattern: regexp.MustCompile(`(?i)\bimage\b[^.]{0,40}\b(?:unsupported|not supported)\b`), field: FieldImage},
	// parameter-specific phrasings seen in the wild
	{pattern: regexp.MustCompile(`(?i)\b(resolution)\b[^.]{0,40}\bnot supported`), field: FieldResolution},
	{pattern: regexp.MustCompile(`(?i)\b(personGeneration|person_generation)\b[^.]{0,40}\bnot (?:supported|allowed)`), field: FieldPersonGeneration},
	{pattern: regexp.MustCompile(`(?i)\b(durationSeconds|duration_seconds)\b[^.]{0,40}\bnot supported`), field: FieldDurationSeconds},
	{pattern: regexp.MustCompile(`(?i)\b(seed)\b[^.]{0,40}\bnot supported`), field: FieldSeed},
}

// ClassifyRejection inspects an upstream error message and, when it names a
// recoverable unsupported field, returns the canonical field name.
func ClassifyRejection(msg string) (string, bool) {
	for _, rule := range rejectionRules {
		m := rule.pattern.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		if rule.field != "" {
			return rule.field, true
		}
		if len(m) > 1 {
			return canonicalField(m[1]), true
		}
	}
	return "", false
}

func canonicalField(raw string) string {
	switch strings.ToLower(raw) {
	case "image":
		return FieldImage
	case "referenceimage", "referenceimages":
		return FieldReferenceImages
	case "resolution":
		return FieldResolution
	case "seed":
		return FieldSeed
	case "persongeneration", "person_generation":
		return FieldPersonGeneration
	case "samplecount":
		return FieldSampleCount
	case "durationseconds", "duration_seconds":
		return FieldDurationSeconds
	default:
		return raw
	}
}
