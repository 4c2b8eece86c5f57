// Package prompt builds the instruction text sent to the video model: a
// fixed constraint block, an optional vision-model scene analysis, and the
// user's own directive after content-safety rewriting.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const baselineTemplate = `Animate this comic page exactly as drawn.

Hard constraints:
- Preserve the original line art, colors, and shading. Do not redraw or restyle anything.
- Keep the camera locked. Panel borders, speech bubbles, and all written dialogue stay fixed and legible.
- Do not add, remove, or replace characters, objects, or text.
- Motion must be subtle and grounded: breathing, hair and fabric drift, ambient effects, gentle parallax inside panels.
- No morphing, no style transfer, no scene changes.
- Output a single silent clip of about %d seconds.`

const fallbackMotionHint = "Favor the quietest plausible motion: a slow blink, drifting speed lines, faint background shimmer."

// overrideClause relaxes the redesign ban for one request when the user
// explicitly asked for a transformation, while keeping text and layout safe.
const overrideClause = "Creator override: the direction above is an intentional transformation request and takes precedence over the no-redesign constraint for this clip only. Dialogue text, speech bubbles, and panel layout must still remain unchanged."

// Compiler produces the final PromptDocument text. A nil vision client
// disables scene analysis; every vision failure falls back to the shorter
// deterministic template instead of failing the generation.
type Compiler struct {
	vision      *VisionClient
	policy      Policy
	clipSeconds int
	logger      zerolog.Logger
}

// Input carries the per-request material the compiler works from.
type Input struct {
	ImageBytes    []byte
	ImageMIME     string
	UserDirective string
	PageLabel     string
}

// NewCompiler wires a compiler. clipSeconds <= 0 falls back to 8.
func NewCompiler(vision *VisionClient, policy Policy, clipSeconds int, logger zerolog.Logger) *Compiler {
	if clipSeconds <= 0 {
		clipSeconds = 8
	}
	return &Compiler{
		vision:      vision,
		policy:      policy,
		clipSeconds: clipSeconds,
		logger:      logger.With().Str("component", "prompt").Logger(),
	}
}

// Compile assembles the instruction text for one request.
func (c *Compiler) Compile(ctx context.Context, in Input) string {
	sections := []string{fmt.Sprintf(baselineTemplate, c.clipSeconds)}

	if notes := c.sceneNotes(ctx, in); notes != "" {
		sections = append(sections, "Scene notes: "+notes)
	} else {
		sections = append(sections, fallbackMotionHint)
	}

	if directive := strings.TrimSpace(in.UserDirective); directive != "" {
		sanitized := c.policy.Sanitize(directive)
		sections = append(sections, "Creator direction: "+sanitized)
		if IsTransformative(sanitized) {
			sections = append(sections, overrideClause)
		}
	}

	return strings.Join(sections, "\n\n")
}

// sceneNotes runs the optional vision passes. Both are best-effort.
func (c *Compiler) sceneNotes(ctx context.Context, in Input) string {
	if c.vision == nil || len(in.ImageBytes) == 0 {
		return ""
	}

	analysis, err := c.vision.DescribeMotion(ctx, in.ImageBytes, in.ImageMIME)
	if err != nil {
		c.logger.Warn().Err(err).Str("page", in.PageLabel).
			Msg("prompt: scene analysis failed, using fallback template")
		return ""
	}

	condensed, err := c.vision.Condense(ctx, analysis)
	if err != nil {
		c.logger.Debug().Err(err).Str("page", in.PageLabel).
			Msg("prompt: condensing pass failed, keeping full analysis")
		condensed = analysis
	}

	return c.policy.Sanitize(strings.TrimSpace(condensed))
}
