package prompt

import "regexp"

// Policy is the content-safety rewrite table. The exact word list is a
// moving target (upstream moderation changes, new brand names show up), so
// it is data handed to the compiler rather than logic baked into it, and it
// carries a version so deployments can pin one.
type Policy struct {
	Version string
	rules   []rewriteRule
}

type rewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// DefaultPolicy returns the current rewrite table. Replacements are chosen
// so they never themselves match a rule, which is what makes Sanitize
// idempotent.
func DefaultPolicy() Policy {
	return Policy{
		Version: "2024-09",
		rules: []rewriteRule{
			{regexp.MustCompile(`(?i)\bblood(y|ied|ier)?\b`), "dark ink"},
			{regexp.MustCompile(`(?i)\bgore\b`), "heavy shading"},
			{regexp.MustCompile(`(?i)\bkill(s|ed|ing)?\b`), "defeat"},
			{regexp.MustCompile(`(?i)\bmurder(s|ed|er|ous)?\b`), "confront"},
			{regexp.MustCompile(`(?i)\b(dies?|died|death)\b`), "collapse"},
			{regexp.MustCompile(`(?i)\bguns?\b`), "prop device"},
			{regexp.MustCompile(`(?i)\b(knife|knives|blades?)\b`), "metal prop"},
			{regexp.MustCompile(`(?i)\bexplosions?\b`), "burst of light"},
			{regexp.MustCompile(`(?i)\b(child|children|kids?|minors?)\b`), "young-looking figure"},
			{regexp.MustCompile(`(?i)\b(disney|pixar|ghibli|marvel|shonen jump)\b`), "a classic animation studio"},
		},
	}
}

// Sanitize applies the rewrite table in order. It is a pure function:
// identical input always yields identical output, and running it on its own
// output changes nothing.
func (p Policy) Sanitize(s string) string {
	for _, r := range p.rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// transformativePattern flags user directives that ask for a redesign rather
// than animation of the page as drawn.
var transformativePattern = regexp.MustCompile(`(?i)\b(turn(s|ed|ing)?\s+(it\s+|them\s+)?into|transform|morph|become[s]?|redraw|reimagine|restyle|convert\s+(it\s+|this\s+)?(in)?to)\b`)

// IsTransformative reports whether a directive asks to change what the page
// depicts instead of just animating it.
func IsTransformative(directive string) bool {
	return transformativePattern.MatchString(directive)
}
