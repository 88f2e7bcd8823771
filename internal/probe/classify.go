package probe

import (
	"regexp"
	"strings"
)

// errorMarker prefixes raw results synthesized by the runner for transport
// failures, timeouts, non-2xx statuses and undecodable envelopes. Checking
// it first keeps a failed attempt from ever counting as content.
const errorMarker = "__EXCEPTION__"

var (
	// A degenerate outline opener followed by the generic continuation the
	// service emits when it stubs out instead of answering.
	stubOpenerPattern = regexp.MustCompile(`(?i)^\s*\d+\.\s+The speaker\b`)
	// A bare numbered-list marker with almost nothing after it.
	stubMarkerPattern = regexp.MustCompile(`^\s*\d+\.\s+`)
)

const (
	stubOpenerMaxChars = 80
	stubMarkerMaxChars = 120
)

// Classify maps one raw response to exactly one Outcome. The decision order
// is load-bearing: a stub can coincidentally be a parseable JSON fragment,
// so the stub check must run before any structured parse.
func Classify(rawText string, doneReason string, structured bool) Outcome {
	t := strings.TrimSpace(rawText)

	if strings.HasPrefix(t, errorMarker) {
		return OutcomeError
	}
	if t == "" {
		return OutcomeEmpty
	}
	if looksLikeStub(t) {
		return OutcomeStub
	}

	if structured {
		if parsesAsJSONObject(t) {
			return OutcomeStructured
		}
		if doneReason == "length" {
			return OutcomeTruncated
		}
		return OutcomeMalformed
	}

	if doneReason == "length" {
		return OutcomeTruncated
	}
	// Absent or unrecognized done_reason on non-empty output counts as
	// success; see DESIGN.md.
	return OutcomeText
}

func looksLikeStub(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	if len([]rune(t)) < stubOpenerMaxChars && stubOpenerPattern.MatchString(t) {
		return true
	}
	if len([]rune(t)) < stubMarkerMaxChars && stubMarkerPattern.MatchString(t) {
		return true
	}
	return false
}
