package probe

import (
	"strings"
	"testing"
)

func TestClassifyErrorMarkerWinsOverEverything(t *testing.T) {
	raw := errorMarker + ` net/http: timeout {"looks": "like json"}`
	if got := Classify(raw, "length", true); got != OutcomeError {
		t.Fatalf("expected error outcome, got %s", got)
	}
}

func TestClassifyEmptyAndWhitespace(t *testing.T) {
	if got := Classify("", "", false); got != OutcomeEmpty {
		t.Fatalf("expected empty, got %s", got)
	}
	if got := Classify("   \n\t ", "", true); got != OutcomeEmpty {
		t.Fatalf("expected empty for whitespace, got %s", got)
	}
}

func TestClassifyStubBeatsStructuredParse(t *testing.T) {
	// A stub that is coincidentally a parseable fragment must never count
	// as a structural success.
	raw := `1. The speaker is discussing {"a":1}`
	if got := Classify(raw, "stop", true); got != OutcomeStub {
		t.Fatalf("expected stub to take precedence, got %s", got)
	}
}

func TestClassifyStubBareNumberedMarker(t *testing.T) {
	if got := Classify("2. Some short outline line", "stop", false); got != OutcomeStub {
		t.Fatalf("expected stub for bare numbered marker, got %s", got)
	}
}

func TestClassifyNumberedButLongIsNotStub(t *testing.T) {
	raw := "1. " + strings.Repeat("a real answer with substance ", 10)
	if got := Classify(raw, "stop", false); got != OutcomeText {
		t.Fatalf("expected success-text for long numbered answer, got %s", got)
	}
}

func TestClassifyStructuredSuccess(t *testing.T) {
	raw := "Here you go: {\"summary\": \"ok\", \"topics\": [1, 2]}"
	if got := Classify(raw, "stop", true); got != OutcomeStructured {
		t.Fatalf("expected success-structured, got %s", got)
	}
}

func TestClassifyStructuredTruncatedOnLengthStop(t *testing.T) {
	raw := `{"summary": "cut off mid`
	if got := Classify(raw, "length", true); got != OutcomeTruncated {
		t.Fatalf("expected truncated, got %s", got)
	}
}

func TestClassifyStructuredMalformed(t *testing.T) {
	raw := `not even close to an object`
	if got := Classify(raw, "stop", true); got != OutcomeMalformed {
		t.Fatalf("expected malformed-structure, got %s", got)
	}
}

func TestClassifyTextTruncatedOnLengthStop(t *testing.T) {
	raw := "a long answer that stopped because the model hit its output limit"
	if got := Classify(raw, "length", false); got != OutcomeTruncated {
		t.Fatalf("expected truncated, got %s", got)
	}
}

func TestClassifyAbsentDoneReasonCountsAsSuccess(t *testing.T) {
	if got := Classify("a perfectly fine plain answer", "", false); got != OutcomeText {
		t.Fatalf("expected success-text with absent done_reason, got %s", got)
	}
	if got := Classify(`{"fine": true}`, "", true); got != OutcomeStructured {
		t.Fatalf("expected success-structured with absent done_reason, got %s", got)
	}
}
