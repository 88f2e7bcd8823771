package server

import (
	"strings"
	"testing"
)

func TestQuickProbeToSessionRequest(t *testing.T) {
	cfg := DefaultServerConfig()
	request, err := quickProbeToSessionRequest(QuickProbeRequest{
		SourceText: strings.Repeat("a", 5000),
		FormatJSON: true,
	}, cfg)
	if err != nil {
		t.Fatalf("quickProbeToSessionRequest returned error: %v", err)
	}
	if request.Model != cfg.Probe.Model {
		t.Fatalf("expected default model %s, got %s", cfg.Probe.Model, request.Model)
	}
	if request.Endpoint != cfg.Probe.Endpoint {
		t.Fatalf("expected default endpoint, got %s", request.Endpoint)
	}
	if !request.FormatJSON {
		t.Fatalf("expected format_json to carry over")
	}
	if request.MinChars != cfg.Probe.MinChars || request.Tolerance != cfg.Probe.Tolerance {
		t.Fatalf("expected probe defaults applied, got min=%d tol=%d", request.MinChars, request.Tolerance)
	}
}

func TestQuickProbeRejectsOversizeSource(t *testing.T) {
	cfg := DefaultServerConfig()
	_, err := quickProbeToSessionRequest(QuickProbeRequest{
		SourceText: strings.Repeat("a", cfg.Probe.QuickProbeMaxChars+1),
	}, cfg)
	if err == nil {
		t.Fatalf("expected error for oversize source text")
	}
}

func TestQuickProbeRejectsEmptySource(t *testing.T) {
	cfg := DefaultServerConfig()
	_, err := quickProbeToSessionRequest(QuickProbeRequest{SourceText: "   "}, cfg)
	if err == nil {
		t.Fatalf("expected error for empty source text")
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := newIPRateLimiter(2)
	if !limiter.Allow("ip-a") || !limiter.Allow("ip-a") {
		t.Fatalf("expected first two requests to pass")
	}
	if limiter.Allow("ip-a") {
		t.Fatalf("expected third request within a minute to be rejected")
	}
	if !limiter.Allow("ip-b") {
		t.Fatalf("expected separate key to have its own budget")
	}
}
