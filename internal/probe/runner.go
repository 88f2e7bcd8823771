package probe

import (
	"context"
	"strings"
	"time"

	"sawl-probe/internal/ollama"
)

const (
	transcriptBegin = "===TRANSCRIPT_BEGIN==="
	transcriptEnd   = "===TRANSCRIPT_END==="

	previewMaxChars = 220
)

// TrialRunner executes one probe attempt at a candidate length.
type TrialRunner interface {
	RunTrial(ctx context.Context, n, lo, hi int) Trial
	SourceLen() int
}

// Runner builds prompts from a fixed source text and issues single
// non-streaming generate calls. One HTTP request per RunTrial, no retries:
// a retry would conflate transient failure with size-induced failure.
type Runner struct {
	client *ollama.Client
	cfg    SessionConfig
	source []rune
}

func NewRunner(client *ollama.Client, cfg SessionConfig, source string) *Runner {
	return &Runner{
		client: client,
		cfg:    cfg,
		source: []rune(source),
	}
}

func (r *Runner) SourceLen() int {
	return len(r.source)
}

// BuildPrompt joins instructions and transcript with explicit delimiters so
// the model cannot mistake transcript content for instructions.
func BuildPrompt(instructions, transcript string) string {
	return strings.TrimSpace(instructions) +
		"\n\n" + transcriptBegin + "\n" +
		transcript +
		"\n" + transcriptEnd + "\n"
}

// RunTrial probes candidate length n. Transport failures, non-2xx statuses
// and undecodable envelopes never abort the session; they come back as a
// classified error trial so the search can narrow downward.
func (r *Runner) RunTrial(ctx context.Context, n, lo, hi int) Trial {
	if n > len(r.source) {
		n = len(r.source)
	}
	if n < 0 {
		n = 0
	}
	prefix := string(r.source[:n])

	req := ollama.GenerateRequest{
		Model:  r.cfg.Model,
		Prompt: BuildPrompt(r.cfg.Instructions, prefix),
		Stream: false,
		Options: ollama.GenerateOptions{
			Temperature: r.cfg.Temperature,
			NumCtx:      r.cfg.NumCtx,
			NumPredict:  r.cfg.NumPredict,
		},
	}
	if r.cfg.FormatJSON {
		req.Format = "json"
	}

	start := time.Now()
	resp, raw, err := r.client.Generate(ctx, req)
	elapsed := time.Since(start)

	trial := Trial{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		NChars:         n,
		ElapsedSeconds: roundSeconds(elapsed),
		SearchLo:       lo,
		SearchHi:       hi,
	}
	if raw != nil {
		trial.HTTPStatus = raw.StatusCode
	}

	var rawText string
	switch {
	case err != nil:
		rawText = errorMarker + " " + err.Error()
	default:
		rawText = resp.Response
		trial.DoneReason = resp.DoneReason
		trial.EvalCount = resp.EvalCount
		trial.PromptEvalCount = resp.PromptEvalCount
		trial.TotalDuration = resp.TotalDuration
	}

	trial.RawResponseLen = len(rawText)
	trial.Outcome = Classify(rawText, trial.DoneReason, r.cfg.FormatJSON)
	trial.Preview = previewOf(rawText)
	return trial
}

func previewOf(text string) string {
	t := strings.ReplaceAll(strings.TrimSpace(text), "\n", "\\n")
	r := []rune(t)
	if len(r) <= previewMaxChars {
		return t
	}
	return string(r[:previewMaxChars]) + "…"
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
