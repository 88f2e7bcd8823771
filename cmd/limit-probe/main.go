package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sawl-probe/internal/ollama"
	"sawl-probe/internal/probe"
)

const defaultInstructions = "You are given a transcript. Produce a structured analysis.\n" +
	"If JSON is requested, output ONLY a single JSON object.\n" +
	"Otherwise, output a concise structured summary.\n" +
	"Do not preface with numbering unless asked.\n"

func main() {
	filePath := flag.String("file", "", "Transcript file (utf-8). If omitted, reads from stdin")
	baseURL := flag.String("base-url", envOr("PROBE_BASE_URL", "http://127.0.0.1:11434"), "Base URL of the generate service")
	model := flag.String("model", envOr("PROBE_MODEL", "mixtral:latest"), "Model name")
	formatJSON := flag.Bool("format-json", false, "Request format=json and require parseable JSON output")
	numCtx := flag.Int("num-ctx", 32768, "options.num_ctx")
	numPredict := flag.Int("num-predict", 4096, "options.num_predict")
	temperature := flag.Float64("temperature", 0.2, "options.temperature")
	timeout := flag.Duration("timeout", 300*time.Second, "HTTP timeout per trial")
	minChars := flag.Int("min-chars", 2000, "Start of search range")
	maxChars := flag.Int("max-chars", 0, "End of search range (0 = full transcript length)")
	tolerance := flag.Int("tolerance", 500, "Stop when hi-lo <= tolerance")
	logPath := flag.String("log", "limit_probe.log.jsonl", "Append one JSON trial record per line here")
	instructionsFile := flag.String("instructions-file", "", "Optional file with the instruction text")
	flag.Parse()

	source, err := readSource(*filePath)
	if err != nil {
		exitWith(err.Error())
	}

	// Stop tokens in the model template can cut generation short if they
	// appear verbatim in the transcript.
	for _, token := range []string{"[INST]", "[/INST]"} {
		if strings.Contains(source, token) {
			fmt.Fprintf(os.Stderr, "[warn] transcript contains token %q (may cause early stop)\n", token)
		}
	}

	instructions := defaultInstructions
	if strings.TrimSpace(*instructionsFile) != "" {
		data, err := os.ReadFile(filepath.Clean(*instructionsFile))
		if err != nil {
			exitWith("read instructions file: " + err.Error())
		}
		instructions = strings.TrimSpace(string(data))
	}

	cfg := probe.SessionConfig{
		BaseURL:      *baseURL,
		Model:        *model,
		Instructions: instructions,
		FormatJSON:   *formatJSON,
		Temperature:  *temperature,
		NumCtx:       *numCtx,
		NumPredict:   *numPredict,
		Timeout:      *timeout,
		MinChars:     *minChars,
		MaxChars:     *maxChars,
		Tolerance:    *tolerance,
	}
	if err := cfg.Validate(); err != nil {
		exitWith(err.Error())
	}

	sink, err := probe.NewFileSink(*logPath)
	if err != nil {
		exitWith(err.Error())
	}
	defer sink.Close()

	client := ollama.NewClient(ollama.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	runner := probe.NewRunner(client, cfg, source)

	fmt.Printf("[info] transcript_len_chars=%d\n", runner.SourceLen())
	fmt.Printf("[info] search_range=[%d, %d] tolerance=%d\n", cfg.MinChars, maxOrFull(cfg.MaxChars, runner.SourceLen()), cfg.Tolerance)
	fmt.Printf("[info] format_json=%v num_ctx=%d num_predict=%d temp=%.2f\n", cfg.FormatJSON, cfg.NumCtx, cfg.NumPredict, cfg.Temperature)
	fmt.Printf("[info] logging -> %s\n\n", *logPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	searcher := probe.NewSearcher(runner, sink, cfg)
	summary, err := searcher.Run(ctx, func(trial probe.Trial) {
		fmt.Printf("[try] n_chars=%d %s (%.1fs) done_reason=%s resp_len=%d\n",
			trial.NChars, trial.Outcome, trial.ElapsedSeconds, trial.DoneReason, trial.RawResponseLen)
	})
	if err != nil {
		if errors.Is(err, probe.ErrBadRange) {
			exitWith(err.Error())
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		fmt.Fprintf(os.Stderr, "log appended to %s; resume with a narrower -min-chars/-max-chars\n", *logPath)
		os.Exit(1)
	}

	fmt.Println("\n=== RESULT ===")
	switch {
	case summary.Found && !summary.Approximate:
		fmt.Printf("Max-good: %d chars (confirmed by final check)\n", summary.Boundary)
		fmt.Printf("Preview: %s\n", summary.FinalTrial.Preview)
	case summary.Found:
		fmt.Printf("Max-good (approx): %d chars\n", summary.Boundary)
		fmt.Printf("Last-good outcome: %s (%.1fs)\n", summary.BestTrial.Outcome, summary.BestTrial.ElapsedSeconds)
		fmt.Printf("Preview: %s\n", summary.BestTrial.Preview)
		fmt.Printf("Final check failed at %d chars: %s\n", summary.FinalTrial.NChars, summary.FinalTrial.Outcome)
	default:
		fmt.Println("No successful size found in the tested range.")
		fmt.Printf("Last outcome: %s\n", summary.FinalTrial.Outcome)
		fmt.Printf("Preview: %s\n", summary.FinalTrial.Preview)
	}
	fmt.Printf("\n[done] %d trials, log appended to %s\n", summary.Trials, *logPath)
}

func readSource(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return "", fmt.Errorf("read transcript: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no input text found; provide -file or pipe text into stdin")
	}
	return string(data), nil
}

func maxOrFull(maxChars, fullLen int) int {
	if maxChars > 0 && maxChars < fullLen {
		return maxChars
	}
	return fullLen
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
