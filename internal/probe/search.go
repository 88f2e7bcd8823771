package probe

import (
	"context"
	"errors"
	"fmt"
)

// ErrBadRange reports an unusable search interval. It is a configuration
// failure and is raised before any HTTP call is made.
var ErrBadRange = errors.New("bad search range")

// Searcher drives a binary search over candidate input length under the
// assumption that success likelihood is monotonically non-increasing in
// length. It owns the interval state exclusively; trials are sequential.
type Searcher struct {
	runner TrialRunner
	sink   TrialSink
	cfg    SessionConfig
}

func NewSearcher(runner TrialRunner, sink TrialSink, cfg SessionConfig) *Searcher {
	return &Searcher{
		runner: runner,
		sink:   sink,
		cfg:    cfg,
	}
}

// Run executes the full search and the definitive final check. Every trial
// is appended to the sink exactly once regardless of outcome; onTrial, when
// non-nil, is invoked after each append. Cancellation between trials is
// safe: all completed trials are already in the log.
func (s *Searcher) Run(ctx context.Context, onTrial func(Trial)) (Summary, error) {
	fullLen := s.runner.SourceLen()
	lo := s.cfg.MinChars
	if lo > fullLen {
		lo = fullLen
	}
	if lo < 1 {
		lo = 1
	}
	hi := fullLen
	if s.cfg.MaxChars > 0 && s.cfg.MaxChars < fullLen {
		hi = s.cfg.MaxChars
	}
	if lo >= hi {
		return Summary{}, fmt.Errorf("%w: min_chars=%d max_chars=%d full_len=%d", ErrBadRange, lo, hi, fullLen)
	}

	var best *Trial
	trials := 0

	record := func(trial Trial) error {
		trials++
		if err := s.sink.Append(trial); err != nil {
			return fmt.Errorf("append trial log: %w", err)
		}
		if onTrial != nil {
			onTrial(trial)
		}
		return nil
	}

	for hi-lo > s.cfg.Tolerance {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		mid := (lo + hi) / 2
		trial := s.runner.RunTrial(ctx, mid, lo, hi)
		if err := record(trial); err != nil {
			return Summary{}, err
		}
		if trial.Outcome.Success() {
			if best == nil || trial.NChars > best.NChars {
				copied := trial
				best = &copied
			}
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	// The narrowed interval alone is no proof of success at its edge; probe
	// the upper bound once more for a definitive answer.
	finalN := hi
	if finalN > fullLen {
		finalN = fullLen
	}
	if finalN < 1 {
		finalN = 1
	}
	final := s.runner.RunTrial(ctx, finalN, lo, hi)
	if err := record(final); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		FinalTrial: final,
		BestTrial:  best,
		Trials:     trials,
		SourceLen:  fullLen,
	}
	switch {
	case final.Outcome.Success():
		summary.Found = true
		summary.Boundary = finalN
	case best != nil:
		summary.Found = true
		summary.Boundary = best.NChars
		summary.Approximate = true
	}
	return summary, nil
}
