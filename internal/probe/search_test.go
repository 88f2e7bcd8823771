package probe

import (
	"context"
	"errors"
	"math"
	"testing"
)

// thresholdRunner succeeds at any length up to threshold and fails above
// it, mirroring the monotonicity assumption the search relies on.
type thresholdRunner struct {
	sourceLen int
	threshold int
	failWith  Outcome
	calls     []int
}

func (r *thresholdRunner) SourceLen() int {
	return r.sourceLen
}

func (r *thresholdRunner) RunTrial(ctx context.Context, n, lo, hi int) Trial {
	r.calls = append(r.calls, n)
	outcome := OutcomeText
	if n > r.threshold {
		outcome = r.failWith
	}
	return Trial{
		NChars:   n,
		Outcome:  outcome,
		SearchLo: lo,
		SearchHi: hi,
	}
}

func TestSearchBoundaryScenario(t *testing.T) {
	runner := &thresholdRunner{sourceLen: 10000, threshold: 6000, failWith: OutcomeTruncated}
	sink := &MemorySink{}
	cfg := SessionConfig{Model: "m", MinChars: 2000, Tolerance: 500}
	summary, err := NewSearcher(runner, sink, cfg).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !summary.Found {
		t.Fatal("expected a resolved boundary")
	}
	if summary.Boundary < 5500 || summary.Boundary > 6500 {
		t.Fatalf("boundary %d outside [5500, 6500]", summary.Boundary)
	}
	wantFinal := summary.FinalTrial.NChars <= 6000
	if summary.FinalTrial.Outcome.Success() != wantFinal {
		t.Fatalf("final check at %d reported %s", summary.FinalTrial.NChars, summary.FinalTrial.Outcome)
	}
	if summary.FinalTrial.Outcome.Success() && summary.Boundary != summary.FinalTrial.NChars {
		t.Fatalf("confirmed final check must define the boundary: %d != %d", summary.Boundary, summary.FinalTrial.NChars)
	}
	if !summary.FinalTrial.Outcome.Success() && !summary.Approximate {
		t.Fatal("boundary from an earlier best trial must be flagged approximate")
	}
}

func TestSearchTrialCountBound(t *testing.T) {
	runner := &thresholdRunner{sourceLen: 10000, threshold: 6000, failWith: OutcomeTruncated}
	sink := &MemorySink{}
	cfg := SessionConfig{Model: "m", MinChars: 2000, Tolerance: 500}
	summary, err := NewSearcher(runner, sink, cfg).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	span := 10000 - 2000
	bound := int(math.Ceil(math.Log2(float64(span)/500))) + 1 + 1 // bisection + final check
	if summary.Trials > bound {
		t.Fatalf("search took %d trials, bound is %d", summary.Trials, bound)
	}
}

func TestSearchNoSuccessfulSize(t *testing.T) {
	runner := &thresholdRunner{sourceLen: 4000, threshold: 0, failWith: OutcomeEmpty}
	sink := &MemorySink{}
	cfg := SessionConfig{Model: "m", MinChars: 100, Tolerance: 50}
	summary, err := NewSearcher(runner, sink, cfg).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("no successful size is not an error, got: %v", err)
	}
	if summary.Found {
		t.Fatalf("expected no boundary, got %d", summary.Boundary)
	}
	if summary.BestTrial != nil {
		t.Fatal("expected no best trial")
	}
}

func TestSearchBadRangeFailsBeforeAnyTrial(t *testing.T) {
	runner := &thresholdRunner{sourceLen: 1000, threshold: 500, failWith: OutcomeTruncated}
	cfg := SessionConfig{Model: "m", MinChars: 5000, Tolerance: 10}
	_, err := NewSearcher(runner, &MemorySink{}, cfg).Run(context.Background(), nil)
	if !errors.Is(err, ErrBadRange) {
		t.Fatalf("expected ErrBadRange, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected zero trials before config failure, got %d", len(runner.calls))
	}
}

func TestSearchZeroToleranceBisectsExactly(t *testing.T) {
	runner := &thresholdRunner{sourceLen: 20, threshold: 13, failWith: OutcomeTruncated}
	sink := &MemorySink{}
	cfg := SessionConfig{Model: "m", MinChars: 1, Tolerance: 0}
	summary, err := NewSearcher(runner, sink, cfg).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !summary.Found || summary.Boundary != 13 {
		t.Fatalf("expected exact boundary 13, got found=%v boundary=%d", summary.Found, summary.Boundary)
	}
}

func TestSearchLogsEveryTrialExactlyOnceAndReplaysDeterministically(t *testing.T) {
	run := func() (Summary, []Trial, []int) {
		runner := &thresholdRunner{sourceLen: 10000, threshold: 6000, failWith: OutcomeTruncated}
		sink := &MemorySink{}
		cfg := SessionConfig{Model: "m", MinChars: 2000, Tolerance: 500}
		summary, err := NewSearcher(runner, sink, cfg).Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
		return summary, sink.Trials(), runner.calls
	}

	first, firstLog, firstCalls := run()
	second, secondLog, _ := run()

	if len(firstLog) != first.Trials {
		t.Fatalf("log has %d records for %d trials", len(firstLog), first.Trials)
	}
	for i, trial := range firstLog {
		if trial.NChars != firstCalls[i] {
			t.Fatalf("log record %d is %d chars, trial ran at %d", i, trial.NChars, firstCalls[i])
		}
	}
	if first.Boundary != second.Boundary || first.Approximate != second.Approximate {
		t.Fatalf("replay diverged: %+v vs %+v", first, second)
	}
	if len(firstLog) != len(secondLog) {
		t.Fatalf("replay trial counts diverged: %d vs %d", len(firstLog), len(secondLog))
	}
	lastA, lastB := firstLog[len(firstLog)-1], secondLog[len(secondLog)-1]
	if lastA.SearchLo != lastB.SearchLo || lastA.SearchHi != lastB.SearchHi {
		t.Fatalf("final interval diverged: [%d,%d] vs [%d,%d]", lastA.SearchLo, lastA.SearchHi, lastB.SearchLo, lastB.SearchHi)
	}
}

func TestSearchCancellationBetweenTrials(t *testing.T) {
	runner := &thresholdRunner{sourceLen: 10000, threshold: 6000, failWith: OutcomeTruncated}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := SessionConfig{Model: "m", MinChars: 2000, Tolerance: 500}
	_, err := NewSearcher(runner, &MemorySink{}, cfg).Run(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no trial after cancellation, got %d", len(runner.calls))
	}
}
