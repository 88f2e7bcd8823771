package probe

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// TrialSink receives every trial exactly once, in issue order. Records are
// append-only; no implementation may rewrite or drop one.
type TrialSink interface {
	Append(trial Trial) error
}

// FileSink appends one JSON line per trial. The file is opened in append
// mode and every record is written in a single unbuffered call, so a
// partially completed search leaves a log from which all prior trials can
// be reconstructed.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trial log: %w", err)
	}
	return &FileSink{file: file}, nil
}

func (s *FileSink) Append(trial Trial) error {
	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("encode trial record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write trial record: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// MemorySink collects trials in memory for tests and embedded use.
type MemorySink struct {
	mu     sync.Mutex
	trials []Trial
}

func (s *MemorySink) Append(trial Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trials = append(s.trials, trial)
	return nil
}

func (s *MemorySink) Trials() []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trial, len(s.trials))
	copy(out, s.trials)
	return out
}
