package probe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Outcome string

const (
	OutcomeStructured Outcome = "success-structured"
	OutcomeText       Outcome = "success-text"
	OutcomeStub       Outcome = "stub"
	OutcomeEmpty      Outcome = "empty"
	OutcomeMalformed  Outcome = "malformed-structure"
	OutcomeTruncated  Outcome = "truncated"
	OutcomeError      Outcome = "error"
)

func (o Outcome) Success() bool {
	return o == OutcomeStructured || o == OutcomeText
}

// SessionConfig is fixed for the lifetime of one probe session.
type SessionConfig struct {
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	Instructions string        `json:"instructions"`
	FormatJSON   bool          `json:"format_json"`
	Temperature  float64       `json:"temperature"`
	NumCtx       int           `json:"num_ctx"`
	NumPredict   int           `json:"num_predict"`
	Timeout      time.Duration `json:"-"`
	MinChars     int           `json:"min_chars"`
	MaxChars     int           `json:"max_chars"` // 0 means full source length
	Tolerance    int           `json:"tolerance"`
}

func (c *SessionConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model is required")
	}
	if c.MinChars < 0 || c.MaxChars < 0 {
		return fmt.Errorf("negative search bound: min_chars=%d max_chars=%d", c.MinChars, c.MaxChars)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("negative tolerance: %d", c.Tolerance)
	}
	if c.NumCtx <= 0 {
		c.NumCtx = 32768
	}
	if c.NumPredict <= 0 {
		c.NumPredict = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	return nil
}

// Trial is one probe attempt. It is immutable once classified; the logger
// appends it verbatim and nothing mutates it afterwards.
type Trial struct {
	Timestamp       string  `json:"ts"`
	NChars          int     `json:"n_chars"`
	ElapsedSeconds  float64 `json:"elapsed_s"`
	HTTPStatus      int     `json:"http_status"`
	DoneReason      string  `json:"done_reason"`
	EvalCount       *int    `json:"eval_count"`
	PromptEvalCount *int    `json:"prompt_eval_count"`
	TotalDuration   *int64  `json:"total_duration"`
	RawResponseLen  int     `json:"raw_response_len"`
	Outcome         Outcome `json:"outcome"`
	Preview         string  `json:"preview"`
	SearchLo        int     `json:"search_lo"`
	SearchHi        int     `json:"search_hi"`
}

// Summary is the terminal report of a session. Found=false is a valid
// informative result, not a failure.
type Summary struct {
	Found       bool   `json:"found"`
	Boundary    int    `json:"boundary_chars,omitempty"`
	Approximate bool   `json:"approximate,omitempty"`
	FinalTrial  Trial  `json:"final_trial"`
	BestTrial   *Trial `json:"best_trial,omitempty"`
	Trials      int    `json:"trials"`
	SourceLen   int    `json:"source_len_chars"`
}
