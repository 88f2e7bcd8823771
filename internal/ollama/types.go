package ollama

import "encoding/json"

// GenerateOptions are the decoding parameters forwarded verbatim to the
// service's "options" object.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict"`
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options GenerateOptions `json:"options"`
}

// GenerateResponse is the non-streaming /api/generate envelope. Fields the
// service may omit are pointers so absence survives the decode.
type GenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	EvalCount       *int   `json:"eval_count,omitempty"`
	PromptEvalCount *int   `json:"prompt_eval_count,omitempty"`
	TotalDuration   *int64 `json:"total_duration,omitempty"`
}

type APIErrorEnvelope struct {
	Error string `json:"error"`
}

type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Body)
}

func ParseAPIErrorEnvelope(body []byte) (APIErrorEnvelope, bool) {
	var envelope APIErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return APIErrorEnvelope{}, false
	}
	if envelope.Error == "" {
		return APIErrorEnvelope{}, false
	}
	return envelope, true
}
