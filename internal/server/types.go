package server

import (
	"time"

	"sawl-probe/internal/probe"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type SessionRequest struct {
	Endpoint     string  `json:"endpoint,omitempty"`
	Model        string  `json:"model,omitempty"`
	SourceText   string  `json:"source_text"`
	Instructions string  `json:"instructions,omitempty"`
	FormatJSON   bool    `json:"format_json,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	NumCtx       int     `json:"num_ctx,omitempty"`
	NumPredict   int     `json:"num_predict,omitempty"`
	TimeoutSec   int     `json:"timeout_sec,omitempty"`
	MinChars     int     `json:"min_chars,omitempty"`
	MaxChars     int     `json:"max_chars,omitempty"`
	Tolerance    int     `json:"tolerance,omitempty"`
}

type QuickProbeRequest struct {
	SourceText string `json:"source_text"`
	Model      string `json:"model,omitempty"`
	FormatJSON bool   `json:"format_json,omitempty"`
}

// SessionMeta is the persisted record of one probe session. The stored
// request is redacted: the source text itself is dropped after dispatch and
// only its length is kept.
type SessionMeta struct {
	SessionID   string         `json:"session_id"`
	Status      string         `json:"status"`
	CreatorType string         `json:"creator_type"`
	CreatorSub  string         `json:"creator_sub,omitempty"`
	Source      string         `json:"source"`
	Request     SessionRequest `json:"request"`
	SourceChars int            `json:"source_chars"`
	StartedAt   string         `json:"started_at,omitempty"`
	FinishedAt  string         `json:"finished_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
	Error       string         `json:"error,omitempty"`
	Summary     *probe.Summary `json:"summary,omitempty"`
	TrialCount  int            `json:"trial_count"`
}

const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
	StatusFailed     = "fail"
)

type SessionEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt        string  `json:"generated_at"`
	TotalSessions      int     `json:"total_sessions"`
	RunningSessions    int     `json:"running_sessions"`
	ResolvedSessions   int     `json:"resolved_sessions"`
	UnresolvedSessions int     `json:"unresolved_sessions"`
	FailedSessions     int     `json:"failed_sessions"`
	TotalTrials        int     `json:"total_trials"`
	AverageBoundary    float64 `json:"average_boundary_chars"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
