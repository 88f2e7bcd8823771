package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"sawl-probe/internal/ollama"
	"sawl-probe/internal/probe"
)

// SessionManager queues probe sessions and executes them on a small worker
// pool. Capacity probing saturates the target model's context window, so
// parallelism defaults to one worker.
type SessionManager struct {
	cfg        ServerConfig
	store      Store
	obs        *Observability
	queue      chan queuedSession
	wg         sync.WaitGroup
	quickLimit *ipRateLimiter
}

type SessionService interface {
	CreateSession(request SessionRequest, principal Principal, source string) (SessionMeta, error)
	CreateQuickProbe(request QuickProbeRequest, ipHash, uaHash string) (SessionMeta, error)
}

type queuedSession struct {
	SessionID   string
	Request     SessionRequest
	Creator     Principal
	CreatorType string
	Source      string
	SourceText  string
}

func NewSessionManager(cfg ServerConfig, store Store, obs *Observability) *SessionManager {
	maxParallel := cfg.Probe.MaxParallelSessions
	if maxParallel <= 0 {
		maxParallel = 1
	}
	manager := &SessionManager{
		cfg:        cfg,
		store:      store,
		obs:        obs,
		queue:      make(chan queuedSession, maxParallel*8),
		quickLimit: newIPRateLimiter(cfg.Limits.QuickProbeRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *SessionManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *SessionManager) CreateSession(request SessionRequest, principal Principal, source string) (SessionMeta, error) {
	sourceText := request.SourceText
	if strings.TrimSpace(sourceText) == "" {
		return SessionMeta{}, errors.New("source_text is required")
	}
	m.applyDefaults(&request)

	sessionID, err := randomID("sess")
	if err != nil {
		return SessionMeta{}, err
	}
	sourceChars := utf8.RuneCountInString(sourceText)
	// The transcript itself is not persisted; only its length survives in the
	// stored request.
	request.SourceText = ""
	meta := SessionMeta{
		SessionID:   sessionID,
		Status:      StatusQueued,
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		SourceChars: sourceChars,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateSession(meta); err != nil {
		return SessionMeta{}, err
	}
	_, _ = m.store.AppendSessionEvent(sessionID, "queue", "session queued", map[string]any{
		"source":       source,
		"source_chars": sourceChars,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		SessionID: sessionID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "session.create",
		Result:    StatusQueued,
	})
	m.queue <- queuedSession{
		SessionID:   sessionID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
		SourceText:  sourceText,
	}
	return meta, nil
}

func (m *SessionManager) CreateQuickProbe(request QuickProbeRequest, ipHash, uaHash string) (SessionMeta, error) {
	if !m.quickLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkRateLimited(context.Background(), "quick_probe")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "quick_probe.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return SessionMeta{}, errors.New("quick probe rate limit reached")
	}
	sessionRequest, err := quickProbeToSessionRequest(request, m.cfg)
	if err != nil {
		return SessionMeta{}, err
	}
	sourceText := sessionRequest.SourceText
	sourceChars := utf8.RuneCountInString(sourceText)
	sessionRequest.SourceText = ""

	sessionID, err := randomID("sess")
	if err != nil {
		return SessionMeta{}, err
	}
	meta := SessionMeta{
		SessionID:   sessionID,
		Status:      StatusQueued,
		Source:      "user.quick_probe",
		CreatorType: "user",
		Request:     sessionRequest,
		SourceChars: sourceChars,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateSession(meta); err != nil {
		return SessionMeta{}, err
	}
	_, _ = m.store.AppendSessionEvent(sessionID, "queue", "quick probe queued", map[string]any{
		"source_chars": sourceChars,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		SessionID: sessionID,
		ActorType: "user",
		Action:    "quick_probe.create",
		Result:    StatusQueued,
		IPHash:    ipHash,
		UAHash:    uaHash,
	})
	m.queue <- queuedSession{
		SessionID:   sessionID,
		Request:     sessionRequest,
		CreatorType: "user",
		Source:      "user.quick_probe",
		SourceText:  sourceText,
	}
	return meta, nil
}

func (m *SessionManager) worker() {
	for queued := range m.queue {
		m.executeSession(queued)
	}
}

func (m *SessionManager) executeSession(queued queuedSession) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
		meta.Status = StatusRunning
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendSessionEvent(queued.SessionID, "start", "session started", nil)

	cfg := probe.SessionConfig{
		BaseURL:      queued.Request.Endpoint,
		Model:        queued.Request.Model,
		Instructions: queued.Request.Instructions,
		FormatJSON:   queued.Request.FormatJSON,
		Temperature:  queued.Request.Temperature,
		NumCtx:       queued.Request.NumCtx,
		NumPredict:   queued.Request.NumPredict,
		Timeout:      time.Duration(queued.Request.TimeoutSec) * time.Second,
		MinChars:     queued.Request.MinChars,
		MaxChars:     queued.Request.MaxChars,
		Tolerance:    queued.Request.Tolerance,
	}
	if err := cfg.Validate(); err != nil {
		m.failSession(queued, "invalid session config: "+err.Error())
		return
	}

	client := ollama.NewClient(ollama.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	runner := probe.NewRunner(client, cfg, queued.SourceText)
	sink := &storeTrialSink{store: m.store, sessionID: queued.SessionID}

	ctx := context.Background()
	searcher := probe.NewSearcher(runner, sink, cfg)
	summary, err := searcher.Run(ctx, func(trial probe.Trial) {
		if m.obs != nil {
			m.obs.MarkTrial(ctx, trial)
		}
		_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
			meta.TrialCount++
		})
	})
	if err != nil {
		m.failSession(queued, err.Error())
		return
	}

	status := StatusUnresolved
	if summary.Found {
		status = StatusResolved
	}
	_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Summary = &summary
		meta.TrialCount = summary.Trials
	})
	_, _ = m.store.AppendSessionEvent(queued.SessionID, "completed", "session completed", map[string]any{
		"status":         status,
		"found":          summary.Found,
		"boundary_chars": summary.Boundary,
		"approximate":    summary.Approximate,
		"trials":         summary.Trials,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		SessionID: queued.SessionID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "session.completed",
		Result:    status,
		Detail:    fmt.Sprintf("boundary=%d approximate=%v trials=%d", summary.Boundary, summary.Approximate, summary.Trials),
	})
	if m.obs != nil {
		m.obs.MarkSession(ctx, status)
		if summary.Found {
			m.obs.MarkBoundary(ctx, summary.Boundary, summary.Approximate)
		}
	}
}

func (m *SessionManager) failSession(queued queuedSession, reason string) {
	_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
		meta.Status = StatusFailed
		meta.Error = reason
		meta.FinishedAt = nowRFC3339()
	})
	_, _ = m.store.AppendSessionEvent(queued.SessionID, "error", reason, nil)
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		SessionID: queued.SessionID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "session.completed",
		Result:    StatusFailed,
		Detail:    reason,
	})
	if m.obs != nil {
		m.obs.MarkSession(context.Background(), StatusFailed)
	}
}

func (m *SessionManager) applyDefaults(request *SessionRequest) {
	if strings.TrimSpace(request.Endpoint) == "" {
		request.Endpoint = m.cfg.Probe.Endpoint
	}
	if strings.TrimSpace(request.Model) == "" {
		request.Model = m.cfg.Probe.Model
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Probe.TimeoutSec
	}
	if request.MinChars <= 0 {
		request.MinChars = m.cfg.Probe.MinChars
	}
	if request.Tolerance <= 0 {
		request.Tolerance = m.cfg.Probe.Tolerance
	}
}

// storeTrialSink persists each trial as a session event so SSE subscribers
// see the search progress live.
type storeTrialSink struct {
	store     Store
	sessionID string
}

func (s *storeTrialSink) Append(trial probe.Trial) error {
	_, err := s.store.AppendSessionEvent(s.sessionID, "trial", string(trial.Outcome), map[string]any{
		"n_chars":      trial.NChars,
		"outcome":      string(trial.Outcome),
		"elapsed_s":    trial.ElapsedSeconds,
		"http_status":  trial.HTTPStatus,
		"done_reason":  trial.DoneReason,
		"resp_len":     trial.RawResponseLen,
		"search_lo":    trial.SearchLo,
		"search_hi":    trial.SearchHi,
		"preview":      trial.Preview,
	})
	return err
}

func quickProbeToSessionRequest(input QuickProbeRequest, cfg ServerConfig) (SessionRequest, error) {
	sourceText := input.SourceText
	if strings.TrimSpace(sourceText) == "" {
		return SessionRequest{}, errors.New("source_text is required")
	}
	if utf8.RuneCountInString(sourceText) > cfg.Probe.QuickProbeMaxChars {
		return SessionRequest{}, fmt.Errorf("source_text exceeds quick probe limit of %d chars", cfg.Probe.QuickProbeMaxChars)
	}
	model := strings.TrimSpace(input.Model)
	if model == "" {
		model = cfg.Probe.Model
	}
	return SessionRequest{
		Endpoint:   cfg.Probe.Endpoint,
		Model:      model,
		SourceText: sourceText,
		FormatJSON: input.FormatJSON,
		TimeoutSec: cfg.Probe.TimeoutSec,
		MinChars:   cfg.Probe.MinChars,
		Tolerance:  cfg.Probe.Tolerance,
	}, nil
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 2
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := filterRecentTime(l.records[key], cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
