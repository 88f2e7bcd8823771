package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sawl-probe/internal/probe"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateSession(meta SessionMeta) error {
	req, _ := json.Marshal(meta.Request)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO probe_sessions (session_id,status,creator_type,creator_sub,source,request,source_chars,created_at,trial_count)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		meta.SessionID, meta.Status, meta.CreatorType, nullStr(meta.CreatorSub),
		meta.Source, req, meta.SourceChars, meta.CreatedAt, meta.TrialCount)
	return err
}

func (s *PgStore) UpdateSession(sessionID string, mutate func(*SessionMeta)) (SessionMeta, error) {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return SessionMeta{}, err
	}
	defer tx.Rollback(context.Background())

	row := tx.QueryRow(context.Background(),
		`SELECT session_id,status,creator_type,creator_sub,source,request,source_chars,
		        started_at,finished_at,created_at,error,summary,trial_count
		 FROM probe_sessions WHERE session_id=$1 FOR UPDATE`, sessionID)
	meta, err := scanSessionMeta(row)
	if err != nil {
		return SessionMeta{}, fmt.Errorf("session not found: %s", sessionID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	req, _ := json.Marshal(meta.Request)
	var summaryJSON []byte
	if meta.Summary != nil {
		summaryJSON, _ = json.Marshal(meta.Summary)
	}
	_, err = tx.Exec(context.Background(),
		`UPDATE probe_sessions SET status=$1,started_at=$2,finished_at=$3,error=$4,
		 summary=$5,trial_count=$6,request=$7,source_chars=$8 WHERE session_id=$9`,
		meta.Status, nullStr(meta.StartedAt), nullStr(meta.FinishedAt), nullStr(meta.Error),
		summaryJSON, meta.TrialCount, req, meta.SourceChars, sessionID)
	if err != nil {
		return SessionMeta{}, err
	}
	return meta, tx.Commit(context.Background())
}

func (s *PgStore) GetSession(sessionID string) (SessionMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT session_id,status,creator_type,creator_sub,source,request,source_chars,
		        started_at,finished_at,created_at,error,summary,trial_count
		 FROM probe_sessions WHERE session_id=$1`, sessionID)
	meta, err := scanSessionMeta(row)
	if err != nil {
		return SessionMeta{}, false
	}
	return meta, true
}

func (s *PgStore) ListSessions(limit int) []SessionMeta {
	if limit <= 0 {
		limit = 100
	}
	return s.querySessions(
		`SELECT session_id,status,creator_type,creator_sub,source,request,source_chars,
		        started_at,finished_at,created_at,error,summary,trial_count
		 FROM probe_sessions ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PgStore) ListSessionsByCreator(creatorSub string, limit int) []SessionMeta {
	if limit <= 0 {
		limit = 50
	}
	return s.querySessions(
		`SELECT session_id,status,creator_type,creator_sub,source,request,source_chars,
		        started_at,finished_at,created_at,error,summary,trial_count
		 FROM probe_sessions WHERE creator_sub=$1 ORDER BY created_at DESC LIMIT $2`, creatorSub, limit)
}

func (s *PgStore) querySessions(query string, args ...any) []SessionMeta {
	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return []SessionMeta{}
	}
	defer rows.Close()
	out := []SessionMeta{}
	for rows.Next() {
		meta, err := scanSessionMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out
}

func (s *PgStore) AppendSessionEvent(sessionID string, stage, message string, data map[string]any) (SessionEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	var seq int64
	var ts time.Time
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO session_events (session_id, seq, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM session_events WHERE session_id=$1),0)+1, $2, $3, $4)
		 RETURNING seq, timestamp`, sessionID, stage, message, dataJSON).Scan(&seq, &ts)
	if err != nil {
		return SessionEvent{}, err
	}
	return SessionEvent{
		Seq:       seq,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Stage:     stage,
		Message:   message,
		Data:      data,
	}, nil
}

func (s *PgStore) ListSessionEvents(sessionID string, sinceSeq int64) []SessionEvent {
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, timestamp, stage, message, data
		 FROM session_events WHERE session_id=$1 AND seq>$2 ORDER BY seq`, sessionID, sinceSeq)
	if err != nil {
		return []SessionEvent{}
	}
	defer rows.Close()
	out := []SessionEvent{}
	for rows.Next() {
		var e SessionEvent
		var ts time.Time
		var dataJSON []byte
		if err := rows.Scan(&e.Seq, &ts, &e.Stage, &e.Message, &dataJSON); err != nil {
			continue
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &e.Data)
		}
		out = append(out, e)
	}
	return out
}

func (s *PgStore) AppendAudit(event AuditEvent) error {
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO audit_events (timestamp,session_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.Timestamp, nullStr(event.SessionID), event.ActorType, nullStr(event.ActorSub),
		event.Action, event.Result, nullStr(event.IPHash), nullStr(event.UAHash), nullStr(event.Detail))
	return err
}

func (s *PgStore) ListAudit(limit int) []AuditEvent {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT timestamp,session_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return []AuditEvent{}
	}
	defer rows.Close()
	out := []AuditEvent{}
	for rows.Next() {
		var a AuditEvent
		var ts time.Time
		var sessionID, actorSub, ipHash, uaHash, detail *string
		if err := rows.Scan(&ts, &sessionID, &a.ActorType, &actorSub, &a.Action, &a.Result, &ipHash, &uaHash, &detail); err != nil {
			continue
		}
		a.Timestamp = ts.UTC().Format(time.RFC3339)
		a.SessionID = deref(sessionID)
		a.ActorSub = deref(actorSub)
		a.IPHash = deref(ipHash)
		a.UAHash = deref(uaHash)
		a.Detail = deref(detail)
		out = append(out, a)
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('running','queued')),
			COUNT(*) FILTER (WHERE status='resolved'),
			COUNT(*) FILTER (WHERE status='unresolved'),
			COUNT(*) FILTER (WHERE status='fail'),
			COALESCE(SUM(trial_count),0)
		 FROM probe_sessions`).Scan(
		&overview.TotalSessions, &overview.RunningSessions, &overview.ResolvedSessions,
		&overview.UnresolvedSessions, &overview.FailedSessions, &overview.TotalTrials)

	_ = s.pool.QueryRow(context.Background(),
		`SELECT COALESCE(AVG((summary->>'boundary_chars')::float), 0)
		 FROM probe_sessions
		 WHERE summary IS NOT NULL AND (summary->>'found')::bool`).Scan(&overview.AverageBoundary)
	return overview
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSessionMeta(row scannable) (SessionMeta, error) {
	var m SessionMeta
	var reqJSON, summaryJSON []byte
	var creatorSub, startedAt, finishedAt, errStr *string
	err := row.Scan(&m.SessionID, &m.Status, &m.CreatorType, &creatorSub, &m.Source,
		&reqJSON, &m.SourceChars, &startedAt, &finishedAt, &m.CreatedAt,
		&errStr, &summaryJSON, &m.TrialCount)
	if err != nil {
		return SessionMeta{}, err
	}
	m.CreatorSub = deref(creatorSub)
	m.StartedAt = deref(startedAt)
	m.FinishedAt = deref(finishedAt)
	m.Error = deref(errStr)
	_ = json.Unmarshal(reqJSON, &m.Request)
	if len(summaryJSON) > 0 {
		var summary probe.Summary
		if json.Unmarshal(summaryJSON, &summary) == nil {
			m.Summary = &summary
		}
	}
	return m, nil
}

func nullStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)
