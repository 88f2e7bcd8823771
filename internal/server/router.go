package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type API struct {
	auth     *Auth
	store    Store
	sessions SessionService
	obs      *Observability
}

func NewAPI(auth *Auth, store Store, sessions SessionService, obs *Observability) *API {
	return &API{
		auth:     auth,
		store:    store,
		sessions: sessions,
		obs:      obs,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.HandleFunc("POST /api/v1/auth/login", a.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", a.auth.HandleMe)

	mux.Handle("POST /api/v1/admin/sessions", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminCreateSession)))
	mux.Handle("GET /api/v1/admin/sessions", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminListSessions)))
	mux.Handle("GET /api/v1/admin/sessions/{id}", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminGetSession)))
	mux.Handle("GET /api/v1/admin/sessions/{id}/events", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminGetSessionEventsSSE)))
	mux.Handle("GET /api/v1/admin/metrics/overview", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminOverview)))
	mux.Handle("GET /api/v1/admin/audit", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminAudit)))

	mux.HandleFunc("POST /api/v1/user/quick-probe", a.handleUserQuickProbe)
	mux.HandleFunc("GET /api/v1/user/quick-probe/{id}", a.handleUserGetQuickProbe)
	mux.Handle("GET /api/v1/user/my-sessions", a.auth.Require(http.HandlerFunc(a.handleUserMySessions)))

	wrapped := otelhttp.NewHandler(mux, "sawl-probe-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleAdminCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("sawl-probe-api").Start(r.Context(), "admin.create_session")
	defer span.End()
	principal, _ := PrincipalFromContext(ctx)
	var req SessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, err := a.sessions.CreateSession(req, principal, "admin.manual")
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": meta.SessionID,
		"status":     meta.Status,
	})
}

func (a *API) handleAdminGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	meta, ok := a.store.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleAdminListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": a.store.ListSessions(100),
	})
}

func (a *API) handleAdminGetSessionEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	if _, ok := a.store.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []SessionEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: session_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListSessionEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListSessionEvents(id, cursor)
			if len(events) > 0 {
				send(events)
			} else {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func (a *API) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(200),
	})
}

func (a *API) handleUserQuickProbe(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("sawl-probe-api").Start(r.Context(), "user.quick_probe")
	defer span.End()
	var req QuickProbeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ipHash, uaHash := actorHashes(r)
	// optional: attach user identity if logged in
	principal, _ := a.auth.AuthenticateRequest(r)
	span.SetAttributes(
		attribute.String("actor.type", "user"),
		attribute.String("probe.model", req.Model),
	)
	meta, err := a.sessions.CreateQuickProbe(req, ipHash, uaHash)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	// link session to logged-in user
	if principal.Subject != "" {
		_, _ = a.store.UpdateSession(meta.SessionID, func(m *SessionMeta) {
			m.CreatorSub = principal.Subject
		})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": meta.SessionID,
		"status":     meta.Status,
	})
}

func (a *API) handleUserMySessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	sessions := a.store.ListSessionsByCreator(principal.Subject, 50)
	// return deidentified view
	out := make([]map[string]any, 0, len(sessions))
	for _, m := range sessions {
		entry := map[string]any{
			"session_id": m.SessionID,
			"status":     m.Status,
			"model":      m.Request.Model,
			"created_at": m.CreatedAt,
		}
		if m.Summary != nil {
			entry["boundary_chars"] = m.Summary.Boundary
			entry["approximate"] = m.Summary.Approximate
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) handleUserGetQuickProbe(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	meta, ok := a.store.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	view := map[string]any{
		"session_id":  meta.SessionID,
		"status":      meta.Status,
		"created_at":  meta.CreatedAt,
		"started_at":  meta.StartedAt,
		"finished_at": meta.FinishedAt,
	}
	if meta.Summary != nil {
		view["summary"] = map[string]any{
			"found":          meta.Summary.Found,
			"boundary_chars": meta.Summary.Boundary,
			"approximate":    meta.Summary.Approximate,
			"trials":         meta.Summary.Trials,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorHashes(r *http.Request) (string, string) {
	ip, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if ip == "" {
		ip = strings.TrimSpace(r.RemoteAddr)
	}
	return hashString(ip), hashString(r.UserAgent())
}
