package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/auth"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/search"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
	refreshPath   = "/api/auth"
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	trustedProxies []netip.Prefix
	metrics        *Metrics
	log            *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	trusted, err := service.cfg.TrustedProxyPrefixes()
	if err != nil {
		service.log.Warn("ignoring trusted proxies", "error", err)
		trusted = nil
	}
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		trustedProxies: trusted,
		metrics:        NewMetrics(),
		log:            service.log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Get("/invites/{token}", s.handleGetInvite)
		r.Post("/accept-invite", s.handleAcceptInvite)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/me", s.handleMe)
			r.Post("/active-role", s.handleSwitchRole)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireSession, s.requireRole(store.RoleAdmin))
		r.Get("/users", s.handleListUsers)
		r.Get("/users/{userID}", s.handleGetUser)
		r.Delete("/users/{userID}", s.handleDeleteUser)
		r.Post("/users/{userID}/roles", s.handleAssignRole)
		r.Delete("/users/{userID}/roles/{role}", s.handleRemoveRole)
		r.Get("/roles", s.handleListRoles)
		r.Get("/invites", s.handleListInvites)
		r.Post("/invites", s.handleSendInvite)
		r.Delete("/invites/{inviteID}", s.handleCancelInvite)
		r.Post("/invites/{inviteID}/remind", s.handleRemindInvite)
		r.Get("/companies", s.handleListCompanies)
		r.Post("/companies", s.handleCreateCompany)
		r.Delete("/companies/{companyID}", s.handleDeleteCompany)
	})

	r.Route("/api/resource-manager", func(r chi.Router) {
		r.Use(s.requireSession, s.requireRole(store.RoleResourceManager))
		r.Get("/companies", s.handleListCompanies)
		r.Get("/interviews", s.handleListInterviews)
		r.Post("/interviews", s.handleCreateInterview)
		r.Get("/interviews/{interviewID}", s.handleGetInterview)
		r.Get("/submissions", s.handleListSubmissions)
		r.Post("/submissions", s.handleRequestSubmission)
		r.Get("/submissions/{submissionID}", s.handleGetSubmission)
		r.Post("/submissions/{submissionID}/approve", s.handleApprove)
		r.Post("/submissions/{submissionID}/reject", s.handleReject)
		r.Get("/submissions/{submissionID}/export", s.handleExport)
		r.Get("/questions/search", s.handleSearch)
	})

	r.Route("/api/resource", func(r chi.Router) {
		r.Use(s.requireSession, s.requireRole(store.RoleResource))
		r.Get("/submissions", s.handleListSubmissions)
		r.Get("/submissions/{submissionID}", s.handleGetSubmission)
		r.Put("/submissions/{submissionID}/questions", s.handleSaveDraft)
		r.Post("/submissions/{submissionID}/submit", s.handleSubmit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

// Health

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Auth

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tokens, user, err := s.service.Login(r.Context(), body.Email, body.Password, s.clientIP(r))
	if err != nil {
		status, _, _, _ := mapError(err)
		switch status {
		case http.StatusTooManyRequests:
			s.metrics.recordLogin("rate_limited")
		case http.StatusUnauthorized:
			s.metrics.recordLogin("invalid")
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.recordLogin("success")
	s.setAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tokens, user, err := s.service.Refresh(r.Context(), refreshTokenFrom(r))
	if err != nil {
		s.clearAuthCookies(w)
		s.writeServiceError(w, r, err)
		return
	}
	s.setAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := accessTokenFrom(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	_ = s.service.Logout(r.Context(), session, refreshTokenFrom(r))
	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": s.service.Me(sessionFrom(r))})
}

func (s *HTTPServer) handleSwitchRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tokens, user, err := s.service.SwitchActiveRole(r.Context(), sessionFrom(r), body.Role, refreshTokenFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.setAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

func (s *HTTPServer) handleGetInvite(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetInvite(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invite": payload})
}

func (s *HTTPServer) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.AcceptInvite(r.Context(), body.Token, body.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Admin

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": items})
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteUser(r.Context(), sessionFrom(r), chi.URLParam(r, "userID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.AssignRole(r.Context(), chi.URLParam(r, "userID"), body.Role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.RemoveRole(r.Context(), sessionFrom(r), chi.URLParam(r, "userID"), chi.URLParam(r, "role"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.service.ListRoles(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (s *HTTPServer) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.service.ListInvites(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (s *HTTPServer) handleSendInvite(w http.ResponseWriter, r *http.Request) {
	var body SendInviteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SendInvite(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleCancelInvite(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelInvite(r.Context(), chi.URLParam(r, "inviteID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRemindInvite(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RemindInvite(r.Context(), sessionFrom(r), chi.URLParam(r, "inviteID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.service.ListCompanies(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

func (s *HTTPServer) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	company, err := s.service.CreateCompany(r.Context(), body.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"company": company})
}

func (s *HTTPServer) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCompany(r.Context(), chi.URLParam(r, "companyID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Resource manager

func (s *HTTPServer) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListInterviews(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interviews": items})
}

func (s *HTTPServer) handleCreateInterview(w http.ResponseWriter, r *http.Request) {
	var body CreateInterviewInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	interview, err := s.service.CreateInterview(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"interview": interview})
}

func (s *HTTPServer) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	interview, err := s.service.GetInterview(r.Context(), sessionFrom(r), chi.URLParam(r, "interviewID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interview": interview})
}

func (s *HTTPServer) handleRequestSubmission(w http.ResponseWriter, r *http.Request) {
	var body RequestSubmissionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sub, err := s.service.RequestSubmission(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"submission": sub})
}

func (s *HTTPServer) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListSubmissions(r.Context(), sessionFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": items})
}

func (s *HTTPServer) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.service.GetSubmission(r.Context(), sessionFrom(r), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission": sub})
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.Approve(r.Context(), sessionFrom(r), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.recordReview(store.StatusApproved)
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, err := s.service.Reject(r.Context(), sessionFrom(r), chi.URLParam(r, "submissionID"), body.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.recordReview(store.StatusRejected)
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportSubmission(r.Context(), sessionFrom(r), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:       strings.TrimSpace(query.Get("q")),
		Difficulty: strings.TrimSpace(query.Get("difficulty")),
		CompanyID:  strings.TrimSpace(query.Get("companyId")),
	}
	for _, field := range []struct {
		name   string
		target *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := strings.TrimSpace(query.Get(field.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", field.name+" must be an integer", nil)
			return
		}
		*field.target = parsed
	}
	payload, err := s.service.SearchQuestions(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Resource

func (s *HTTPServer) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Questions []QuestionInput `json:"questions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SaveDraft(r.Context(), sessionFrom(r), chi.URLParam(r, "submissionID"), body.Questions)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.Submit(r.Context(), sessionFrom(r), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"version": version})
}

// Sessions and roles

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessTokenFrom(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			s.log.Error("session lookup failed", "request_id", requestIDFrom(r.Context()), "error", err)
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// requireRole checks the active role loaded from the store, not the token claim.
func (s *HTTPServer) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessionFrom(r).Role != role {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"requiredRole": role})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(accessCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func (s *HTTPServer) setAuthCookies(w http.ResponseWriter, tokens Tokens) {
	secure := s.service.cfg.CookieSecure
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(s.service.cfg.AccessTTL.Seconds()),
		Expires:  tokens.AccessExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    tokens.RefreshToken,
		Path:     refreshPath,
		MaxAge:   int(s.service.cfg.RefreshTTL.Seconds()),
		Expires:  tokens.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearAuthCookies(w http.ResponseWriter) {
	secure := s.service.cfg.CookieSecure
	for _, c := range []struct{ name, path string }{{accessCookie, "/"}, {refreshCookie, refreshPath}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Middleware

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(started)
		s.metrics.recordRequest(r.Method, route, writer.status, duration)
		s.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Vary", "Origin")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// clientIP is the peer address, or the nearest untrusted hop named in
// X-Forwarded-For / X-Real-IP when the peer is a trusted proxy.
func (s *HTTPServer) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !s.isTrustedProxy(peer) {
		return host
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !s.isTrustedProxy(hop) {
				return hop.Unmap().String()
			}
		}
	}
	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return host
}

func (s *HTTPServer) isTrustedProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	if status == http.StatusTooManyRequests {
		if d, ok := details.(map[string]any); ok {
			if retry, ok := d["retryAfterSeconds"].(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
		}
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
