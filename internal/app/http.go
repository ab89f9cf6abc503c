package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"atelier/api/internal/auth"
	"atelier/api/internal/authpw"
	"atelier/api/internal/search"
	"atelier/api/internal/util"
)

const maxUploadSize = 10 << 20 // 10 MiB

type HTTPServer struct {
	service    *Service
	corsOrigin string
	ready      func(ctx context.Context) error
}

func NewHTTPServer(service *Service, corsOrigin string, ready func(ctx context.Context) error) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, ready: ready}
}

type ctxKey int

const identityKey ctxKey = 0

// identityFrom returns the authenticated caller, or nil for anonymous.
func identityFrom(ctx context.Context) *Identity {
	ident, _ := ctx.Value(identityKey).(*Identity)
	return ident
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: s.corsOrigin != "*",
		MaxAge:           300,
	}))
	r.Use(s.resolveIdentity)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignUp)
		r.Post("/signin", s.handleSignIn)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/reset-password/request", s.handleRequestPasswordReset)
		r.Post("/reset-password", s.handleResetPassword)
	})

	r.Get("/api/session", s.handleSession)
	r.Post("/api/session/refresh", s.handleRefresh)
	r.Post("/api/session/logout", s.handleLogout)

	r.Post("/api/requests", s.handleSubmitRequest)
	r.Get("/api/requests", s.handleListOwnRequests)

	r.Get("/api/posts", s.handleListPosts)
	r.Get("/api/posts/{slug}", s.handleGetPost)
	r.Get("/api/projects", s.handleListProjects)
	r.Get("/api/projects/{slug}", s.handleGetProject)
	r.Get("/api/testimonials", s.handleListTestimonials)
	r.Post("/api/newsletter/subscribe", s.handleSubscribe)
	r.Get("/api/search", s.handleSearch)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Get("/requests", s.handleListAllRequests)
		r.Patch("/requests/{id}", s.handleChangeRequestStage)

		r.Post("/posts", s.handleCreatePost)
		r.Put("/posts/{id}", s.handleUpdatePost)
		r.Delete("/posts/{id}", s.handleDeletePost)

		r.Post("/projects", s.handleCreateProject)
		r.Put("/projects/{id}", s.handleUpdateProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)

		r.Post("/testimonials", s.handleCreateTestimonial)
		r.Delete("/testimonials/{id}", s.handleDeleteTestimonial)

		r.Get("/subscribers", s.handleListSubscribers)
		r.Post("/uploads", s.handleUpload)
	})

	return r
}

// resolveIdentity attaches the caller's identity when a valid bearer
// token is presented. A missing or bad token just leaves the request
// anonymous; routes that need auth reject later.
func (s *HTTPServer) resolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		ident, err := s.service.IdentityFromToken(r.Context(), token)
		if err != nil {
			// A rejected token means an anonymous caller; a storage
			// fault during resolution is a server error, not a 401.
			var domainErr *DomainError
			if !errors.As(err, &domainErr) {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

// requireAdmin guards the /api/admin subtree. Unauthenticated callers
// get 401, authenticated non-admins get 403.
func (s *HTTPServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r.Context())
		if ident == nil {
			// Distinguish a missing token from a present-but-invalid one
			// the same way: the caller is not authenticated.
			writeError(w, unauthorizedError())
			return
		}
		if !ident.isAdmin(s.service.cfg.AdminEmail) {
			writeError(w, forbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.service.Auth().SignUp(r.Context(), authpw.SignUpRequest{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, validationError(map[string]string{"signup": err.Error()}))
		return
	}
	if s.service.MailConfigured() {
		// The frontend hosts the verification page.
		verifyURL := strings.TrimSuffix(s.service.cfg.AppBaseURL, "/") + "/verify-email?token=" + resp.VerificationToken
		go func() {
			if err := s.service.mailer.SendVerificationEmail(body.Email, body.Name, verifyURL); err != nil {
				slog.Error("send verification email", "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":         resp.UserID,
		"requiresVerify": resp.RequiresEmailVerify,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.service.Auth().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, unauthorizedError())
		return
	}
	if resp.RequiresVerify {
		writeJSON(w, http.StatusOK, map[string]any{"requiresVerify": true})
		return
	}
	session, err := s.service.issueSession(r.Context(), resp.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.Auth().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, validationError(map[string]string{"token": err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *HTTPServer) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.service.Auth().RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if token != "" && s.service.MailConfigured() {
		resetURL := strings.TrimSuffix(s.service.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
		go func() {
			if err := s.service.mailer.SendPasswordResetEmail(body.Email, "", resetURL); err != nil {
				slog.Error("send password reset email", "error", err)
			}
		}()
	}
	// Same response whether or not the address exists.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.Auth().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.Password,
	}); err != nil {
		writeError(w, validationError(map[string]string{"reset": err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	if ident == nil {
		writeError(w, unauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  ident.UserID,
		"name":    ident.Name,
		"email":   ident.Email,
		"isAdmin": ident.isAdmin(s.service.cfg.AdminEmail),
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.service.RefreshSession(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	// Body is optional on logout.
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), bearerToken(r), body.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var input SubmitRequestInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.service.SubmitRequest(r.Context(), identityFrom(r.Context()), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListOwnRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.service.ListOwnRequests(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *HTTPServer) handleListAllRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.service.ListAllRequests(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *HTTPServer) handleChangeRequestStage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.service.ChangeRequestStage(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.service.ListPosts(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *HTTPServer) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.service.GetPost(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var input PostInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	post, err := s.service.CreatePost(r.Context(), identityFrom(r.Context()), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *HTTPServer) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var input PostInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	post, err := s.service.UpdatePost(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePost(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.GetProject(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var input ProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	project, err := s.service.CreateProject(r.Context(), identityFrom(r.Context()), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var input ProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	project, err := s.service.UpdateProject(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *HTTPServer) handleCreateTestimonial(w http.ResponseWriter, r *http.Request) {
	var input TestimonialInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.service.CreateTestimonial(r.Context(), identityFrom(r.Context()), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *HTTPServer) handleListTestimonials(w http.ResponseWriter, r *http.Request) {
	testimonials, err := s.service.ListTestimonials(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"testimonials": testimonials})
}

func (s *HTTPServer) handleDeleteTestimonial(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTestimonial(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.Subscribe(r.Context(), body.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})
}

func (s *HTTPServer) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.service.ListSubscribers(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, validationError(map[string]string{"file": "multipart form required"}))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, validationError(map[string]string{"file": "file field required"}))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	url, err := s.service.Upload(r.Context(), identityFrom(r.Context()), header.Filename, contentType, file, header.Size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:       strings.TrimSpace(r.URL.Query().Get("q")),
		FilterType: search.ResultType(r.URL.Query().Get("type")),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	}
	if q.Text == "" {
		writeError(w, validationError(map[string]string{"q": "query text is required"}))
		return
	}
	writeJSON(w, http.StatusOK, s.service.SearchContent(q))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return validationError(map[string]string{"body": "request body required"})
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return validationError(map[string]string{"body": "invalid JSON body"})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps an error to its HTTP shape. Anything that is not a
// DomainError is a server fault: log the cause, return a generic 500.
func writeError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
		"details": details,
	})
}

func mapError(err error) (int, string, string, any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Resource not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil
}

// requestLogger logs one line per request with latency and status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = util.NewID("rid")
		}
		w.Header().Set("X-Request-Id", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
