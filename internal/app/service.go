package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"atelier/api/internal/auth"
	"atelier/api/internal/authpw"
	"atelier/api/internal/config"
	"atelier/api/internal/email"
	"atelier/api/internal/policy"
	"atelier/api/internal/search"
	"atelier/api/internal/stage"
	"atelier/api/internal/storage"
	"atelier/api/internal/store"
	"atelier/api/internal/util"
)

const maxMessageLength = 1000

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// dataStore is the persistence surface the service depends on. The
// production implementation is store.PostgresStore; tests swap in a fake.
type dataStore interface {
	authpw.UserStore
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertRequest(ctx context.Context, req store.Request) error
	GetRequest(ctx context.Context, id string) (store.Request, error)
	ListRequestsByUser(ctx context.Context, userID string) ([]store.Request, error)
	ListRequests(ctx context.Context) ([]store.Request, error)
	UpdateRequestStatus(ctx context.Context, id, status string) (store.Request, error)

	InsertPost(ctx context.Context, post store.Post) error
	GetPostBySlug(ctx context.Context, slug string) (store.Post, error)
	ListPosts(ctx context.Context, publishedOnly bool) ([]store.Post, error)
	UpdatePost(ctx context.Context, post store.Post) error
	DeletePost(ctx context.Context, id string) error

	InsertProject(ctx context.Context, project store.Project) error
	GetProjectBySlug(ctx context.Context, slug string) (store.Project, error)
	ListProjects(ctx context.Context, publishedOnly bool) ([]store.Project, error)
	UpdateProject(ctx context.Context, project store.Project) error
	DeleteProject(ctx context.Context, id string) error

	InsertTestimonial(ctx context.Context, t store.Testimonial) error
	ListTestimonials(ctx context.Context) ([]store.Testimonial, error)
	DeleteTestimonial(ctx context.Context, id string) error

	InsertSubscriber(ctx context.Context, sub store.Subscriber) error
	ListSubscribers(ctx context.Context) ([]store.Subscriber, error)
}

// sessionStore holds refresh sessions. Redis when configured, Postgres
// otherwise; both store only the token hash.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authSvc  *authpw.Service
	search   *search.Service
	uploader storage.Uploader
	mailer   *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service, uploader storage.Uploader, mailer *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authSvc:  authpw.NewService(dataStore),
		search:   searchSvc,
		uploader: uploader,
		mailer:   mailer,
	}
}

// NewWithSessionStore is New with refresh sessions held elsewhere
// (Redis in production when REDIS_URL is set).
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, uploader storage.Uploader, mailer *email.Service) *Service {
	svc := New(cfg, dataStore, searchSvc, uploader, mailer)
	svc.sessions = sessions
	return svc
}

func (s *Service) Auth() *authpw.Service {
	return s.authSvc
}

func (s *Service) MailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// Identity is the resolved caller of an operation. A nil *Identity
// means the caller is anonymous.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

func (id *Identity) isAdmin(adminEmail string) bool {
	return id != nil && policy.IsAdmin(adminEmail, id.Email)
}

// Session is an issued token pair plus the identity it belongs to.
type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	IsAdmin      bool      `json:"isAdmin"`
}

// CreateSession issues an access/refresh token pair for a user that
// already passed password authentication.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, unauthorizedError()
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   util.NewID("jti"),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken := util.NewID("rt")
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		UserID:       user.ID,
		Name:         user.Name,
		Email:        user.Email,
		IsAdmin:      policy.IsAdmin(s.cfg.AdminEmail, user.Email),
	}, nil
}

// IdentityFromToken resolves a bearer token to the caller's identity.
// Invalid, expired, or revoked tokens come back as an unauthorized error.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (*Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return nil, unauthorizedError()
	}

	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return nil, unauthorizedError()
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, unauthorizedError()
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &Identity{UserID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// RefreshSession rotates a refresh token: the presented token is
// revoked and a fresh pair is issued.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, unauthorizedError()
	}
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, unauthorizedError()
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.CreateSession(ctx, userID)
}

// Logout revokes the access token (by JTI, until its natural expiry)
// and the refresh session if one was presented.
func (s *Service) Logout(ctx context.Context, token, refreshToken string) error {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err == nil {
		if err := s.store.RevokeAccessToken(ctx, claims.JTI, time.Unix(claims.Exp, 0)); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}
	return nil
}

// SubmitRequestInput is the payload for a new project inquiry.
type SubmitRequestInput struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Company  string   `json:"company"`
	Budget   string   `json:"budget"`
	Message  string   `json:"message"`
	Services []string `json:"services"`
}

func validateSubmitRequest(input SubmitRequestInput) map[string]string {
	problems := map[string]string{}
	if len(strings.TrimSpace(input.Name)) < 2 {
		problems["name"] = "name must be at least 2 characters"
	}
	if !emailPattern.MatchString(strings.TrimSpace(input.Email)) {
		problems["email"] = "email must be a valid address"
	}
	if len(input.Message) > maxMessageLength {
		problems["message"] = fmt.Sprintf("message must be at most %d characters", maxMessageLength)
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// SubmitRequest creates a new inquiry in the initial pipeline stage.
// Anonymous callers are welcome; an authenticated caller gets the
// request linked to their account.
func (s *Service) SubmitRequest(ctx context.Context, ident *Identity, input SubmitRequestInput) (store.Request, error) {
	if problems := validateSubmitRequest(input); problems != nil {
		return store.Request{}, validationError(problems)
	}

	req := store.Request{
		ID:       util.NewID("req"),
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Company:  strings.TrimSpace(input.Company),
		Budget:   strings.TrimSpace(input.Budget),
		Message:  input.Message,
		Services: cleanServices(input.Services),
		Status:   string(stage.Initial),
	}
	if ident != nil {
		userID := ident.UserID
		req.UserID = &userID
	}

	if err := s.store.InsertRequest(ctx, req); err != nil {
		return store.Request{}, fmt.Errorf("insert request: %w", err)
	}

	created, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		return store.Request{}, fmt.Errorf("load created request: %w", err)
	}

	s.notifyAdminOfRequest(created)

	return created, nil
}

// ListOwnRequests returns the caller's requests, newest first.
func (s *Service) ListOwnRequests(ctx context.Context, ident *Identity) ([]store.Request, error) {
	if ident == nil {
		return nil, unauthorizedError()
	}
	requests, err := s.store.ListRequestsByUser(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("list requests by user: %w", err)
	}
	return normalizeRequests(requests), nil
}

// ListAllRequests returns every request. Admin only.
func (s *Service) ListAllRequests(ctx context.Context, ident *Identity) ([]store.Request, error) {
	if err := s.requireAdmin(ident); err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return normalizeRequests(requests), nil
}

// ChangeRequestStage moves a request to a new pipeline stage. Admin
// only. Setting a request to its current stage is a no-op that still
// succeeds.
func (s *Service) ChangeRequestStage(ctx context.Context, ident *Identity, id, newStage string) (store.Request, error) {
	if err := s.requireAdmin(ident); err != nil {
		return store.Request{}, err
	}
	if !stage.Valid(newStage) {
		return store.Request{}, validationError(map[string]string{
			"status": fmt.Sprintf("status must be one of %s", strings.Join(stageNames(), ", ")),
		})
	}

	current, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Request{}, notFoundError("request not found")
		}
		return store.Request{}, fmt.Errorf("get request: %w", err)
	}

	if s.cfg.StrictStages {
		from := stage.Normalize(current.Status)
		if stage.Index(stage.Stage(newStage)) < stage.Index(from) {
			return store.Request{}, validationError(map[string]string{
				"status": fmt.Sprintf("cannot move back from %s to %s", from, newStage),
			})
		}
	}

	updated, err := s.store.UpdateRequestStatus(ctx, id, newStage)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Request{}, notFoundError("request not found")
		}
		return store.Request{}, fmt.Errorf("update request status: %w", err)
	}
	updated.Status = string(stage.Normalize(updated.Status))
	return updated, nil
}

// notifyAdminOfRequest emails the admin about a fresh inquiry. Delivery
// failures are logged and never surfaced to the submitter.
func (s *Service) notifyAdminOfRequest(req store.Request) {
	if !s.MailConfigured() || s.cfg.AdminEmail == "" {
		return
	}
	go func() {
		err := s.mailer.SendRequestAlert(s.cfg.AdminEmail, email.RequestAlertData{
			Name:     req.Name,
			Email:    req.Email,
			Company:  req.Company,
			Budget:   req.Budget,
			Message:  req.Message,
			Services: strings.Join(req.Services, ", "),
		})
		if err != nil {
			slog.Error("send request alert", "error", err, "request_id", req.ID)
		}
	}()
}

// normalizeRequests maps legacy statuses onto canonical stages before
// rows leave the service. Stored values are untouched.
func normalizeRequests(requests []store.Request) []store.Request {
	for i := range requests {
		requests[i].Status = string(stage.Normalize(requests[i].Status))
	}
	if requests == nil {
		return []store.Request{}
	}
	return requests
}

func stageNames() []string {
	all := stage.All()
	names := make([]string, len(all))
	for i, st := range all {
		names[i] = string(st)
	}
	return names
}

func cleanServices(services []string) []string {
	out := make([]string, 0, len(services))
	seen := map[string]bool{}
	for _, svc := range services {
		svc = strings.TrimSpace(svc)
		if svc == "" || seen[svc] {
			continue
		}
		seen[svc] = true
		out = append(out, svc)
	}
	return out
}
