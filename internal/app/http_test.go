package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"atelier/api/internal/store"
)

type httpFixture struct {
	fs      *fakeStore
	svc     *Service
	handler http.Handler
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	fs := newFakeStore()
	fs.users["user-admin"] = store.User{ID: "user-admin", Name: "Admin", Email: testAdminEmail, IsEmailVerified: true}
	fs.users["user-client"] = store.User{ID: "user-client", Name: "Client", Email: "client@example.com", IsEmailVerified: true}
	svc := newTestService(testConfig(), fs)
	server := NewHTTPServer(svc, "*", nil)
	return &httpFixture{fs: fs, svc: svc, handler: server.Handler()}
}

func (f *httpFixture) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), userID)
	require.NoError(t, err)
	return session.Token
}

func (f *httpFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestSubmitRequestEndpoint(t *testing.T) {
	f := newHTTPFixture(t)

	t.Run("anonymous submission returns 201", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/requests", "", validSubmit())
		require.Equal(t, http.StatusCreated, rec.Code)
		payload := decodeResponse(t, rec)
		require.Equal(t, "discover", payload["status"])
		require.Nil(t, payload["userId"])
	})

	t.Run("authenticated submission is linked to the caller", func(t *testing.T) {
		token := f.tokenFor(t, "user-client")
		rec := f.do(t, http.MethodPost, "/api/requests", token, validSubmit())
		require.Equal(t, http.StatusCreated, rec.Code)
		payload := decodeResponse(t, rec)
		require.Equal(t, "user-client", payload["userId"])
	})

	t.Run("validation failure returns 400 with field details", func(t *testing.T) {
		input := validSubmit()
		input.Email = "nope"
		rec := f.do(t, http.MethodPost, "/api/requests", "", input)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		payload := decodeResponse(t, rec)
		require.Equal(t, "VALIDATION_ERROR", payload["error"])
		details, ok := payload["details"].(map[string]any)
		require.True(t, ok)
		require.Contains(t, details, "email")
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListRequestsEndpoints(t *testing.T) {
	f := newHTTPFixture(t)
	clientID := "user-client"
	f.fs.requests["req_1"] = store.Request{ID: "req_1", Status: "discover", UserID: &clientID, CreatedAt: time.Now()}
	f.fs.requests["req_2"] = store.Request{ID: "req_2", Status: "reviewing", CreatedAt: time.Now()}

	t.Run("own requests need a session", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/requests", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("client sees only their own", func(t *testing.T) {
		token := f.tokenFor(t, "user-client")
		rec := f.do(t, http.MethodGet, "/api/requests", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		payload := decodeResponse(t, rec)
		requests := payload["requests"].([]any)
		require.Len(t, requests, 1)
	})

	t.Run("admin list rejects anonymous with 401", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/admin/requests", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("admin list rejects non-admin with 403", func(t *testing.T) {
		token := f.tokenFor(t, "user-client")
		rec := f.do(t, http.MethodGet, "/api/admin/requests", token, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin sees all with normalized statuses", func(t *testing.T) {
		token := f.tokenFor(t, "user-admin")
		rec := f.do(t, http.MethodGet, "/api/admin/requests", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		payload := decodeResponse(t, rec)
		requests := payload["requests"].([]any)
		require.Len(t, requests, 2)
		second := requests[1].(map[string]any)
		require.Equal(t, "define", second["status"])
	})

	t.Run("invalid bearer token on admin route is 401", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/admin/requests", "garbage.token", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestChangeRequestStageEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	f.fs.requests["req_1"] = store.Request{ID: "req_1", Status: "discover", CreatedAt: time.Now()}
	adminToken := f.tokenFor(t, "user-admin")

	t.Run("admin moves the stage", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/admin/requests/req_1", adminToken, map[string]string{"status": "define"})
		require.Equal(t, http.StatusOK, rec.Code)
		payload := decodeResponse(t, rec)
		require.Equal(t, "define", payload["status"])
	})

	t.Run("unknown stage returns 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/admin/requests/req_1", adminToken, map[string]string{"status": "warp"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing status returns 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/admin/requests/req_1", adminToken, map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown request returns 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/admin/requests/req_missing", adminToken, map[string]string{"status": "define"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("client is forbidden", func(t *testing.T) {
		token := f.tokenFor(t, "user-client")
		rec := f.do(t, http.MethodPatch, "/api/admin/requests/req_1", token, map[string]string{"status": "define"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	f := newHTTPFixture(t)
	f.fs.listRequestsFn = func(ctx context.Context) ([]store.Request, error) {
		return nil, errors.New("pq: SSLSTATE 08006 connection reset at 10.0.3.7:5432")
	}
	token := f.tokenFor(t, "user-admin")

	rec := f.do(t, http.MethodGet, "/api/admin/requests", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decodeResponse(t, rec)
	require.Equal(t, "SERVER_ERROR", payload["error"])
	require.NotContains(t, rec.Body.String(), "SSLSTATE")
	require.NotContains(t, rec.Body.String(), "10.0.3.7")
}

func TestIdentityResolutionFaultIsAServerError(t *testing.T) {
	f := newHTTPFixture(t)
	token := f.tokenFor(t, "user-admin")

	// A dead revocation store must not demote the caller to anonymous.
	f.fs.isAccessTokenRevokedFn = func(ctx context.Context, jti string) (bool, error) {
		return false, errors.New("pq: connection refused")
	}

	rec := f.do(t, http.MethodGet, "/api/admin/requests", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decodeResponse(t, rec)
	require.Equal(t, "SERVER_ERROR", payload["error"])
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestSessionEndpoints(t *testing.T) {
	f := newHTTPFixture(t)

	t.Run("session without token is 401", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/session", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("session reflects the caller", func(t *testing.T) {
		token := f.tokenFor(t, "user-admin")
		rec := f.do(t, http.MethodGet, "/api/session", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		payload := decodeResponse(t, rec)
		require.Equal(t, true, payload["isAdmin"])
		require.Equal(t, testAdminEmail, payload["email"])
	})

	t.Run("health is public", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestContentEndpoints(t *testing.T) {
	f := newHTTPFixture(t)
	adminToken := f.tokenFor(t, "user-admin")

	t.Run("create post requires admin", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/admin/posts", "", PostInput{Title: "Hello"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		clientToken := f.tokenFor(t, "user-client")
		rec = f.do(t, http.MethodPost, "/api/admin/posts", clientToken, PostInput{Title: "Hello"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin creates a post and the slug is derived", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/admin/posts", adminToken, PostInput{Title: "Launching Our Studio!", Published: true})
		require.Equal(t, http.StatusCreated, rec.Code)
		payload := decodeResponse(t, rec)
		require.Equal(t, "launching-our-studio", payload["slug"])
	})

	t.Run("drafts are hidden from the public list", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/admin/posts", adminToken, PostInput{Title: "Draft Notes"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/posts", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		payload := decodeResponse(t, rec)
		posts := payload["posts"].([]any)
		require.Len(t, posts, 1)

		rec = f.do(t, http.MethodGet, "/api/posts/draft-notes", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/posts/draft-notes", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("newsletter subscribe validates the address", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": "nope"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": "reader@example.com"})
		require.Equal(t, http.StatusCreated, rec.Code)

		// Idempotent re-subscribe.
		rec = f.do(t, http.MethodPost, "/api/newsletter/subscribe", "", map[string]string{"email": "reader@example.com"})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, f.fs.subscribers, 1)
	})
}
