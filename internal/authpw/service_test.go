package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"atelier/api/internal/store"
)

// mockUserStore is an in-memory UserStore for testing.
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]store.User
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]store.User),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verifications[token] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := m.verifications[token]; ok {
		user.IsEmailVerified = true
		m.users[user.ID] = user
		m.emailIndex[user.Email] = user.ID
		return nil
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "client@example.com",
		Password: "password123",
		Name:     "Jo Client",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected a verification token")
	}

	// Sign-in before verification is held back.
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "client@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "client@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignIn after verify failed: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("did not expect RequiresVerify after verification")
	}
	if signIn.User.Name != "Jo Client" {
		t.Errorf("unexpected user name %q", signIn.User.Name)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "client@example.com",
		Password: "short",
		Name:     "Jo",
	})
	if err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "client@example.com", Password: "password123", Name: "Jo"}); err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "client@example.com", Password: "password456", Name: "Jo Again"}); err == nil {
		t.Fatal("expected error for duplicate email")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "client@example.com", Password: "password123", Name: "Jo"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "client@example.com", Password: "wrong-password"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "client@example.com", Password: "password123", Name: "Jo"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "client@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "new-password-1"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "client@example.com", Password: "new-password-1"}); err != nil {
		t.Fatalf("SignIn with new password failed: %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newMockUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset should not error for unknown email: %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not yield a token")
	}
}
