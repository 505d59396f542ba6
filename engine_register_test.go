package authkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/password"
)

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Register(context.Background(), RegisterRequest{Email: "weak@example.com", Password: "password"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	var policyErr *password.PolicyError
	if !errors.As(err, &policyErr) || len(policyErr.Violations) == 0 {
		t.Fatalf("expected policy violations in %v", err)
	}
	if _, err := env.engine.UserByEmail(context.Background(), "weak@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected no user row, got %v", err)
	}
	if env.mail.count(notify.KindVerifyEmail) != 0 {
		t.Fatalf("expected no verification email")
	}
}

func TestRegisterDuplicateEmailIgnoresCase(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dup@example.com", testPassword)

	_, err := env.engine.Register(context.Background(), RegisterRequest{Email: "  DUP@Example.com", Password: testPassword})
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("expected ErrEmailAlreadyRegistered, got %v", err)
	}
	recs := env.audit(t, AuditQuery{Action: actionRegister, Outcome: OutcomeFailure})
	if len(recs) != 1 || recs[0].Reason != "email_already_registered" {
		t.Fatalf("expected one duplicate failure record, got %+v", recs)
	}
}

func TestRegisterAssignsDefaultRoleAndSendsVerification(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "new@example.com", testPassword)

	roles, err := env.engine.UserRoles(context.Background(), userID)
	if err != nil {
		t.Fatalf("user roles: %v", err)
	}
	if len(roles) != 1 || roles[0].Role != "user" {
		t.Fatalf("expected default role, got %+v", roles)
	}
	if env.mail.count(notify.KindVerifyEmail) != 1 {
		t.Fatalf("expected one verification email")
	}

	user, err := env.engine.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.EmailVerified || user.Status != StatusActive {
		t.Fatalf("unexpected new user state %+v", user)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "nope", Password: testPassword}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	long := make([]byte, maxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := env.engine.Register(ctx, RegisterRequest{Email: "name@example.com", Password: testPassword, Name: string(long)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long name, got %v", err)
	}
}

func TestVerifyEmailFailureCauses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.engine.VerifyEmail(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if !errors.Is(err, ErrVerificationTokenInvalid) || !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected invalid/not-found, got %v", err)
	}

	env.register(t, "late@example.com", testPassword)
	token := env.mail.lastToken(t, notify.KindVerifyEmail, "late@example.com")
	env.clock.Advance(25 * time.Hour)
	err = env.engine.VerifyEmail(ctx, token)
	if !errors.Is(err, ErrVerificationTokenInvalid) || !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected invalid/expired, got %v", err)
	}

	env.registerVerified(t, "once@example.com", testPassword)
	token = env.mail.lastToken(t, notify.KindVerifyEmail, "once@example.com")
	err = env.engine.VerifyEmail(ctx, token)
	if !errors.Is(err, ErrVerificationTokenInvalid) || !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected invalid/not-found on reuse, got %v", err)
	}

	reasons := map[string]bool{}
	for _, rec := range env.audit(t, AuditQuery{Action: actionVerifyEmail, Outcome: OutcomeFailure}) {
		reasons[rec.Reason] = true
	}
	for _, want := range []string{"token_not_found", "token_expired", "token_used"} {
		if !reasons[want] {
			t.Fatalf("missing audit reason %q in %v", want, reasons)
		}
	}
}

func TestResendVerificationConstantShape(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "pending@example.com", testPassword)
	env.registerVerified(t, "done@example.com", testPassword)
	old := env.mail.lastToken(t, notify.KindVerifyEmail, "pending@example.com")

	for _, email := range []string{"pending@example.com", "done@example.com", "ghost@example.com"} {
		if err := env.engine.ResendVerification(ctx, email); err != nil {
			t.Fatalf("resend %s: %v", email, err)
		}
	}
	if n := env.mail.count(notify.KindVerifyEmail); n != 3 {
		t.Fatalf("expected exactly one extra verification email, got %d total", n)
	}

	if err := env.engine.VerifyEmail(ctx, old); !errors.Is(err, ErrVerificationTokenInvalid) {
		t.Fatalf("expected superseded token to be rejected, got %v", err)
	}
	fresh := env.mail.lastToken(t, notify.KindVerifyEmail, "pending@example.com")
	if err := env.engine.VerifyEmail(ctx, fresh); err != nil {
		t.Fatalf("verify with fresh token: %v", err)
	}
}
