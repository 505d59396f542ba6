package authkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/notify"
)

const newPassword = "N3w!Passw0rd"

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "chg@example.com", testPassword)
	a := env.login(t, "chg@example.com", testPassword)
	b := env.login(t, "chg@example.com", testPassword)
	ctx := context.Background()

	err := env.engine.ChangePassword(ctx, ChangePasswordRequest{UserID: userID, CurrentPassword: testPassword, NewPassword: newPassword})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: tok}); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "chg@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	env.login(t, "chg@example.com", newPassword)
	if env.mail.count(notify.KindPasswordChanged) != 1 {
		t.Fatalf("expected a password changed email")
	}
	recs := env.audit(t, AuditQuery{Action: actionPasswordChange, ActorID: userID})
	if len(recs) != 1 || recs[0].Outcome != OutcomeSuccess {
		t.Fatalf("expected exactly one successful password change record, got %+v", recs)
	}
}

func TestChangePasswordRejections(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "chg2@example.com", testPassword)
	ctx := context.Background()

	tests := []struct {
		name    string
		current string
		next    string
		want    error
		reason  string
	}{
		{name: "wrong current", current: "Wr0ng!Pass", next: newPassword, want: ErrInvalidCredentials, reason: "invalid_current_password"},
		{name: "weak", current: testPassword, next: "short", want: ErrWeakPassword, reason: "weak_password"},
		{name: "reuse", current: testPassword, next: testPassword, want: ErrPasswordReuse, reason: "password_reuse"},
	}
	for i, tt := range tests {
		env.clock.Advance(time.Second)
		err := env.engine.ChangePassword(ctx, ChangePasswordRequest{UserID: userID, CurrentPassword: tt.current, NewPassword: tt.next})
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		recs := env.audit(t, AuditQuery{Action: actionPasswordChange, ActorID: userID})
		if len(recs) != i+1 {
			t.Fatalf("%s: expected %d password change records, got %d", tt.name, i+1, len(recs))
		}
		if recs[0].Outcome != OutcomeFailure || recs[0].Reason != tt.reason {
			t.Fatalf("%s: unexpected record %+v", tt.name, recs[0])
		}
	}
	env.login(t, "chg2@example.com", testPassword)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "reset@example.com", testPassword)
	session := env.login(t, "reset@example.com", testPassword)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "Reset@Example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.mail.lastToken(t, notify.KindPasswordReset, "reset@example.com")

	// A weak password leaves the token usable.
	if err := env.engine.ResetPassword(ctx, token, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	weak := env.audit(t, AuditQuery{Action: actionPasswordReset, Outcome: OutcomeFailure})
	if len(weak) != 1 || weak[0].Reason != "weak_password" || weak[0].ActorID == "" {
		t.Fatalf("expected one weak_password record naming the user, got %+v", weak)
	}
	if err := env.engine.ResetPassword(ctx, token, newPassword); err != nil {
		t.Fatalf("reset: %v", err)
	}
	err := env.engine.ResetPassword(ctx, token, newPassword)
	if !errors.Is(err, ErrResetTokenInvalid) || !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected reused token to be invalid, got %v", err)
	}

	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: session.RefreshToken}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected sessions revoked by reset, got %v", err)
	}
	env.login(t, "reset@example.com", newPassword)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "slow@example.com", testPassword)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "slow@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.mail.lastToken(t, notify.KindPasswordReset, "slow@example.com")
	env.clock.Advance(time.Hour + time.Second)

	err := env.engine.ResetPassword(ctx, token, newPassword)
	if !errors.Is(err, ErrResetTokenInvalid) || !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired reset token, got %v", err)
	}
}

func TestPasswordResetRequestConstantShape(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "known@example.com", testPassword)
	ctx := context.Background()

	for _, email := range []string{"known@example.com", "unknown@example.com", "not-an-email"} {
		if err := env.engine.RequestPasswordReset(ctx, email); err != nil {
			t.Fatalf("request reset for %q: %v", email, err)
		}
	}
	if n := env.mail.count(notify.KindPasswordReset); n != 1 {
		t.Fatalf("expected one reset email, got %d", n)
	}
	recs := env.audit(t, AuditQuery{Action: actionPasswordResetRequest, Outcome: OutcomeFailure})
	if len(recs) != 1 || recs[0].Reason != "unknown_email" {
		t.Fatalf("expected unknown_email failure record, got %+v", recs)
	}
}

func TestPasswordResetRequestRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := env.engine.RequestPasswordReset(ctx, "flood@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := env.engine.RequestPasswordReset(ctx, "flood@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "locked@example.com", testPassword)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "locked@example.com", Password: "Wr0ng!Pass"})
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "locked@example.com", Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "locked@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.mail.lastToken(t, notify.KindPasswordReset, "locked@example.com")
	if err := env.engine.ResetPassword(ctx, token, newPassword); err != nil {
		t.Fatalf("reset: %v", err)
	}
	env.login(t, "locked@example.com", newPassword)
}
