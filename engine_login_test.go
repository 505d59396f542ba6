package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", testPassword)

	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "a@x.com", Password: testPassword})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	token := env.mail.lastToken(t, "verify_email", "a@x.com")
	if err := env.engine.VerifyEmail(context.Background(), token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := env.login(t, "A@X.com", testPassword)
	if res.AccessToken == "" || res.RefreshToken == "" || res.TokenType != "Bearer" {
		t.Fatalf("unexpected result %+v", res.TokenPair)
	}
	if res.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expected 900s access lifetime, got %d", res.ExpiresIn)
	}
	if res.User == nil || !res.User.EmailVerified {
		t.Fatalf("expected verified user in result")
	}

	claims, err := env.engine.ValidateAccess(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.SID != res.SessionID || !claims.HasRole("user") {
		t.Fatalf("unexpected claims sid=%s roles=%v", claims.SID, claims.Roles)
	}
}

func TestLoginWrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", testPassword)

	_, errWrong := env.engine.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "Wrong!Pass1"})
	_, errUnknown := env.engine.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "Wrong!Pass1"})
	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("errors differ: %q vs %q", errWrong, errUnknown)
	}

	recs := env.audit(t, AuditQuery{Action: actionLogin, Outcome: OutcomeFailure})
	reasons := map[string]int{}
	for _, r := range recs {
		reasons[r.Reason]++
	}
	if reasons["unknown_email"] != 1 || reasons["invalid_password"] != 1 {
		t.Fatalf("unexpected failure reasons %v", reasons)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "lock@example.com", testPassword)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.engine.Login(ctx, LoginRequest{Email: "lock@example.com", Password: "Wrong!Pass1"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(ctx, LoginRequest{Email: "lock@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked with correct password, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricAccountLocked] != 1 {
		t.Fatalf("expected one lock event")
	}

	env.clock.Advance(15*time.Minute + time.Second)
	env.login(t, "lock@example.com", testPassword)

	u, err := env.store.UserByID(ctx, userID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.FailedLoginAttempts != 0 || u.LockedAt(env.clock.Now()) {
		t.Fatalf("expected cleared lockout, got attempts=%d locked=%v", u.FailedLoginAttempts, u.LockedUntil)
	}
}

func TestLockedAccountFailsWithoutHashing(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "fast@example.com", testPassword)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "fast@example.com", Password: "Wrong!Pass1"})
	}

	// A verification attempt against this value would fail with a
	// malformed-hash error instead of ErrAccountLocked.
	if _, err := env.store.DB().ExecContext(ctx, `UPDATE users SET password_hash = 'not-a-hash' WHERE id = ?`, userID); err != nil {
		t.Fatalf("corrupt hash: %v", err)
	}
	_, err := env.engine.Login(ctx, LoginRequest{Email: "fast@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestSuccessfulLoginResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "reset@example.com", testPassword)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			_, _ = env.engine.Login(ctx, LoginRequest{Email: "reset@example.com", Password: "Wrong!Pass1"})
		}
		env.login(t, "reset@example.com", testPassword)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "sus@example.com", testPassword)
	if err := env.engine.SetUserStatus(context.Background(), StatusChange{UserID: userID, Status: StatusSuspended, Reason: "abuse"}); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "sus@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountSuspendedOrBanned) {
		t.Fatalf("expected ErrAccountSuspendedOrBanned, got %v", err)
	}
}

func TestLoginAuditsEveryAttemptOnce(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "count@example.com", testPassword)
	ctx := context.Background()

	env.login(t, "count@example.com", testPassword)
	_, _ = env.engine.Login(ctx, LoginRequest{Email: "count@example.com", Password: "Wrong!Pass1"})
	env.login(t, "count@example.com", testPassword)

	recs := env.audit(t, AuditQuery{Action: actionLogin, ActorID: userID})
	if len(recs) != 3 {
		t.Fatalf("expected 3 login records, got %d", len(recs))
	}
	var success, failure int
	for _, r := range recs {
		switch r.Outcome {
		case OutcomeSuccess:
			success++
		case OutcomeFailure:
			failure++
		}
	}
	if success != 2 || failure != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d", success, failure)
	}
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.LoginPerIP = RateRule{Limit: 2, Window: time.Minute}
	})
	env.registerVerified(t, "rl@example.com", testPassword)
	ctx := context.Background()

	req := LoginRequest{Email: "rl@example.com", Password: testPassword, IP: "203.0.113.9"}
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, req); err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
	}
	if _, err := env.engine.Login(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limited := env.audit(t, AuditQuery{Action: actionLogin, Outcome: OutcomeFailure})
	if len(limited) != 1 || limited[0].Reason != "rate_limited" || limited[0].IP != "203.0.113.9" {
		t.Fatalf("expected one rate_limited record, got %+v", limited)
	}

	req.IP = "203.0.113.10"
	if _, err := env.engine.Login(ctx, req); err != nil {
		t.Fatalf("other ip should pass: %v", err)
	}
}

func TestMalformedLoginIsAudited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, LoginRequest{Email: "not-an-email", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "someone@example.com"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	reasons := map[string]int{}
	for _, r := range env.audit(t, AuditQuery{Action: actionLogin}) {
		if r.Outcome != OutcomeFailure {
			t.Fatalf("unexpected outcome %+v", r)
		}
		reasons[r.Reason]++
	}
	if len(reasons) != 2 || reasons["invalid_email"] != 1 || reasons["empty_password"] != 1 {
		t.Fatalf("unexpected failure reasons %v", reasons)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "open@example.com", testPassword)

	env.redis.Close()
	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "open@example.com", Password: testPassword, IP: "198.51.100.1"})
	if err != nil {
		t.Fatalf("expected login to pass with redis down, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricRateLimitBypassed] == 0 {
		t.Fatalf("expected bypass to be counted")
	}
}

func TestLoginWithContextIP(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "ctx@example.com", testPassword)

	ctx := WithUserAgent(WithClientIP(context.Background(), "192.0.2.44"), "test-agent")
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "ctx@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
	recs := env.audit(t, AuditQuery{Action: actionLogin, ActorID: userID})
	if len(recs) != 1 || recs[0].IP != "192.0.2.44" || recs[0].UserAgent != "test-agent" {
		t.Fatalf("unexpected audit %+v", recs)
	}
	sessions, err := env.engine.ListSessions(context.Background(), userID)
	if err != nil || len(sessions) != 1 || sessions[0].IP != "192.0.2.44" {
		t.Fatalf("unexpected sessions %+v, %v", sessions, err)
	}
}
