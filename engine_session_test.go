package authkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "rot@example.com", testPassword)
	ctx := context.Background()

	first := env.login(t, "rot@example.com", testPassword)
	other := env.login(t, "rot@example.com", testPassword)

	second, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.SessionID == first.SessionID {
		t.Fatalf("expected a new token and session")
	}
	refreshes := env.audit(t, AuditQuery{Action: actionTokenRefresh, ActorID: userID})
	if len(refreshes) != 1 || refreshes[0].Outcome != OutcomeSuccess || refreshes[0].ResourceID != second.SessionID {
		t.Fatalf("expected exactly one successful token.refresh record, got %+v", refreshes)
	}

	_, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken})
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("expected ErrSessionCompromised on reuse, got %v", err)
	}
	if n := len(env.audit(t, AuditQuery{Action: actionTokenRefresh, ActorID: userID})); n != 1 {
		t.Fatalf("reuse must not add a token.refresh record, got %d", n)
	}
	if n := len(env.audit(t, AuditQuery{Action: actionSessionCompromised, ActorID: userID})); n != 1 {
		t.Fatalf("expected one session.compromised record after reuse, got %d", n)
	}

	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: second.RefreshToken}); err == nil {
		t.Fatalf("expected rotated successor to be rejected after reuse")
	}
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: other.RefreshToken}); err == nil {
		t.Fatalf("expected unrelated session of the user to be revoked")
	}

	sessions, err := env.engine.ListSessions(ctx, userID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(sessions))
	}
	if recs := env.audit(t, AuditQuery{Action: actionSessionCompromised, ActorID: userID}); len(recs) != 3 {
		t.Fatalf("expected one session.compromised record per rejected attempt, got %d", len(recs))
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "race@example.com", testPassword)
	res := env.login(t, "race@example.com", testPassword)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	start := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: res.RefreshToken})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", successes)
	}
	for _, err := range others {
		if !errors.Is(err, ErrSessionCompromised) {
			t.Fatalf("expected losers to see ErrSessionCompromised, got %v", err)
		}
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "exp@example.com", testPassword)
	res := env.login(t, "exp@example.com", testPassword)

	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err := env.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: res.RefreshToken})
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	recs := env.audit(t, AuditQuery{Action: actionTokenRefresh, ActorID: userID})
	if len(recs) != 1 || recs[0].Outcome != OutcomeFailure || recs[0].Reason != "session_expired" {
		t.Fatalf("expected exactly one failed token.refresh record, got %+v", recs)
	}
}

func TestRefreshUnknownAndMalformedTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: "not base64 !!"}); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	unknown := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: unknown}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestRefreshRejectsSuspendedUser(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "gone@example.com", testPassword)
	res := env.login(t, "gone@example.com", testPassword)

	if _, err := env.store.DB().ExecContext(context.Background(), `UPDATE users SET status = 'banned' WHERE id = ?`, userID); err != nil {
		t.Fatalf("ban: %v", err)
	}
	_, err := env.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: res.RefreshToken})
	if !errors.Is(err, ErrAccountSuspendedOrBanned) {
		t.Fatalf("expected ErrAccountSuspendedOrBanned, got %v", err)
	}
	_, err = env.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: res.RefreshToken})
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected the session to be revoked, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "out@example.com", testPassword)
	res := env.login(t, "out@example.com", testPassword)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.engine.Logout(ctx, res.RefreshToken); err != nil {
			t.Fatalf("logout %d: %v", i+1, err)
		}
	}
	if err := env.engine.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("logout of garbage token: %v", err)
	}

	_, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: res.RefreshToken})
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after logout, got %v", err)
	}
	if recs := env.audit(t, AuditQuery{Action: actionLogout, ActorID: userID}); len(recs) != 1 {
		t.Fatalf("expected one logout record, got %d", len(recs))
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "all@example.com", testPassword)
	a := env.login(t, "all@example.com", testPassword)
	b := env.login(t, "all@example.com", testPassword)

	if err := env.engine.LogoutAll(context.Background(), userID); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := env.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: tok}); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	}
}

func TestValidateAccessExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "val@example.com", testPassword)
	res := env.login(t, "val@example.com", testPassword)
	ctx := context.Background()

	if _, err := env.engine.ValidateAccess(ctx, "not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.ValidateAccess(ctx, res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerVerified(t, "rev@example.com", testPassword)
	otherID := env.registerVerified(t, "rev2@example.com", testPassword)
	res := env.login(t, "rev@example.com", testPassword)
	ctx := context.Background()

	if err := env.engine.RevokeSession(ctx, otherID, res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for another user's session, got %v", err)
	}
	if err := env.engine.RevokeSession(ctx, userID, res.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.engine.RevokeSession(ctx, userID, res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second revoke, got %v", err)
	}
}
