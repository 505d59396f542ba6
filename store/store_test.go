package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestUser(t *testing.T, s *Store, email string) *User {
	t.Helper()
	u := &User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      "hash",
		Status:            StatusActive,
		PasswordChangedAt: testNow,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func newTestSession(userID, hash string, now time.Time) *Session {
	return &Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: hash,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(24 * time.Hour),
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"}, nil)
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	v, err := s.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestUser(t, s, "a@example.com")

	dup := &User{ID: uuid.NewString(), Email: "a@example.com", PasswordHash: "h", Status: StatusActive,
		PasswordChangedAt: testNow, CreatedAt: testNow, UpdatedAt: testNow}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrDuplicate)
}

func TestUserLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "b@example.com")

	got, err := s.UserByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, got.EmailVerified)
	assert.Nil(t, got.LockedUntil)
	assert.True(t, got.CreatedAt.Equal(testNow))

	_, err = s.UserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetEmailVerified(ctx, u.ID, testNow))
	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
}

func TestRecordLoginFailureLocksAtThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "lock@example.com")

	for i := 1; i <= 4; i++ {
		f, err := s.RecordLoginFailure(ctx, u.ID, 5, 15*time.Minute, testNow)
		require.NoError(t, err)
		assert.Equal(t, i, f.Attempts)
		assert.Nil(t, f.LockedUntil)
	}

	f, err := s.RecordLoginFailure(ctx, u.ID, 5, 15*time.Minute, testNow)
	require.NoError(t, err)
	require.NotNil(t, f.LockedUntil)
	assert.Equal(t, 5, f.Attempts)
	assert.True(t, f.LockedUntil.Equal(testNow.Add(15*time.Minute)))

	got, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.True(t, got.LockedAt(testNow.Add(time.Minute)))
	assert.False(t, got.LockedAt(testNow.Add(16*time.Minute)))

	require.NoError(t, s.RecordLoginSuccess(ctx, u.ID, "10.0.0.1", testNow))
	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LockedUntil)
	assert.Equal(t, "10.0.0.1", got.LastLoginIP)
}

func TestListUsersFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestUser(t, s, "alice@example.com")
	bob := newTestUser(t, s, "bob@example.com")
	newTestUser(t, s, "carol@example.org")
	require.NoError(t, s.SetStatus(ctx, bob.ID, StatusSuspended, "spam", testNow))

	users, total, err := s.ListUsers(ctx, UserFilter{Search: "EXAMPLE.COM", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, users, 2)

	users, total, err = s.ListUsers(ctx, UserFilter{Status: StatusSuspended, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, bob.ID, users[0].ID)
	assert.Equal(t, "spam", users[0].StatusReason)

	users, total, err = s.ListUsers(ctx, UserFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, users, 1)
}

func TestRotateSessionSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "rot@example.com")
	old := newTestSession(u.ID, "h0", testNow)
	require.NoError(t, s.CreateSession(ctx, old))

	const racers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx *Tx) error {
				next := newTestSession(u.ID, uuid.NewString(), testNow)
				ok, err := tx.RotateSession(ctx, old.ID, next, testNow)
				if err != nil {
					return err
				}
				if ok {
					wins.Add(1)
				}
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.SessionByTokenHash(ctx, "h0")
	require.NoError(t, err)
	assert.True(t, got.Revoked())
	assert.Equal(t, RevokeRotated, got.RevokeReason)
	assert.NotEmpty(t, got.ReplacedBy)

	active, err := s.ActiveSessions(ctx, u.ID, testNow)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, got.ReplacedBy, active[0].ID)
}

func TestRevokeSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "rev@example.com")
	other := newTestUser(t, s, "other@example.com")

	a := newTestSession(u.ID, "a", testNow)
	b := newTestSession(u.ID, "b", testNow)
	c := newTestSession(other.ID, "c", testNow)
	for _, sess := range []*Session{a, b, c} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	ok, err := s.RevokeUserSession(ctx, u.ID, c.ID, RevokeSession, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "foreign session must not be revocable")

	ok, err = s.RevokeSessionByID(ctx, a.ID, RevokeLogout, testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RevokeSessionByID(ctx, a.ID, RevokeLogout, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.RevokeAllSessions(ctx, u.ID, RevokeCompromised, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := s.ActiveSessions(ctx, other.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestTwoFactorLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "tf@example.com")

	require.NoError(t, s.UpsertPendingTwoFactor(ctx, u.ID, "secret-1", []string{"x", "y"}, testNow))
	require.NoError(t, s.UpsertPendingTwoFactor(ctx, u.ID, "secret-2", []string{"p", "q", "r"}, testNow))

	tf, err := s.TwoFactorByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-2", tf.Secret)
	assert.Equal(t, []string{"p", "q", "r"}, tf.BackupCodes)
	assert.False(t, tf.Enabled)

	ok, err := s.EnableTwoFactor(ctx, u.ID, 100, testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, s.UpsertPendingTwoFactor(ctx, u.ID, "secret-3", nil, testNow), ErrConflict)

	ok, err = s.AdvanceTOTPStep(ctx, u.ID, 100)
	require.NoError(t, err)
	assert.False(t, ok, "same step is a replay")
	ok, err = s.AdvanceTOTPStep(ctx, u.ID, 101)
	require.NoError(t, err)
	assert.True(t, ok)

	tf, err = s.TwoFactorByUser(ctx, u.ID)
	require.NoError(t, err)
	ok, err = s.ReplaceBackupCodes(ctx, u.ID, tf.Version, []string{"q", "r"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ReplaceBackupCodes(ctx, u.ID, tf.Version, []string{"r"})
	require.NoError(t, err)
	assert.False(t, ok, "stale version must lose")

	ok, err = s.DeleteTwoFactor(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.TwoFactorByUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedRole(t *testing.T, s *Store, name string, system bool, perms ...string) string {
	t.Helper()
	ctx := context.Background()
	for _, p := range perms {
		_, err := s.UpsertPermission(ctx, Permission{ID: uuid.NewString(), Name: p, Resource: "r", Action: p})
		require.NoError(t, err)
	}
	id, err := s.UpsertRole(ctx, &Role{ID: uuid.NewString(), Name: name, IsSystem: system, CreatedAt: testNow})
	require.NoError(t, err)
	require.NoError(t, s.SetRolePermissions(ctx, id, perms))
	return id
}

func TestRolesAndPermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "rbac@example.com")

	userRole := seedRole(t, s, "user", true, "report.create", "profile.read")
	modRole := seedRole(t, s, "moderator", true, "report.review", "profile.read")

	again, err := s.UpsertRole(ctx, &Role{ID: uuid.NewString(), Name: "user", IsSystem: true, CreatedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, userRole, again)

	expires := testNow.Add(time.Hour)
	require.NoError(t, s.AssignRole(ctx, u.ID, userRole, "", testNow, nil))
	require.NoError(t, s.AssignRole(ctx, u.ID, modRole, "admin-1", testNow, &expires))

	perms, next, err := s.ActivePermissions(ctx, u.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"profile.read", "report.create", "report.review"}, perms)
	require.NotNil(t, next)
	assert.True(t, next.Equal(expires))

	perms, next, err = s.ActivePermissions(ctx, u.ID, expires)
	require.NoError(t, err)
	assert.Equal(t, []string{"profile.read", "report.create"}, perms)
	assert.Nil(t, next)

	names, err := s.ActiveRoleNames(ctx, u.ID, expires.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, names)

	assignments, err := s.UserRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 2)

	ok, err := s.RemoveRole(ctx, u.ID, modRole)
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.SetRolePermissions(ctx, userRole, []string{"nope.missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRoleSkipsSystemRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sys := seedRole(t, s, "admin", true, "user.read")
	custom := seedRole(t, s, "helpdesk", false, "user.read")

	ok, err := s.DeleteRole(ctx, sys)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteRole(ctx, custom)
	require.NoError(t, err)
	assert.True(t, ok)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, []string{"user.read"}, roles[0].Permissions)

	_, err = s.RoleByName(ctx, "helpdesk")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerificationTokenConsumedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "vt@example.com")

	tok := &VerificationToken{ID: uuid.NewString(), UserID: u.ID, Type: TokenEmailVerify,
		TokenHash: "digest", ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow}
	require.NoError(t, s.CreateVerificationToken(ctx, tok))

	_, err := s.VerificationTokenByHash(ctx, TokenPasswordReset, "digest")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.VerificationTokenByHash(ctx, TokenEmailVerify, "digest")
	require.NoError(t, err)
	assert.Nil(t, got.UsedAt)

	ok, err := s.ConsumeVerificationToken(ctx, got.ID, testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeVerificationToken(ctx, got.ID, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	other := &VerificationToken{ID: uuid.NewString(), UserID: u.ID, Type: TokenEmailVerify,
		TokenHash: "digest-2", ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow}
	require.NoError(t, s.CreateVerificationToken(ctx, other))
	require.NoError(t, s.InvalidateVerificationTokens(ctx, u.ID, TokenEmailVerify, testNow))
	got, err = s.VerificationTokenByHash(ctx, TokenEmailVerify, "digest-2")
	require.NoError(t, err)
	assert.NotNil(t, got.UsedAt)
}

func TestAuditAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		outcome := "success"
		if i%2 == 1 {
			outcome = "failure"
		}
		require.NoError(t, s.AppendAudit(ctx, &AuditRecord{
			ID:        uuid.NewString(),
			ActorID:   "actor",
			Action:    "user.login",
			Outcome:   outcome,
			CreatedAt: testNow.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, total, err := s.ListAudit(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))

	recs, total, err = s.ListAudit(ctx, AuditFilter{Outcome: "failure", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, recs, 2)

	recs, total, err = s.ListAudit(ctx, AuditFilter{From: testNow.Add(3 * time.Second), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, recs, 2)
}

func TestWithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		u := &User{ID: uuid.NewString(), Email: "tx@example.com", PasswordHash: "h", Status: StatusActive,
			PasswordChangedAt: testNow, CreatedAt: testNow, UpdatedAt: testNow}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.UserByEmail(ctx, "tx@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
