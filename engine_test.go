package authkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/store"
)

const testPassword = "Str0ng!Pass"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (m *recordingMailer) Enqueue(msg notify.Message) bool {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	return true
}

func (m *recordingMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

func (m *recordingMailer) lastToken(t *testing.T, kind, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Kind == kind && m.messages[i].To == to {
			return m.messages[i].Token
		}
	}
	t.Fatalf("no %s message for %s", kind, to)
	return ""
}

type testEnv struct {
	engine *Engine
	store  *store.Store
	clock  *fakeClock
	mail   *recordingMailer
	redis  *miniredis.Miniredis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	cfg.TwoFactor.EncryptionKey = base64.StdEncoding.EncodeToString(key)

	// Cheapest parameters the hasher accepts.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.UpgradeOnLogin = false
	cfg.Audit.Mirror = false
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "authkit.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	st, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	clock := &fakeClock{now: testStart}
	mail := &recordingMailer{}
	engine, err := New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(client).
		WithMailer(mail).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := engine.SeedRoles(ctx, nil); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	return &testEnv{engine: engine, store: st, clock: clock, mail: mail, redis: mr}
}

func (env *testEnv) register(t *testing.T, email, password string) string {
	t.Helper()
	res, err := env.engine.Register(context.Background(), RegisterRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res.UserID
}

func (env *testEnv) registerVerified(t *testing.T, email, password string) string {
	t.Helper()
	id := env.register(t, email, password)
	token := env.mail.lastToken(t, notify.KindVerifyEmail, email)
	if err := env.engine.VerifyEmail(context.Background(), token); err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}
	return id
}

func (env *testEnv) login(t *testing.T, email, password string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func (env *testEnv) grant(t *testing.T, userID, role string) {
	t.Helper()
	err := env.engine.AssignRole(context.Background(), RoleChange{UserID: userID, Role: role, System: true})
	if err != nil {
		t.Fatalf("grant %s: %v", role, err)
	}
}

func (env *testEnv) audit(t *testing.T, q AuditQuery) []AuditRecord {
	t.Helper()
	q.PageSize = MaxAuditPageSize
	page, err := env.engine.AuditLog(context.Background(), q)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	return page.Records
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := testConfig()
	cfg.JWT.PrivateKey = []byte("short")
	if _, err := New().WithConfig(cfg).WithStore(env.store).Build(); err == nil {
		t.Fatalf("expected error for short hs256 secret")
	}
}

func TestBuildRejectsCacheWithoutRedis(t *testing.T) {
	env := newTestEnv(t)
	cfg := testConfig()
	cfg.RBAC.CacheEnabled = true
	if _, err := New().WithConfig(cfg).WithStore(env.store).Build(); err == nil {
		t.Fatalf("expected error for cache without redis")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	env := newTestEnv(t)
	b := New().WithConfig(testConfig()).WithStore(env.store)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second build to fail")
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "  Alice@Example.COM ", want: "alice@example.com"},
		{in: "bob@example.org", want: "bob@example.org"},
		{in: "", err: true},
		{in: "no-at-sign", err: true},
		{in: "Alice <alice@example.com>", err: true},
		{in: "a@localhost", err: true},
	}
	for _, tt := range tests {
		got, err := normalizeEmail(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidEmail) {
				t.Fatalf("%q: expected ErrInvalidEmail, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %q, %v", tt.in, got, err)
		}
	}
}

func TestAuditMirrorReceivesCommittedRecords(t *testing.T) {
	env := newTestEnv(t)
	sink := NewChannelSink(16)

	cfg := testConfig()
	cfg.Audit.Mirror = true
	engine, err := New().WithConfig(cfg).WithStore(env.store).WithMailer(env.mail).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Register(context.Background(), RegisterRequest{Email: "mirror@example.com", Password: testPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}

	select {
	case ev := <-sink.Events():
		if ev.Action != actionRegister || ev.Outcome != OutcomeSuccess {
			t.Fatalf("unexpected mirrored event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("audit event not mirrored")
	}
}
