package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/permission"
)

func TestSetUserStatusRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	adminID := env.registerVerified(t, "admin@example.com", testPassword)
	userID := env.registerVerified(t, "member@example.com", testPassword)
	env.grant(t, adminID, permission.RoleAdmin)
	session := env.login(t, "member@example.com", testPassword)
	ctx := context.Background()

	err := env.engine.SetUserStatus(ctx, StatusChange{ActorID: adminID, UserID: userID, Status: StatusSuspended, Reason: "abuse"})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: session.RefreshToken}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "member@example.com", Password: testPassword}); !errors.Is(err, ErrAccountSuspendedOrBanned) {
		t.Fatalf("expected ErrAccountSuspendedOrBanned, got %v", err)
	}

	recs := env.audit(t, AuditQuery{Action: actionStatusChange})
	if len(recs) != 1 || recs[0].Reason != "abuse" {
		t.Fatalf("unexpected status audit %+v", recs)
	}
	var changes map[string]any
	if err := json.Unmarshal([]byte(recs[0].Changes), &changes); err != nil {
		t.Fatalf("decode changes: %v", err)
	}
	if changes["from"] != StatusActive || changes["to"] != StatusSuspended {
		t.Fatalf("unexpected changes %v", changes)
	}

	if err := env.engine.SetUserStatus(ctx, StatusChange{ActorID: adminID, UserID: userID, Status: StatusActive}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	env.login(t, "member@example.com", testPassword)
}

func TestSetUserStatusValidation(t *testing.T) {
	env := newTestEnv(t)
	adminID := env.registerVerified(t, "admin@example.com", testPassword)
	ctx := context.Background()

	if err := env.engine.SetUserStatus(ctx, StatusChange{ActorID: adminID, UserID: adminID, Status: StatusBanned}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected self change to be denied, got %v", err)
	}
	if err := env.engine.SetUserStatus(ctx, StatusChange{UserID: adminID, Status: "deleted"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := env.engine.SetUserStatus(ctx, StatusChange{UserID: "missing", Status: StatusBanned}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMarkEmailVerified(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "manual@example.com", testPassword)
	ctx := context.Background()

	if err := env.engine.MarkEmailVerified(ctx, "", userID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	env.login(t, "manual@example.com", testPassword)

	recs := env.audit(t, AuditQuery{Action: actionAdminVerifyEmail})
	if len(recs) != 1 || recs[0].Reason != reasonSystem {
		t.Fatalf("unexpected audit %+v", recs)
	}
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.register(t, fmt.Sprintf("list%d@example.com", i), testPassword)
		env.clock.Advance(time.Second)
	}
	ctx := context.Background()

	page, err := env.engine.ListUsers(ctx, UserQuery{PageSize: 2})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if page.Total != 5 || len(page.Users) != 2 || page.Users[0].Email != "list4@example.com" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = env.engine.ListUsers(ctx, UserQuery{Search: "list3"})
	if err != nil {
		t.Fatalf("search users: %v", err)
	}
	if page.Total != 1 || page.Users[0].Email != "list3@example.com" {
		t.Fatalf("unexpected search result %+v", page)
	}
	if _, err := env.engine.ListUsers(ctx, UserQuery{Status: "weird"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuditLogPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.register(t, fmt.Sprintf("audit%d@example.com", i), testPassword)
		env.clock.Advance(time.Second)
	}
	ctx := context.Background()

	page, err := env.engine.AuditLog(ctx, AuditQuery{Action: actionRegister, PageSize: 2})
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if page.Total != 3 || len(page.Records) != 2 || page.PageSize != 2 {
		t.Fatalf("unexpected first page %+v", page)
	}
	if !page.Records[0].CreatedAt.After(page.Records[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	page, err = env.engine.AuditLog(ctx, AuditQuery{Action: actionRegister, Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("audit log page 2: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected one record on page 2, got %d", len(page.Records))
	}

	page, err = env.engine.AuditLog(ctx, AuditQuery{PageSize: 10000})
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if page.PageSize != MaxAuditPageSize {
		t.Fatalf("expected page size capped at %d, got %d", MaxAuditPageSize, page.PageSize)
	}

	from := testStart.Add(time.Hour)
	if _, err := env.engine.AuditLog(ctx, AuditQuery{From: from, To: testStart}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestUpdateUserRequiresReverification(t *testing.T) {
	env := newTestEnv(t)
	adminID := env.registerVerified(t, "admin@example.com", testPassword)
	userID := env.registerVerified(t, "member@example.com", testPassword)
	ctx := context.Background()

	name := "  Member Renamed "
	u, err := env.engine.UpdateUser(ctx, ProfileUpdate{ActorID: adminID, UserID: userID, Name: &name})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if u.Name != "Member Renamed" || !u.EmailVerified {
		t.Fatalf("unexpected user after rename %+v", u)
	}

	taken := "Admin@Example.com"
	if _, err := env.engine.UpdateUser(ctx, ProfileUpdate{ActorID: adminID, UserID: userID, Email: &taken}); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("expected ErrEmailAlreadyRegistered, got %v", err)
	}
	bad := "not-an-email"
	if _, err := env.engine.UpdateUser(ctx, ProfileUpdate{ActorID: adminID, UserID: userID, Email: &bad}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	moved := "moved@example.com"
	u, err = env.engine.UpdateUser(ctx, ProfileUpdate{ActorID: adminID, UserID: userID, Email: &moved})
	if err != nil {
		t.Fatalf("change email: %v", err)
	}
	if u.Email != moved || u.EmailVerified {
		t.Fatalf("expected unverified new email, got %+v", u)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: moved, Password: testPassword}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, env.mail.lastToken(t, notify.KindVerifyEmail, moved)); err != nil {
		t.Fatalf("verify new email: %v", err)
	}
	env.login(t, moved, testPassword)

	recs := env.audit(t, AuditQuery{Action: actionUserUpdate, ActorID: adminID})
	if len(recs) != 2 {
		t.Fatalf("expected two user.update records, got %d", len(recs))
	}
	if _, err := env.engine.UpdateUser(ctx, ProfileUpdate{ActorID: adminID, UserID: "missing"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
