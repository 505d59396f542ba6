package store

import (
	"database/sql"
	"time"
)

// User statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusBanned    = "banned"
)

// Verification token types.
const (
	TokenEmailVerify   = "email_verify"
	TokenPasswordReset = "password_reset"
	TokenTwoFactorMail = "2fa_email"
)

// Session revoke reasons.
const (
	RevokeLogout         = "logout"
	RevokeLogoutAll      = "logout_all"
	RevokeRotated        = "rotated"
	RevokeCompromised    = "compromised"
	RevokePasswordChange = "password_change"
	RevokePasswordReset  = "password_reset"
	RevokeStatusChange   = "status_change"
	RevokeSession        = "session_revoke"
	RevokeTwoFactorReset = "two_factor_reset"
)

// User is an account row.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	EmailVerified       bool
	Status              string
	StatusReason        string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
	PasswordChangedAt   time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockedAt reports whether the account is locked at now.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

type userRow struct {
	ID                  string        `db:"id"`
	Email               string        `db:"email"`
	PasswordHash        string        `db:"password_hash"`
	Name                string        `db:"name"`
	EmailVerified       bool          `db:"email_verified"`
	Status              string        `db:"status"`
	StatusReason        string        `db:"status_reason"`
	FailedLoginAttempts int           `db:"failed_login_attempts"`
	LockedUntil         sql.NullInt64 `db:"locked_until"`
	LastLoginAt         sql.NullInt64 `db:"last_login_at"`
	LastLoginIP         string        `db:"last_login_ip"`
	PasswordChangedAt   int64         `db:"password_changed_at"`
	CreatedAt           int64         `db:"created_at"`
	UpdatedAt           int64         `db:"updated_at"`
}

func (r userRow) toUser() *User {
	return &User{
		ID:                  r.ID,
		Email:               r.Email,
		PasswordHash:        r.PasswordHash,
		Name:                r.Name,
		EmailVerified:       r.EmailVerified,
		Status:              r.Status,
		StatusReason:        r.StatusReason,
		FailedLoginAttempts: r.FailedLoginAttempts,
		LockedUntil:         fromNullMillis(r.LockedUntil),
		LastLoginAt:         fromNullMillis(r.LastLoginAt),
		LastLoginIP:         r.LastLoginIP,
		PasswordChangedAt:   fromMillis(r.PasswordChangedAt),
		CreatedAt:           fromMillis(r.CreatedAt),
		UpdatedAt:           fromMillis(r.UpdatedAt),
	}
}

// Session is a refresh-token session row.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	IP               string
	UserAgent        string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevokeReason     string
	ReplacedBy       string
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

type sessionRow struct {
	ID               string        `db:"id"`
	UserID           string        `db:"user_id"`
	RefreshTokenHash string        `db:"refresh_token_hash"`
	IP               string        `db:"ip"`
	UserAgent        string        `db:"user_agent"`
	CreatedAt        int64         `db:"created_at"`
	LastUsedAt       int64         `db:"last_used_at"`
	ExpiresAt        int64         `db:"expires_at"`
	RevokedAt        sql.NullInt64 `db:"revoked_at"`
	RevokeReason     string        `db:"revoke_reason"`
	ReplacedBy       string        `db:"replaced_by"`
}

func (r sessionRow) toSession() *Session {
	return &Session{
		ID:               r.ID,
		UserID:           r.UserID,
		RefreshTokenHash: r.RefreshTokenHash,
		IP:               r.IP,
		UserAgent:        r.UserAgent,
		CreatedAt:        fromMillis(r.CreatedAt),
		LastUsedAt:       fromMillis(r.LastUsedAt),
		ExpiresAt:        fromMillis(r.ExpiresAt),
		RevokedAt:        fromNullMillis(r.RevokedAt),
		RevokeReason:     r.RevokeReason,
		ReplacedBy:       r.ReplacedBy,
	}
}

// TwoFactor is a user's second-factor credential.
type TwoFactor struct {
	UserID       string
	Method       string
	Secret       string
	BackupCodes  []string
	Enabled      bool
	EnabledAt    *time.Time
	LastUsedStep int64
	Version      int64
	CreatedAt    time.Time
}

type twoFactorRow struct {
	UserID       string        `db:"user_id"`
	Method       string        `db:"method"`
	Secret       string        `db:"secret"`
	BackupCodes  string        `db:"backup_codes"`
	Enabled      bool          `db:"enabled"`
	EnabledAt    sql.NullInt64 `db:"enabled_at"`
	LastUsedStep int64         `db:"last_used_step"`
	Version      int64         `db:"version"`
	CreatedAt    int64         `db:"created_at"`
}

// Role is an RBAC role.
type Role struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
	Permissions []string
}

type roleRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	DisplayName string `db:"display_name"`
	Description string `db:"description"`
	IsSystem    bool   `db:"is_system"`
	CreatedAt   int64  `db:"created_at"`
}

func (r roleRow) toRole() *Role {
	return &Role{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

// Permission is a grantable resource.action pair.
type Permission struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Resource    string `db:"resource"`
	Action      string `db:"action"`
	Description string `db:"description"`
}

// RoleAssignment is a user's membership in a role.
type RoleAssignment struct {
	UserID     string
	Role       string
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// ActiveAt reports whether the assignment is in force at now.
func (a RoleAssignment) ActiveAt(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

type assignmentRow struct {
	UserID     string        `db:"user_id"`
	Role       string        `db:"role_name"`
	AssignedBy string        `db:"assigned_by"`
	AssignedAt int64         `db:"assigned_at"`
	ExpiresAt  sql.NullInt64 `db:"expires_at"`
}

// VerificationToken is a single-use emailed token.
type VerificationToken struct {
	ID        string
	UserID    string
	Type      string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type verificationRow struct {
	ID        string        `db:"id"`
	UserID    string        `db:"user_id"`
	Type      string        `db:"type"`
	TokenHash string        `db:"token_hash"`
	ExpiresAt int64         `db:"expires_at"`
	UsedAt    sql.NullInt64 `db:"used_at"`
	CreatedAt int64         `db:"created_at"`
}

// AuditRecord is an append-only audit entry.
type AuditRecord struct {
	ID           string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Reason       string
	Changes      string
	IP           string
	UserAgent    string
	CreatedAt    time.Time
}

type auditRow struct {
	ID           string `db:"id"`
	ActorID      string `db:"actor_id"`
	Action       string `db:"action"`
	ResourceType string `db:"resource_type"`
	ResourceID   string `db:"resource_id"`
	Outcome      string `db:"outcome"`
	Reason       string `db:"reason"`
	Changes      string `db:"changes"`
	IP           string `db:"ip"`
	UserAgent    string `db:"user_agent"`
	CreatedAt    int64  `db:"created_at"`
}
