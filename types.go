package authkit

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/authkit/internal/audit"
	"github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/notify"
	"github.com/MrEthical07/authkit/store"
	"go.uber.org/zap"
)

// Account statuses.
const (
	StatusActive    = store.StatusActive
	StatusSuspended = store.StatusSuspended
	StatusBanned    = store.StatusBanned
)

// User is the public view of an account. It never carries the password hash.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	EmailVerified bool       `json:"email_verified"`
	Status        string     `json:"status"`
	StatusReason  string     `json:"status_reason,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func publicUser(u *store.User) *User {
	return &User{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		Status:        u.Status,
		StatusReason:  u.StatusReason,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

// RegisterRequest is the input of Engine.Register.
type RegisterRequest struct {
	Email     string
	Password  string
	Name      string
	IP        string
	UserAgent string
}

// RegisterResult is returned by Engine.Register.
type RegisterResult struct {
	UserID               string
	VerificationRequired bool
}

// LoginRequest is the input of Engine.Login.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
	IP            string
	UserAgent     string
}

// TokenPair is a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access-token lifetime in seconds.
	ExpiresIn int64
	TokenType string
	SessionID string
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	TokenPair
	User *User
}

// RefreshRequest is the input of Engine.Refresh.
type RefreshRequest struct {
	RefreshToken string
	IP           string
	UserAgent    string
}

// ChangePasswordRequest is the input of Engine.ChangePassword.
type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
}

// SessionInfo describes one active session.
type SessionInfo struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TwoFactorSetup is shown to the user once, right after SetupTwoFactor.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Second-factor methods reported by VerifyTwoFactor.
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
)

// TwoFactorVerification reports which factor matched.
type TwoFactorVerification struct {
	Method               string
	RemainingBackupCodes int
}

// TwoFactorStatus describes a user's 2FA state.
type TwoFactorStatus struct {
	Enabled              bool       `json:"enabled"`
	Method               string     `json:"method,omitempty"`
	EnabledAt            *time.Time `json:"enabled_at,omitempty"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
}

// RoleChange describes an assignment or removal. System marks bootstrap
// changes made from the command line, which skip the actor checks.
type RoleChange struct {
	ActorID   string
	UserID    string
	Role      string
	ExpiresAt *time.Time
	IP        string
	UserAgent string
	System    bool
}

// Role is a role with its permission names.
type Role struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	IsSystem    bool     `json:"is_system"`
	Permissions []string `json:"permissions"`
}

// RoleDefinition is the input of CreateRole.
type RoleDefinition struct {
	Name        string
	DisplayName string
	Description string
	Permissions []string
}

// Permission is a grantable resource.action pair.
type Permission struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// RoleAssignment is one of a user's role memberships.
type RoleAssignment struct {
	Role       string     `json:"role"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active"`
}

// UserQuery filters ListUsers.
type UserQuery struct {
	Status   string
	Search   string
	Page     int
	PageSize int
}

// UserPage is one page of ListUsers.
type UserPage struct {
	Users    []*User `json:"users"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// StatusChange is the input of SetUserStatus.
type StatusChange struct {
	ActorID string
	UserID  string
	Status  string
	Reason  string
}

// ProfileUpdate edits an account on an administrator's behalf. Nil fields
// are left unchanged.
type ProfileUpdate struct {
	ActorID string
	UserID  string
	Name    *string
	Email   *string
}

// MaxAuditPageSize caps AuditQuery.PageSize.
const MaxAuditPageSize = 100

// AuditQuery filters AuditLog. Zero fields match everything.
type AuditQuery struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

// AuditRecord is one stored audit entry.
type AuditRecord struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Changes      string    `json:"changes,omitempty"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditPage is one page of AuditLog, newest first.
type AuditPage struct {
	Records  []AuditRecord `json:"records"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// AccessClaims are the verified claims of an access token.
type AccessClaims = jwt.AccessClaims

// Mailer queues outgoing email without blocking. *notify.Dispatcher
// satisfies it.
type Mailer interface {
	Enqueue(m notify.Message) bool
}

// AuditEvent is the mirrored form of a committed audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives mirrored audit events.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapAuditSink logs each mirrored event through log.
func NewZapAuditSink(log *zap.Logger) AuditSink {
	return internalaudit.NewZapSink(log)
}
