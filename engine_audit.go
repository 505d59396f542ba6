package authkit

import (
	"context"
	"fmt"

	internalaudit "github.com/MrEthical07/authkit/internal/audit"
	"github.com/MrEthical07/authkit/store"
)

const (
	actionRegister             = "user.register"
	actionVerifyEmail          = "user.verify_email"
	actionResendVerification   = "user.resend_verification"
	actionLogin                = "user.login"
	actionLogout               = "user.logout"
	actionLogoutAll            = "user.logout_all"
	actionTokenRefresh         = "token.refresh"
	actionSessionCompromised   = "session.compromised"
	actionSessionRevoke        = "session.revoke"
	actionPasswordChange       = "user.password_change"
	actionPasswordResetRequest = "user.password_reset_request"
	actionPasswordReset        = "user.password_reset"
	actionTwoFactorSetup       = "2fa.setup"
	actionTwoFactorEnable      = "2fa.enable"
	actionTwoFactorVerify      = "2fa.verify"
	actionTwoFactorDisable     = "2fa.disable"
	actionBackupCodesRegen     = "2fa.backup_codes_regenerate"
	actionTwoFactorReset       = "2fa.reset"
	actionRoleAssign           = "role.assign"
	actionRoleRemove           = "role.remove"
	actionRoleCreate           = "role.create"
	actionRoleUpdate           = "role.update"
	actionRoleDelete           = "role.delete"
	actionRoleSeed             = "role.seed"
	actionStatusChange         = "user.status_change"
	actionAdminVerifyEmail     = "user.email_verified_by_admin"
	actionUserUpdate           = "user.update"
)

const (
	resourceUser    = "user"
	resourceSession = "session"
	resourceRole    = "role"
	resourceToken   = "token"
)

// reasonSystem marks actions taken from the command line.
const reasonSystem = "system"

const reasonWeakPassword = "weak_password"

// Audit outcomes.
const (
	OutcomeSuccess = internalaudit.OutcomeSuccess
	OutcomeFailure = internalaudit.OutcomeFailure

	outcomeFailure = OutcomeFailure
)

const defaultAuditPageSize = 50

// AuditLog returns one page of stored audit records, newest first.
// PageSize is capped at MaxAuditPageSize.
func (e *Engine) AuditLog(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: audit range ends before it starts", ErrInvalidInput)
	}
	page, size := pageBounds(q.Page, q.PageSize, defaultAuditPageSize, MaxAuditPageSize)

	recs, total, err := e.store.ListAudit(ctx, store.AuditFilter{
		ActorID:      q.ActorID,
		Action:       q.Action,
		ResourceType: q.ResourceType,
		ResourceID:   q.ResourceID,
		Outcome:      q.Outcome,
		From:         q.From,
		To:           q.To,
		Limit:        size,
		Offset:       (page - 1) * size,
	})
	if err != nil {
		return nil, err
	}

	out := &AuditPage{
		Records:  make([]AuditRecord, 0, len(recs)),
		Total:    total,
		Page:     page,
		PageSize: size,
	}
	for _, r := range recs {
		out.Records = append(out.Records, AuditRecord{
			ID:           r.ID,
			ActorID:      r.ActorID,
			Action:       r.Action,
			ResourceType: r.ResourceType,
			ResourceID:   r.ResourceID,
			Outcome:      r.Outcome,
			Reason:       r.Reason,
			Changes:      r.Changes,
			IP:           r.IP,
			UserAgent:    r.UserAgent,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

// pageBounds normalizes a 1-based page and a page size.
func pageBounds(page, size, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = def
	}
	if size > max {
		size = max
	}
	return page, size
}
