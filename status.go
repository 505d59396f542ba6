package authkit

import (
	"errors"
	"net/http"
)

// Error codes carried in HTTP error bodies.
const (
	CodeInvalidCredentials     = "invalid_credentials"
	CodeAccountLocked          = "account_locked"
	CodeAccountDisabled        = "account_suspended_or_banned"
	CodeEmailNotVerified       = "email_not_verified"
	CodeTwoFactorRequired      = "two_factor_required"
	CodeTwoFactorCodeInvalid   = "two_factor_code_invalid"
	CodeTokenExpired           = "token_expired"
	CodeTokenRevoked           = "token_revoked"
	CodeTokenInvalid           = "token_invalid"
	CodeSessionCompromised     = "session_compromised"
	CodePermissionDenied       = "permission_denied"
	CodeWeakPassword           = "weak_password"
	CodeEmailAlreadyRegistered = "email_already_registered"
	CodeVerificationToken      = "verification_token_invalid"
	CodeResetToken             = "reset_token_invalid"
	CodeRateLimited            = "rate_limited"
	CodePasswordReuse          = "password_reuse"
	CodeConflict               = "conflict"
	CodeNotFound               = "not_found"
	CodeInvalidInput           = "invalid_input"
	CodeInternal               = "internal_error"
)

type statusEntry struct {
	err    error
	status int
	code   string
}

// Order matters: joined errors match the first entry they wrap.
var statusTable = []statusEntry{
	{ErrVerificationTokenInvalid, http.StatusBadRequest, CodeVerificationToken},
	{ErrResetTokenInvalid, http.StatusBadRequest, CodeResetToken},
	{ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
	{ErrAccountLocked, http.StatusLocked, CodeAccountLocked},
	{ErrAccountSuspendedOrBanned, http.StatusForbidden, CodeAccountDisabled},
	{ErrEmailNotVerified, http.StatusForbidden, CodeEmailNotVerified},
	{ErrTwoFactorRequired, http.StatusForbidden, CodeTwoFactorRequired},
	{ErrTwoFactorCodeInvalid, http.StatusUnauthorized, CodeTwoFactorCodeInvalid},
	{ErrSessionCompromised, http.StatusUnauthorized, CodeSessionCompromised},
	{ErrTokenExpired, http.StatusUnauthorized, CodeTokenExpired},
	{ErrTokenRevoked, http.StatusUnauthorized, CodeTokenRevoked},
	{ErrTokenInvalid, http.StatusUnauthorized, CodeTokenInvalid},
	{ErrPermissionDenied, http.StatusForbidden, CodePermissionDenied},
	{ErrWeakPassword, http.StatusUnprocessableEntity, CodeWeakPassword},
	{ErrPasswordReuse, http.StatusUnprocessableEntity, CodePasswordReuse},
	{ErrEmailAlreadyRegistered, http.StatusConflict, CodeEmailAlreadyRegistered},
	{ErrRoleExists, http.StatusConflict, CodeConflict},
	{ErrTwoFactorAlreadyEnabled, http.StatusConflict, CodeConflict},
	{ErrSystemRoleImmutable, http.StatusConflict, CodeConflict},
	{ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{ErrUserNotFound, http.StatusNotFound, CodeNotFound},
	{ErrSessionNotFound, http.StatusNotFound, CodeNotFound},
	{ErrRoleNotFound, http.StatusNotFound, CodeNotFound},
	{ErrRoleAssignmentNotFound, http.StatusNotFound, CodeNotFound},
	{ErrTokenNotFound, http.StatusBadRequest, CodeInvalidInput},
	{ErrTwoFactorNotSetUp, http.StatusBadRequest, CodeInvalidInput},
	{ErrTwoFactorNotEnabled, http.StatusBadRequest, CodeInvalidInput},
	{ErrInvalidEmail, http.StatusBadRequest, CodeInvalidInput},
	{ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
}

// HTTPStatus maps an engine error to its HTTP status and error code.
// Unrecognized errors map to 500.
func HTTPStatus(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// PublicMessage returns the message safe to show a client for err. Internal
// errors never leak their text.
func PublicMessage(err error) string {
	status, _ := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			// Weak-password errors carry the violated rules.
			if e.err == ErrWeakPassword {
				return err.Error()
			}
			return e.err.Error()
		}
	}
	return http.StatusText(status)
}
