package authkit

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	// The two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the account is locked after repeated failures.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountSuspendedOrBanned is returned when the account is not active.
	ErrAccountSuspendedOrBanned = errors.New("account suspended or banned")
	// ErrEmailNotVerified is returned at login until the email is verified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrTwoFactorRequired is returned when 2FA is enabled and no code was supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrTwoFactorCodeInvalid is returned for a wrong, replayed or used code.
	ErrTwoFactorCodeInvalid = errors.New("two-factor code invalid")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is an exported constant or variable used by the authentication engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrSessionCompromised is returned when a superseded refresh token is
	// presented. Every session of the user has been revoked.
	ErrSessionCompromised = errors.New("session compromised")
	// ErrPermissionDenied is an exported constant or variable used by the authentication engine.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrWeakPassword wraps a *password.PolicyError listing the violated rules.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrEmailAlreadyRegistered is an exported constant or variable used by the authentication engine.
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrTokenNotFound marks an unknown or already used single-use token.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenInvalid is returned for a malformed or badly signed token.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrVerificationTokenInvalid is the only error callers of VerifyEmail see
	// for a bad token; it is joined with ErrTokenExpired or ErrTokenNotFound.
	ErrVerificationTokenInvalid = errors.New("verification token invalid or expired")
	// ErrResetTokenInvalid is the ResetPassword counterpart of ErrVerificationTokenInvalid.
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("password reuse not allowed")

	// ErrTwoFactorNotSetUp is an exported constant or variable used by the authentication engine.
	ErrTwoFactorNotSetUp = errors.New("two-factor not set up")
	// ErrTwoFactorAlreadyEnabled is an exported constant or variable used by the authentication engine.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotEnabled is an exported constant or variable used by the authentication engine.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")

	// ErrSystemRoleImmutable is returned when changing or deleting a system role.
	ErrSystemRoleImmutable = errors.New("system role is immutable")
	// ErrRoleNotFound is an exported constant or variable used by the authentication engine.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when creating a role whose name is taken.
	ErrRoleExists = errors.New("role already exists")
	// ErrRoleAssignmentNotFound is an exported constant or variable used by the authentication engine.
	ErrRoleAssignmentNotFound = errors.New("role assignment not found")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidEmail is an exported constant or variable used by the authentication engine.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidInput is returned for requests missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
