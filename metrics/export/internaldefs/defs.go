package internaldefs

import (
	"github.com/MrEthical07/authkit"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: authkit.MetricRegisterSuccess, Name: "authkit_register_success_total", Help: "Successful registrations."},
	{ID: authkit.MetricRegisterDuplicate, Name: "authkit_register_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: authkit.MetricRegisterWeakPassword, Name: "authkit_register_weak_password_total", Help: "Registrations rejected by the password policy."},
	{ID: authkit.MetricLoginSuccess, Name: "authkit_login_success_total", Help: "Successful login attempts."},
	{ID: authkit.MetricLoginFailure, Name: "authkit_login_failure_total", Help: "Failed login attempts."},
	{ID: authkit.MetricLoginLocked, Name: "authkit_login_locked_total", Help: "Login attempts refused while the account was locked."},
	{ID: authkit.MetricAccountLocked, Name: "authkit_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: authkit.MetricTwoFactorRequired, Name: "authkit_two_factor_required_total", Help: "Logins stopped to ask for a second factor."},
	{ID: authkit.MetricRefreshSuccess, Name: "authkit_refresh_success_total", Help: "Successful refresh operations."},
	{ID: authkit.MetricRefreshFailure, Name: "authkit_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authkit.MetricRefreshReuseDetected, Name: "authkit_refresh_reuse_detected_total", Help: "Superseded refresh tokens presented again."},
	{ID: authkit.MetricRateLimitHit, Name: "authkit_rate_limit_hit_total", Help: "Requests denied by a rate limit."},
	{ID: authkit.MetricRateLimitBypassed, Name: "authkit_rate_limit_bypassed_total", Help: "Rate-limit checks skipped because Redis was unavailable."},
	{ID: authkit.MetricSessionCreated, Name: "authkit_session_created_total", Help: "Created sessions."},
	{ID: authkit.MetricSessionRevoked, Name: "authkit_session_revoked_total", Help: "Revoked sessions."},
	{ID: authkit.MetricLogout, Name: "authkit_logout_total", Help: "Single-session logout operations."},
	{ID: authkit.MetricLogoutAll, Name: "authkit_logout_all_total", Help: "Logout-all operations."},
	{ID: authkit.MetricPasswordChangeSuccess, Name: "authkit_password_change_success_total", Help: "Successful password changes."},
	{ID: authkit.MetricPasswordChangeInvalidOld, Name: "authkit_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authkit.MetricPasswordChangeReuseRejected, Name: "authkit_password_change_reuse_rejected_total", Help: "Password changes rejected for reuse."},
	{ID: authkit.MetricPasswordResetRequest, Name: "authkit_password_reset_request_total", Help: "Password reset requests."},
	{ID: authkit.MetricPasswordResetSuccess, Name: "authkit_password_reset_success_total", Help: "Successful password resets."},
	{ID: authkit.MetricPasswordResetFailure, Name: "authkit_password_reset_failure_total", Help: "Failed password resets."},
	{ID: authkit.MetricEmailVerificationSuccess, Name: "authkit_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authkit.MetricEmailVerificationFailure, Name: "authkit_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authkit.MetricTwoFactorSuccess, Name: "authkit_two_factor_success_total", Help: "Accepted second-factor codes."},
	{ID: authkit.MetricTwoFactorFailure, Name: "authkit_two_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: authkit.MetricTwoFactorReplay, Name: "authkit_two_factor_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: authkit.MetricBackupCodeUsed, Name: "authkit_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: authkit.MetricBackupCodeRegenerated, Name: "authkit_backup_code_regenerated_total", Help: "Backup-code set regenerations."},
	{ID: authkit.MetricPermissionDenied, Name: "authkit_permission_denied_total", Help: "Authorization checks that failed."},
	{ID: authkit.MetricPermissionCacheHit, Name: "authkit_permission_cache_hit_total", Help: "Permission lookups served from the cache."},
	{ID: authkit.MetricPermissionCacheMiss, Name: "authkit_permission_cache_miss_total", Help: "Permission lookups that went to the store."},
	{ID: authkit.MetricRoleChange, Name: "authkit_role_change_total", Help: "Role assignments and removals."},
	{ID: authkit.MetricAccountStatusChange, Name: "authkit_account_status_change_total", Help: "Account status changes."},
	{ID: authkit.MetricMailDropped, Name: "authkit_mail_dropped_total", Help: "Emails dropped because the queue was full."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authkit.MetricLoginLatency, Name: "authkit_login_latency_seconds", Help: "Login latency."},
	{ID: authkit.MetricValidateLatency, Name: "authkit_validate_latency_seconds", Help: "Access-token validation latency."},
}

// AuditDroppedName is the counter of audit events the mirror dropped.
const (
	AuditDroppedName = "authkit_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped by the mirror under backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for everything above the last bound.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
