package authkit

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricRegisterSuccess counts successful registrations.
	MetricRegisterSuccess MetricID = iota
	// MetricRegisterDuplicate counts registrations rejected for a taken email.
	MetricRegisterDuplicate
	// MetricRegisterWeakPassword counts registrations rejected by the password policy.
	MetricRegisterWeakPassword
	// MetricLoginSuccess counts successful login attempts.
	MetricLoginSuccess
	// MetricLoginFailure counts failed login attempts.
	MetricLoginFailure
	// MetricLoginLocked counts login attempts refused because the account is locked.
	MetricLoginLocked
	// MetricAccountLocked counts accounts locked after repeated failures.
	MetricAccountLocked
	// MetricTwoFactorRequired counts logins stopped to ask for a second factor.
	MetricTwoFactorRequired
	// MetricRefreshSuccess counts successful refresh operations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed refresh operations.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts superseded refresh tokens presented again.
	MetricRefreshReuseDetected
	// MetricRateLimitHit counts requests denied by a rate limit.
	MetricRateLimitHit
	// MetricRateLimitBypassed counts rate-limit checks skipped because Redis was unavailable.
	MetricRateLimitBypassed
	// MetricSessionCreated counts created sessions.
	MetricSessionCreated
	// MetricSessionRevoked counts revoked sessions.
	MetricSessionRevoked
	// MetricLogout counts single-session logout operations.
	MetricLogout
	// MetricLogoutAll counts logout-all operations.
	MetricLogoutAll
	// MetricPasswordChangeSuccess counts successful password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeInvalidOld counts password changes with a wrong current password.
	MetricPasswordChangeInvalidOld
	// MetricPasswordChangeReuseRejected counts password changes rejected for reuse.
	MetricPasswordChangeReuseRejected
	// MetricPasswordResetRequest counts password reset requests.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess counts successful password resets.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure counts failed password resets.
	MetricPasswordResetFailure
	// MetricEmailVerificationSuccess counts successful email verifications.
	MetricEmailVerificationSuccess
	// MetricEmailVerificationFailure counts failed email verifications.
	MetricEmailVerificationFailure
	// MetricTwoFactorSuccess counts accepted second-factor codes.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure counts rejected second-factor codes.
	MetricTwoFactorFailure
	// MetricTwoFactorReplay counts TOTP codes rejected as replays.
	MetricTwoFactorReplay
	// MetricBackupCodeUsed counts consumed backup codes.
	MetricBackupCodeUsed
	// MetricBackupCodeRegenerated counts backup-code set regenerations.
	MetricBackupCodeRegenerated
	// MetricPermissionDenied counts authorization checks that failed.
	MetricPermissionDenied
	// MetricPermissionCacheHit counts permission lookups served from the cache.
	MetricPermissionCacheHit
	// MetricPermissionCacheMiss counts permission lookups that went to the store.
	MetricPermissionCacheMiss
	// MetricRoleChange counts role assignments and removals.
	MetricRoleChange
	// MetricAccountStatusChange counts account status changes.
	MetricAccountStatusChange
	// MetricMailDropped counts emails dropped because the queue was full.
	MetricMailDropped
	// MetricLoginLatency records login latency histogram.
	MetricLoginLatency
	// MetricValidateLatency records access-token validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A nil or disabled Metrics
// ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds the counter set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in a latency histogram. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !isHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns a counter's current value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricLoginLatency, MetricValidateLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricLoginLatency || id == MetricValidateLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
