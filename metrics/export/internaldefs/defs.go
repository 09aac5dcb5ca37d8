package internaldefs

import (
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
)

// CounterDef names one counter.
type CounterDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   metrics.ID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: metrics.LoginSuccess, Name: "govauth_login_success_total", Help: "Successful logins."},
	{ID: metrics.LoginFailure, Name: "govauth_login_failure_total", Help: "Failed logins."},
	{ID: metrics.TwoFactorRequired, Name: "govauth_two_factor_required_total", Help: "Logins that asked for a second factor."},
	{ID: metrics.TwoFactorFailure, Name: "govauth_two_factor_failure_total", Help: "Rejected two-factor codes."},
	{ID: metrics.TwoFactorAttemptsExceeded, Name: "govauth_two_factor_attempts_exceeded_total", Help: "Challenges abandoned after too many wrong codes."},
	{ID: metrics.RefreshSuccess, Name: "govauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: metrics.RefreshFailure, Name: "govauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: metrics.RefreshShared, Name: "govauth_refresh_shared_total", Help: "Callers that joined an in-flight refresh."},
	{ID: metrics.RefreshDiscarded, Name: "govauth_refresh_discarded_total", Help: "Refresh results discarded as stale."},
	{ID: metrics.RequestReplayed, Name: "govauth_request_replayed_total", Help: "Requests replayed after a refresh."},
	{ID: metrics.SessionExpired, Name: "govauth_session_expired_total", Help: "Sessions ended by a failed refresh."},
	{ID: metrics.SessionRestored, Name: "govauth_session_restored_total", Help: "Sessions restored from persistence."},
	{ID: metrics.Logout, Name: "govauth_logout_total", Help: "Logouts."},
	{ID: metrics.LogoutRemoteFailure, Name: "govauth_logout_remote_failure_total", Help: "Logouts the API did not acknowledge."},
	{ID: metrics.AccessDenied, Name: "govauth_access_denied_total", Help: "Actions refused for missing roles or permissions."},
	{ID: metrics.RoleWriteRejected, Name: "govauth_role_write_rejected_total", Help: "Role writes refused before reaching the API."},
	{ID: metrics.CycleRejected, Name: "govauth_cycle_rejected_total", Help: "Role writes refused for a hierarchy cycle."},
	{ID: metrics.PermissionResolve, Name: "govauth_permission_resolve_total", Help: "Effective permission recomputations."},
	{ID: metrics.ResolverCacheHit, Name: "govauth_resolver_cache_hit_total", Help: "Recomputations served from the resolver cache."},
	{ID: metrics.HierarchyGuard, Name: "govauth_hierarchy_guard_total", Help: "Hierarchy walks stopped by the cycle or depth guard."},
	{ID: metrics.PersistenceFailure, Name: "govauth_persistence_failure_total", Help: "Failed session snapshot writes or deletes."},
}

var HistogramDefs = []HistogramDef{
	{ID: metrics.RefreshLatency, Name: "govauth_refresh_latency_seconds", Help: "Refresh round-trip latency."},
}

// HistogramBounds are the upper bounds, in seconds, of every bucket but the
// last (+Inf).
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [metrics.BucketCount]uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
