package govauth

import "github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"

// MetricID identifies a counter or histogram in a [MetricsSnapshot].
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = metrics.Snapshot

const (
	MetricLoginSuccess              = metrics.LoginSuccess
	MetricLoginFailure              = metrics.LoginFailure
	MetricTwoFactorRequired         = metrics.TwoFactorRequired
	MetricTwoFactorFailure          = metrics.TwoFactorFailure
	MetricTwoFactorAttemptsExceeded = metrics.TwoFactorAttemptsExceeded
	MetricRefreshSuccess            = metrics.RefreshSuccess
	MetricRefreshFailure            = metrics.RefreshFailure
	MetricRefreshShared             = metrics.RefreshShared
	MetricRefreshDiscarded          = metrics.RefreshDiscarded
	MetricRequestReplayed           = metrics.RequestReplayed
	MetricSessionExpired            = metrics.SessionExpired
	MetricSessionRestored           = metrics.SessionRestored
	MetricLogout                    = metrics.Logout
	MetricLogoutRemoteFailure       = metrics.LogoutRemoteFailure
	MetricAccessDenied              = metrics.AccessDenied
	MetricRoleWriteRejected         = metrics.RoleWriteRejected
	MetricCycleRejected             = metrics.CycleRejected
	MetricPermissionResolve         = metrics.PermissionResolve
	MetricResolverCacheHit          = metrics.ResolverCacheHit
	MetricHierarchyGuard            = metrics.HierarchyGuard
	MetricPersistenceFailure        = metrics.PersistenceFailure
	MetricRefreshLatency            = metrics.RefreshLatency
)

// MetricsSnapshot returns the current counter and histogram values.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events lost to backpressure.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}
