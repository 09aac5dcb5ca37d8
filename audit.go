package govauth

import (
	"context"
	"errors"
	"io"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/audit"
	"github.com/google/uuid"
)

type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
)

// NewChannelSink returns a sink that delivers events on a channel of the
// given capacity. Emit blocks while the channel is full, until ctx is done.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	AuditLoginSuccess           = "login_success"
	AuditLoginFailure           = "login_failure"
	AuditTwoFactorRequired      = "two_factor_required"
	AuditTwoFactorFailure       = "two_factor_failure"
	AuditTwoFactorExceeded      = "two_factor_attempts_exceeded"
	AuditRefreshSuccess         = "refresh_success"
	AuditSessionExpired         = "session_expired"
	AuditSessionRestored        = "session_restored"
	AuditLogout                 = "logout"
	AuditAccessDenied           = "access_denied"
	AuditRoleCreated            = "role_created"
	AuditRoleUpdated            = "role_updated"
	AuditRoleDeleted            = "role_deleted"
	AuditRolePermissionsGranted = "role_permissions_granted"
	AuditRolePermissionRevoked  = "role_permission_revoked"
	AuditUserRolesAssigned      = "user_roles_assigned"
	AuditUserRoleRevoked        = "user_role_revoked"
	AuditRolesSynced            = "roles_synced"
	AuditCatalogSynced          = "catalog_synced"
)

// emitAudit records one event for the signed-in actor. subject is the
// user the event is about when it differs from the actor.
func (c *Client) emitAudit(ctx context.Context, eventType string, success bool, subject string, err error, metadata map[string]string) {
	if c.audit == nil {
		return
	}
	actor, _ := c.CurrentUser()
	event := AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: c.now(),
		EventType: eventType,
		UserID:    actor.ID,
		Subject:   subject,
		Success:   success,
		Error:     errorCode(err),
		Metadata:  metadata,
	}
	if reason, ok := metadata["reason"]; ok {
		event.Reason = reason
		event.Metadata = make(map[string]string, len(metadata)-1)
		for k, v := range metadata {
			if k != "reason" {
				event.Metadata[k] = v
			}
		}
	}
	c.audit.Emit(context.WithoutCancel(ctx), event)
}

// errorCode maps err onto a stable code for the audit trail.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTwoFactorAttemptsExceeded):
		return "two_factor_attempts_exceeded"
	case errors.Is(err, ErrTwoFactorExpired):
		return "two_factor_expired"
	case errors.Is(err, ErrTwoFactorInvalid):
		return "two_factor_invalid"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrAuthorization):
		return "access_denied"
	case errors.Is(err, ErrCycle):
		return "cycle"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRemoteUnavailable):
		return "remote_unavailable"
	}
	return "internal"
}
