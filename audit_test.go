package govauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
)

func collect(t *testing.T, sink *ChannelSink, n int) []AuditEvent {
	t.Helper()
	out := make([]AuditEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e := <-sink.Events():
			out = append(out, e)
		case <-timeout:
			t.Fatalf("expected %d audit events, got %d", n, len(out))
		}
	}
	return out
}

func TestAuditTrailForLoginAndLogout(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	if _, err := env.client.Login(ctx, Credentials{Username: testUsername, Password: "wrong"}); err == nil {
		t.Fatalf("expected login failure")
	}
	env.login(t)
	if err := env.client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}

	events := collect(t, sink, 3)
	want := []string{AuditLoginFailure, AuditLoginSuccess, AuditLogout}
	for i, e := range events {
		if e.EventType != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], e.EventType)
		}
		if e.EventID == "" || e.Timestamp.IsZero() {
			t.Fatalf("event %d missing id or timestamp", i)
		}
	}
	if events[0].Success || events[0].Error != "invalid_credentials" {
		t.Fatalf("unexpected failure event %+v", events[0])
	}
	if events[1].UserID != testUserID || !events[1].Success {
		t.Fatalf("unexpected success event %+v", events[1])
	}
}

func TestAuditCarriesAssignmentReason(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, func(b *Builder) { b.WithAuditSink(sink) })
	env.portal.setUserRoles("r-admin")
	env.login(t)

	if err := env.client.AssignUserRoles(context.Background(), "u-bob", []string{"r-viewer"}, "quarterly review"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	events := collect(t, sink, 2)
	e := events[1]
	if e.EventType != AuditUserRolesAssigned || e.Reason != "quarterly review" || e.Subject != "u-bob" {
		t.Fatalf("unexpected assignment event %+v", e)
	}
	if _, ok := e.Metadata["reason"]; ok {
		t.Fatalf("reason duplicated in metadata")
	}
	if e.Metadata["roles"] != "r-viewer" {
		t.Fatalf("unexpected metadata %v", e.Metadata)
	}
}

func TestAuditRecordsAccessDenied(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	env := newTestEnv(t, func(b *Builder) { b.WithAuditSink(sink) })
	env.portal.setUserRoles("r-viewer")
	env.login(t)

	if err := env.client.DeleteRole(context.Background(), "r-viewer"); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected denial, got %v", err)
	}
	if err := env.client.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d: %q", len(lines), buf.String())
	}
	var e AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.EventType != AuditAccessDenied || e.Error != "access_denied" || e.Metadata["missing"] != permission.RoleDelete {
		t.Fatalf("unexpected denial event %+v", e)
	}
}

func TestAuditDisabledWithoutSink(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	if env.client.AuditDropped() != 0 {
		t.Fatalf("disabled audit reported drops")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&AuthenticationError{Reason: ErrInvalidCredentials}, "invalid_credentials"},
		{&AuthenticationError{Reason: ErrTwoFactorAttemptsExceeded}, "two_factor_attempts_exceeded"},
		{&SessionExpiredError{Cause: errors.New("boom")}, "session_expired"},
		{&AuthorizationError{MissingPermissions: []string{"x.y"}}, "access_denied"},
		{&CycleError{RoleID: "r", Chain: []string{"a", "b", "a"}}, "cycle"},
		{&ConflictError{Field: "name"}, "conflict"},
		{&ValidationError{Field: "reason"}, "validation"},
		{fmt.Errorf("%w: dial", ErrRemoteUnavailable), "remote_unavailable"},
		{errors.New("other"), "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("errorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
