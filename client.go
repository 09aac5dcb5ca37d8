package govauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/audit"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/flows"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/jwt"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Client is the session manager for one signed-in user of the portal API.
// It is safe for concurrent use. Create it with [Builder.Build].
type Client struct {
	config Config
	logger logrus.FieldLogger
	now    func() time.Time

	api        *remote.Client
	httpClient *http.Client
	tokens     *session.TokenStore
	registry   *permission.RoleRegistry
	resolver   *permission.Resolver
	inspector  *jwt.Inspector
	metrics    *metrics.Metrics
	audit      *audit.Dispatcher
	state      *stateMachine
	gate       *Gate
	replay     *replayQueue
	assignment *assignmentBook
	onExpired  func(error)

	refreshGroup singleflight.Group
	// refreshMu keeps a single refresh call in flight across generations.
	refreshMu sync.Mutex

	// loginMu serializes login and two-factor confirmation.
	loginMu   sync.Mutex
	pendingMu sync.Mutex
	pending   *pendingLogin

	recomputeMu sync.Mutex
	expiryTimer *time.Timer

	ready     chan struct{}
	readyOnce sync.Once
	closed    atomic.Bool
}

type pendingLogin struct {
	username  string
	password  string
	tempToken string
	expiresAt time.Time
	attempts  int
	timer     *time.Timer
}

func (c *Client) deps() flows.Deps {
	refresh := flows.RefreshDeps{
		API: c.api,
		Now: c.now,
		Warn: func(msg string, err error) {
			c.logger.WithError(err).Warn("govauth: " + msg)
		},
	}
	return flows.Deps{
		Login:   flows.LoginDeps{API: c.api, Sessions: c.tokens, Now: c.now},
		Refresh: refresh,
		Logout:  flows.LogoutDeps{API: c.api, Timeout: c.config.Session.LogoutTimeout},
	}
}

// State returns the current session state.
func (c *Client) State() SessionState {
	return c.state.current()
}

// OnStateChange registers fn for every state transition. Transitions are
// delivered in order.
func (c *Client) OnStateChange(fn func(from, to SessionState)) {
	if fn != nil {
		c.state.subscribe(fn)
	}
}

// Gate returns the authorization query surface.
func (c *Client) Gate() *Gate {
	return c.gate
}

// Registry returns the role registry mirrored from the API.
func (c *Client) Registry() *permission.RoleRegistry {
	return c.registry
}

// HTTPClient returns a client that attaches the access token and replays
// requests rejected with 401 after a shared refresh.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Do sends req through [Client.HTTPClient].
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// CurrentUser returns the signed-in user.
func (c *Client) CurrentUser() (User, bool) {
	st := c.tokens.Current()
	return st.User, st.Present
}

// WaitReady blocks until [Client.Initialize] has settled, or a login or
// logout has completed.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

/*
====================================
LOGIN
====================================
*/

// Login describes the login operation and its observable behavior.
//
// Login authenticates with the API. When the account needs a second factor
// the result carries a challenge and no session is established; continue
// with [Client.ConfirmTwoFactor]. Rejected credentials are returned as
// *AuthenticationError and are never retried. Calling Login while a session
// is active returns ErrAlreadyAuthenticated; a pending challenge is
// replaced.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	if c.closed.Load() {
		return LoginResult{}, ErrClientClosed
	}
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return LoginResult{}, &AuthenticationError{Reason: ErrInvalidCredentials}
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	switch cur := c.state.current(); cur {
	case StateAuthenticated, StateTokenRefreshing:
		return LoginResult{}, ErrAlreadyAuthenticated
	case StateTwoFactorPending:
		c.dropPending()
		if !c.state.transition(StateTwoFactorPending, StateAuthenticating) {
			return LoginResult{}, ErrLoginInProgress
		}
	case StateUnauthenticated:
		if !c.state.transition(StateUnauthenticated, StateAuthenticating) {
			return LoginResult{}, ErrLoginInProgress
		}
	default:
		return LoginResult{}, ErrLoginInProgress
	}

	req := remote.LoginRequest{Username: creds.Username, Password: creds.Password, TwoFactorCode: creds.TwoFactorCode}
	res := flows.RunLogin(ctx, req, c.deps().Login)

	switch {
	case res.Challenge:
		return c.beginChallenge(ctx, creds, res.TempToken, 0), nil
	case res.Failure == flows.LoginFailureTwoFactorInvalid && res.TempToken != "":
		// The code sent with the first attempt was wrong; it counts.
		result := c.beginChallenge(ctx, creds, res.TempToken, 1)
		return LoginResult{}, &AuthenticationError{Reason: ErrTwoFactorInvalid, RemainingAttempts: result.Challenge.RemainingAttempts}
	case res.Failure == flows.LoginFailureNone || res.Failure == flows.LoginFailurePersist:
		return c.completeLogin(ctx, creds.Username, res)
	}

	c.state.settle(StateUnauthenticated)
	return LoginResult{}, c.loginFailed(ctx, creds.Username, res, 0)
}

// ConfirmTwoFactor describes the confirmtwofactor operation and its observable behavior.
//
// ConfirmTwoFactor sends code for the pending challenge. A wrong code keeps
// the challenge until TwoFactor.MaxAttempts codes have been rejected; the
// returned *AuthenticationError reports the attempts left. Network failures
// do not count as attempts.
func (c *Client) ConfirmTwoFactor(ctx context.Context, code string) (LoginResult, error) {
	if c.closed.Load() {
		return LoginResult{}, ErrClientClosed
	}
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.pendingMu.Lock()
	p := c.pending
	c.pendingMu.Unlock()
	if p == nil {
		return LoginResult{}, ErrNoTwoFactorPending
	}
	if !c.now().Before(p.expiresAt) {
		c.dropPending()
		c.state.settle(StateUnauthenticated)
		c.emitAudit(ctx, AuditTwoFactorFailure, false, "", ErrTwoFactorExpired, map[string]string{"username": p.username})
		return LoginResult{}, &AuthenticationError{Reason: ErrTwoFactorExpired}
	}
	if strings.TrimSpace(code) == "" {
		return LoginResult{}, &AuthenticationError{Reason: ErrTwoFactorInvalid, RemainingAttempts: c.config.TwoFactor.MaxAttempts - p.attempts}
	}
	if !c.state.transition(StateTwoFactorPending, StateAuthenticating) {
		return LoginResult{}, ErrNoTwoFactorPending
	}

	req := remote.LoginRequest{Username: p.username, Password: p.password, TwoFactorCode: code, TempToken: p.tempToken}
	res := flows.RunLogin(ctx, req, c.deps().Login)

	switch res.Failure {
	case flows.LoginFailureNone, flows.LoginFailurePersist:
		c.dropPending()
		return c.completeLogin(ctx, p.username, res)
	case flows.LoginFailureTwoFactorInvalid:
		p.attempts++
		if res.TempToken != "" {
			p.tempToken = res.TempToken
		}
		remaining := c.config.TwoFactor.MaxAttempts - p.attempts
		c.metrics.Inc(metrics.TwoFactorFailure)
		if remaining <= 0 {
			c.dropPending()
			c.state.settle(StateUnauthenticated)
			c.metrics.Inc(metrics.TwoFactorAttemptsExceeded)
			c.emitAudit(ctx, AuditTwoFactorExceeded, false, "", ErrTwoFactorAttemptsExceeded, map[string]string{"username": p.username})
			return LoginResult{}, &AuthenticationError{Reason: ErrTwoFactorAttemptsExceeded}
		}
		c.state.transition(StateAuthenticating, StateTwoFactorPending)
		c.emitAudit(ctx, AuditTwoFactorFailure, false, "", ErrTwoFactorInvalid, map[string]string{"username": p.username})
		return LoginResult{}, &AuthenticationError{Reason: ErrTwoFactorInvalid, RemainingAttempts: remaining}
	case flows.LoginFailureTransport:
		c.state.transition(StateAuthenticating, StateTwoFactorPending)
		return LoginResult{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, res.Err)
	}

	c.dropPending()
	c.state.settle(StateUnauthenticated)
	return LoginResult{}, c.loginFailed(ctx, p.username, res, 0)
}

// CancelTwoFactor abandons a pending challenge.
func (c *Client) CancelTwoFactor() {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.dropPending() {
		c.state.transition(StateTwoFactorPending, StateUnauthenticated)
	}
}

func (c *Client) beginChallenge(ctx context.Context, creds Credentials, tempToken string, attempts int) LoginResult {
	p := &pendingLogin{
		username:  creds.Username,
		password:  creds.Password,
		tempToken: tempToken,
		expiresAt: c.now().Add(c.config.TwoFactor.ChallengeTTL),
		attempts:  attempts,
	}
	p.timer = time.AfterFunc(c.config.TwoFactor.ChallengeTTL, func() { c.expireChallenge(p) })

	c.pendingMu.Lock()
	c.pending = p
	c.pendingMu.Unlock()

	c.state.transition(StateAuthenticating, StateTwoFactorPending)
	c.metrics.Inc(metrics.TwoFactorRequired)
	c.emitAudit(ctx, AuditTwoFactorRequired, true, "", nil, map[string]string{"username": creds.Username})
	return LoginResult{Challenge: &TwoFactorChallenge{
		Username:          creds.Username,
		ExpiresAt:         p.expiresAt,
		RemainingAttempts: c.config.TwoFactor.MaxAttempts - attempts,
	}}
}

func (c *Client) expireChallenge(p *pendingLogin) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.pendingMu.Lock()
	if c.pending != p {
		c.pendingMu.Unlock()
		return
	}
	c.pending = nil
	c.pendingMu.Unlock()

	c.state.transition(StateTwoFactorPending, StateUnauthenticated)
	c.logger.WithField("username", p.username).Debug("govauth: two-factor challenge expired")
	c.emitAudit(context.Background(), AuditTwoFactorFailure, false, "", ErrTwoFactorExpired, map[string]string{"username": p.username})
}

// dropPending clears the pending challenge and reports whether there was one.
func (c *Client) dropPending() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending.timer.Stop()
	c.pending = nil
	return true
}

func (c *Client) completeLogin(ctx context.Context, username string, res flows.LoginResult) (LoginResult, error) {
	if res.Failure == flows.LoginFailurePersist {
		c.metrics.Inc(metrics.PersistenceFailure)
		c.logger.WithFields(logrus.Fields{"user_id": res.State.User.ID}).WithError(res.Err).
			Warn("govauth: session established but not persisted")
	}
	if !c.state.transition(StateAuthenticating, StateAuthenticated) {
		// A logout ran while the login call was in flight.
		if _, _, err := c.tokens.ClearIf(context.WithoutCancel(ctx), res.State.Generation); err != nil {
			c.metrics.Inc(metrics.PersistenceFailure)
		}
		return LoginResult{}, ErrNotAuthenticated
	}
	c.markReady()
	c.metrics.Inc(metrics.LoginSuccess)
	c.emitAudit(ctx, AuditLoginSuccess, true, res.State.User.ID, nil, map[string]string{"username": username})
	c.logger.WithFields(logrus.Fields{"user_id": res.State.User.ID, "generation": res.State.Generation}).Info("govauth: signed in")
	return LoginResult{User: res.State.User}, nil
}

func (c *Client) loginFailed(ctx context.Context, username string, res flows.LoginResult, remaining int) error {
	c.metrics.Inc(metrics.LoginFailure)
	var err error
	switch res.Failure {
	case flows.LoginFailureInvalidCredentials:
		err = &AuthenticationError{Reason: ErrInvalidCredentials}
	case flows.LoginFailureTwoFactorInvalid:
		err = &AuthenticationError{Reason: ErrTwoFactorInvalid, RemainingAttempts: remaining}
	case flows.LoginFailureTwoFactorExpired:
		err = &AuthenticationError{Reason: ErrTwoFactorExpired}
	case flows.LoginFailureTransport:
		err = fmt.Errorf("%w: %v", ErrRemoteUnavailable, res.Err)
	default:
		err = fmt.Errorf("login: %w", res.Err)
	}
	c.emitAudit(ctx, AuditLoginFailure, false, "", err, map[string]string{"username": username})
	return err
}

/*
====================================
LOGOUT
====================================
*/

// Logout describes the logout operation and its observable behavior.
//
// Logout notifies the API on a best-effort basis and then tears the local
// session down unconditionally. It is idempotent. The only error it
// returns wraps ErrPersistence, when the persisted snapshot could not be
// deleted; the in-memory session is gone regardless.
func (c *Client) Logout(ctx context.Context) error {
	if c.dropPending() {
		c.state.transition(StateTwoFactorPending, StateUnauthenticated)
	}

	st := c.tokens.Current()
	if st.Present {
		res := flows.RunLogout(ctx, st.Tokens.AccessToken, c.deps().Logout)
		if res.Err != nil {
			c.metrics.Inc(metrics.LogoutRemoteFailure)
			c.logger.WithField("user_id", st.User.ID).WithError(res.Err).Warn("govauth: remote logout failed")
		}
	}

	_, err := c.tokens.Clear(context.WithoutCancel(ctx))
	c.state.settle(StateUnauthenticated)
	c.markReady()

	if st.Present {
		c.metrics.Inc(metrics.Logout)
		c.emitAudit(ctx, AuditLogout, true, st.User.ID, nil, nil)
	}
	if err != nil {
		c.metrics.Inc(metrics.PersistenceFailure)
		c.logger.WithError(err).Warn("govauth: persisted session not cleared")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

/*
====================================
BOOTSTRAP
====================================
*/

// Initialize describes the initialize operation and its observable behavior.
//
// Initialize restores a persisted session: it validates it with /auth/me,
// refreshes once on 401, and clears it when the refresh fails. When the API
// cannot be reached the client settles Unauthenticated but keeps the
// snapshot, and the error wraps ErrRemoteUnavailable. Initialize always
// releases [Client.WaitReady].
func (c *Client) Initialize(ctx context.Context) error {
	defer c.markReady()
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.state.transition(StateUnauthenticated, StateAuthenticating) {
		return nil
	}

	st, err := c.tokens.Rehydrate(ctx)
	switch {
	case errors.Is(err, session.ErrNoSnapshot):
		c.state.settle(StateUnauthenticated)
		return nil
	case errors.Is(err, session.ErrSnapshotCorrupt):
		c.logger.WithError(err).Warn("govauth: discarded corrupt session snapshot")
		c.state.settle(StateUnauthenticated)
		return nil
	case err != nil:
		c.metrics.Inc(metrics.PersistenceFailure)
		c.state.settle(StateUnauthenticated)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	res := flows.RunBootstrap(ctx, st, flows.BootstrapDeps{
		API: c.api,
		Refresh: func(ctx context.Context) (session.State, error) {
			return c.refreshFrom(ctx, st.Generation)
		},
	})
	log := c.logger.WithFields(logrus.Fields{"user_id": st.User.ID, "outcome": res.Outcome.String()})

	switch res.Outcome {
	case flows.BootstrapRestored:
		if _, _, err := c.tokens.UpdateUser(ctx, st.Epoch, res.User); err != nil {
			c.metrics.Inc(metrics.PersistenceFailure)
			log.WithError(err).Warn("govauth: restored user not persisted")
		}
		fallthrough
	case flows.BootstrapRefreshed:
		if !c.state.transition(StateAuthenticating, StateAuthenticated) {
			return ErrNotAuthenticated
		}
		c.metrics.Inc(metrics.SessionRestored)
		c.emitAudit(ctx, AuditSessionRestored, true, res.User.ID, nil, map[string]string{"outcome": res.Outcome.String()})
		log.Info("govauth: session restored")
		return nil
	case flows.BootstrapUnreachable:
		c.tokens.Release()
		c.state.settle(StateUnauthenticated)
		log.WithError(res.Err).Warn("govauth: api unreachable, keeping persisted session")
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, res.Err)
	}

	if _, err := c.tokens.Clear(context.WithoutCancel(ctx)); err != nil {
		c.metrics.Inc(metrics.PersistenceFailure)
		log.WithError(err).Warn("govauth: persisted session not cleared")
	}
	c.state.settle(StateUnauthenticated)
	log.WithError(res.Err).Info("govauth: persisted session rejected")
	return nil
}

// Close flushes the audit trail and stops timers. The session itself is
// left as is; call [Client.Logout] first to end it.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.dropPending()
	c.recomputeMu.Lock()
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	c.recomputeMu.Unlock()
	c.markReady()
	return c.audit.Close(ctx)
}
