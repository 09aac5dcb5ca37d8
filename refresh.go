package govauth

import (
	"context"
	"strconv"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/flows"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
	"github.com/sirupsen/logrus"
)

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh exchanges the refresh token for a new access token. Concurrent
// callers, including replayed requests, share one call to the API. A
// failure ends the session and is returned as *SessionExpiredError.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.refreshFrom(ctx, c.tokens.Generation())
	return err
}

// refreshFrom joins or starts the refresh of generation gen. If the store
// has already moved past gen, the current state is returned without a
// network call. A caller whose ctx ends stops waiting; the refresh itself
// runs to completion.
func (c *Client) refreshFrom(ctx context.Context, gen uint64) (session.State, error) {
	st := c.tokens.Current()
	if !st.Present {
		return st, ErrNotAuthenticated
	}
	if st.Generation != gen {
		return st, nil
	}

	ch := c.refreshGroup.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.runRefresh(gen)
	})
	select {
	case r := <-ch:
		if r.Shared {
			c.metrics.Inc(metrics.RefreshShared)
		}
		if r.Err != nil {
			return session.State{}, r.Err
		}
		return r.Val.(session.State), nil
	case <-ctx.Done():
		return session.State{}, ctx.Err()
	}
}

// runRefresh performs the refresh for gen. It is detached from any caller
// context and bounded by Session.RefreshTimeout.
func (c *Client) runRefresh(gen uint64) (session.State, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	st := c.tokens.Current()
	if !st.Present {
		return st, &SessionExpiredError{Cause: ErrNotAuthenticated}
	}
	if st.Generation != gen {
		return st, nil
	}

	moved := c.state.transition(StateAuthenticated, StateTokenRefreshing)
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Session.RefreshTimeout)
	defer cancel()

	start := time.Now()
	res := flows.RunRefresh(ctx, st.Tokens, c.deps().Refresh)
	c.metrics.Observe(metrics.RefreshLatency, time.Since(start))

	log := c.logger.WithFields(logrus.Fields{"user_id": st.User.ID, "generation": gen})
	if res.Failure != flows.RefreshFailureNone {
		return session.State{}, c.expireSession(gen, st.User.ID, res.Err)
	}

	next, applied, err := c.tokens.Rotate(ctx, gen, res.Tokens, res.User)
	if err != nil {
		c.metrics.Inc(metrics.PersistenceFailure)
		log.WithError(err).Warn("govauth: refreshed tokens not persisted")
	}
	if !applied {
		c.metrics.Inc(metrics.RefreshDiscarded)
		log.Debug("govauth: discarded stale refresh result")
		if moved {
			c.state.transition(StateTokenRefreshing, StateAuthenticated)
		}
		if !next.Present {
			return next, &SessionExpiredError{Cause: ErrNotAuthenticated}
		}
		return next, nil
	}

	if moved {
		c.state.transition(StateTokenRefreshing, StateAuthenticated)
	}
	c.metrics.Inc(metrics.RefreshSuccess)
	c.emitAudit(ctx, AuditRefreshSuccess, true, next.User.ID, nil, nil)
	log.WithField("generation", next.Generation).Debug("govauth: tokens refreshed")
	return next, nil
}

// expireSession is the global logout path for a failed refresh of gen.
func (c *Client) expireSession(gen uint64, userID string, cause error) error {
	expired := &SessionExpiredError{Cause: cause}
	c.metrics.Inc(metrics.RefreshFailure)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Session.LogoutTimeout)
	defer cancel()
	_, cleared, err := c.tokens.ClearIf(ctx, gen)
	if err != nil {
		c.metrics.Inc(metrics.PersistenceFailure)
		c.logger.WithError(err).Warn("govauth: persisted session not cleared")
	}
	if !cleared {
		return expired
	}

	c.state.settle(StateUnauthenticated)
	c.metrics.Inc(metrics.SessionExpired)
	c.emitAudit(ctx, AuditSessionExpired, false, userID, cause, nil)
	c.logger.WithFields(logrus.Fields{"user_id": userID, "generation": gen}).WithError(cause).
		Warn("govauth: refresh failed, session ended")
	if c.onExpired != nil {
		c.onExpired(expired)
	}
	return expired
}
