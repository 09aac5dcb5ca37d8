package govauth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
)

// maxReplayBody caps the request body buffered for a possible replay.
const maxReplayBody = 4 << 20

// authTransport attaches the current access token. A 401 joins the shared
// refresh and the request is sent once more with the new token, in arrival
// order relative to the other requests that failed with the same token.
type authTransport struct {
	client *Client
	next   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.client
	ctx := req.Context()

	st := c.tokens.Current()
	if !st.Present {
		closeBody(req)
		return nil, ErrNotAuthenticated
	}
	seq := c.replay.arrive()

	getBody, replayable, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	if c.config.Session.ProactiveRefresh && c.inspector.NeedsRefresh(st.Tokens.AccessToken, c.now()) {
		next, err := c.refreshFrom(ctx, st.Generation)
		if err != nil {
			return nil, err
		}
		st = next
	}

	resp, err := t.send(req, getBody, st.Tokens.AccessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || replayDisabled(ctx) {
		return resp, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	tk := c.replay.enqueue(st.Generation, seq)
	next, err := c.refreshFrom(ctx, st.Generation)
	if err == nil && next.Epoch != st.Epoch {
		// Never replay with another session's token.
		err = &SessionExpiredError{Cause: ErrNotAuthenticated}
	}
	if err == nil && !replayable {
		err = fmt.Errorf("%w: body larger than %d bytes", ErrRequestNotReplayable, maxReplayBody)
	}
	if err != nil {
		c.replay.abandon(tk)
		return nil, err
	}

	if err := c.replay.wait(ctx, tk); err != nil {
		return nil, err
	}
	defer c.replay.done(tk)

	c.metrics.Inc(metrics.RequestReplayed)
	// A second 401 is returned as is.
	return t.send(req, getBody, next.Tokens.AccessToken)
}

func (t *authTransport) send(req *http.Request, getBody func() (io.ReadCloser, error), token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	out.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(out)
}

// replayableBody returns a body factory for req. Bodies over maxReplayBody
// are streamed once and reported as not replayable.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return req.GetBody, true, nil
	}
	defer req.Body.Close()

	data, err := io.ReadAll(io.LimitReader(req.Body, maxReplayBody+1))
	if err != nil {
		return nil, false, fmt.Errorf("read request body: %w", err)
	}
	if len(data) <= maxReplayBody {
		return func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}, true, nil
	}

	// Hand the remainder over exactly once.
	rest, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read request body: %w", err)
	}
	full := append(data, rest...)
	var once sync.Once
	return func() (io.ReadCloser, error) {
		var rc io.ReadCloser = http.NoBody
		once.Do(func() { rc = io.NopCloser(bytes.NewReader(full)) })
		return rc, nil
	}, false, nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

/*
====================================
REPLAY QUEUE
====================================
*/

// replayQueue orders replays per token generation by arrival sequence.
type replayQueue struct {
	mu      sync.Mutex
	seq     uint64
	batches map[uint64]*replayBatch
}

type replayBatch struct {
	pending []*replayTicket
	active  *replayTicket
}

type replayTicket struct {
	gen  uint64
	seq  uint64
	turn chan struct{}
}

func newReplayQueue() *replayQueue {
	return &replayQueue{batches: make(map[uint64]*replayBatch)}
}

func (q *replayQueue) arrive() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

func (q *replayQueue) enqueue(gen, seq uint64) *replayTicket {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.batches[gen]
	if b == nil {
		b = &replayBatch{}
		q.batches[gen] = b
	}
	tk := &replayTicket{gen: gen, seq: seq, turn: make(chan struct{})}
	i, _ := slices.BinarySearchFunc(b.pending, seq, func(t *replayTicket, s uint64) int {
		switch {
		case t.seq < s:
			return -1
		case t.seq > s:
			return 1
		}
		return 0
	})
	b.pending = slices.Insert(b.pending, i, tk)
	return tk
}

// wait blocks until tk is the earliest ticket of its generation still owed
// a replay. On ctx end the ticket is abandoned.
func (q *replayQueue) wait(ctx context.Context, tk *replayTicket) error {
	q.mu.Lock()
	q.promoteLocked(tk.gen)
	q.mu.Unlock()

	select {
	case <-tk.turn:
		return nil
	case <-ctx.Done():
		q.abandon(tk)
		return ctx.Err()
	}
}

// done releases the turn held by tk.
func (q *replayQueue) done(tk *replayTicket) {
	q.abandon(tk)
}

func (q *replayQueue) abandon(tk *replayTicket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.batches[tk.gen]
	if b == nil {
		return
	}
	if b.active == tk {
		b.active = nil
	}
	b.pending = slices.DeleteFunc(b.pending, func(t *replayTicket) bool { return t == tk })
	if b.active == nil && len(b.pending) == 0 {
		delete(q.batches, tk.gen)
		return
	}
	q.promoteLocked(tk.gen)
}

func (q *replayQueue) promoteLocked(gen uint64) {
	b := q.batches[gen]
	if b == nil || b.active != nil || len(b.pending) == 0 {
		return
	}
	b.active = b.pending[0]
	b.pending = b.pending[1:]
	close(b.active.turn)
}

// pendingReplays reports the tickets waiting for gen.
func (q *replayQueue) pendingReplays(gen uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.batches[gen]
	if b == nil {
		return 0
	}
	n := len(b.pending)
	if b.active != nil {
		n++
	}
	return n
}
