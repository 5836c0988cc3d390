// Package pool implements the connection pool: an idle queue, an active
// set, a pinned-for-transaction subset of active, condition-variable
// acquire/release with deadline, tiered validation, a background cleanup
// worker, and a per-attached-database registry of pools.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/ha1tch/mssqlext/pkg/conn"
	"github.com/ha1tch/mssqlext/pkg/config"
	tdserrors "github.com/ha1tch/mssqlext/pkg/errors"
	"github.com/ha1tch/mssqlext/pkg/log"
)

// fastValidationThreshold is the idle duration under which validation is a
// socket-alive check only; at or above it, validation sends a SELECT 1
// SQL_BATCH ping.
const fastValidationThreshold = 60 * time.Second

// Dialer creates a new connection. Supplied by the caller (the extension
// boundary) so the pool stays independent of connection-string parsing.
type Dialer func(ctx context.Context) (*conn.Conn, error)

// Stats reports the pool's current counters. Total also counts dials in
// progress (the slot is reserved before dialing), so
// total = created - closed + dials in progress, and active + idle <= total.
type Stats struct {
	Total              int
	Idle               int
	Active             int
	Pinned             int
	Created            int64
	Closed             int64
	AcquireCount       int64
	AcquireTimeoutCount int64
}

// Pool manages connections for one attached database.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	dial   Dialer
	min    int
	max    int
	acquireTimeout time.Duration
	idleTimeout    time.Duration
	validationAge  time.Duration

	idle   []*conn.Conn
	active map[*conn.Conn]struct{}
	pinned map[*conn.Conn]struct{}
	total  int

	created int64
	closed  int64
	acquireCount        int64
	acquireTimeoutCount int64

	closedPool bool
	stopCh     chan struct{}
}

// New creates a Pool and starts its background cleanup worker.
func New(cfg config.Config, dial Dialer) *Pool {
	p := &Pool{
		dial:           dial,
		min:            cfg.PoolMinSize,
		max:            cfg.PoolMaxSize,
		acquireTimeout: cfg.PoolAcquireTimeout,
		idleTimeout:    cfg.PoolIdleTimeout,
		validationAge:  fastValidationThreshold,
		active:         make(map[*conn.Conn]struct{}),
		pinned:         make(map[*conn.Conn]struct{}),
		stopCh:         make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.cleanupLoop(cleanupInterval)
	return p
}

// cleanupInterval is the cadence of the idle-queue scan: every second,
// closing connections idle longer than idle_timeout while preserving min.
const cleanupInterval = time.Second

// Acquire returns an idle connection if one validates, otherwise dials a
// new one up to max, otherwise waits for a release until ctx or the
// pool's acquire_timeout elapses, whichever is sooner.
func (p *Pool) Acquire(ctx context.Context) (*conn.Conn, error) {
	deadline := time.Now().Add(p.acquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closedPool {
			p.mu.Unlock()
			return nil, tdserrors.NewProtocolError("pool is closed")
		}

		for len(p.idle) > 0 {
			c := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if !p.validate(c) {
				c.Close()
				p.total--
				p.closed++
				continue
			}

			p.active[c] = struct{}{}
			p.acquireCount++
			p.mu.Unlock()
			return c, nil
		}

		if p.total < p.max {
			p.total++
			p.mu.Unlock()

			c, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			p.created++
			p.active[c] = struct{}{}
			p.acquireCount++
			p.mu.Unlock()
			return c, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.acquireTimeoutCount++
			p.mu.Unlock()
			log.Default().Pool().Warn("acquire timed out", "waited", p.acquireTimeout.String(), "total", p.total, "max", p.max)
			return nil, &tdserrors.PoolTimeout{Waited: p.acquireTimeout.String()}
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()

		if p.closedPool {
			p.mu.Unlock()
			return nil, tdserrors.NewProtocolError("pool is closed")
		}
		if time.Now().After(deadline) {
			p.acquireTimeoutCount++
			p.mu.Unlock()
			return nil, &tdserrors.PoolTimeout{Waited: p.acquireTimeout.String()}
		}
	}
}

// validate applies the tiered check: a socket-alive peek for recently-used
// connections, a round-trip SELECT 1 for older ones.
func (p *Pool) validate(c *conn.Conn) bool {
	if time.Since(c.LastUsed()) < p.validationAge {
		return c.IsSocketAlive()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Ping(ctx) == nil
}

// Release returns c to the pool. If c is pinned (mid-transaction) the
// release is a no-op; Unpin clears the pin and releases c once the
// transaction ends.
func (p *Pool) Release(c *conn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(c)
}

func (p *Pool) releaseLocked(c *conn.Conn) {
	if _, pinned := p.pinned[c]; pinned {
		return
	}
	delete(p.active, c)

	if p.closedPool || c.State() == conn.StateDisconnected {
		c.Close()
		p.total--
		p.closed++
		p.cond.Signal()
		return
	}

	c.MarkPendingReset()
	p.idle = append(p.idle, c)
	p.cond.Signal()
}

// Pin marks c as pinned to its current owner (an open transaction),
// excluding it from validation/reaping until Unpin.
func (p *Pool) Pin(c *conn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[c] = struct{}{}
}

// Unpin clears the pin and releases c back to idle.
func (p *Pool) Unpin(c *conn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pinned, c)
	p.releaseLocked(c)
}

// Stats returns a point-in-time snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:               p.total,
		Idle:                len(p.idle),
		Active:              len(p.active),
		Pinned:              len(p.pinned),
		Created:             p.created,
		Closed:              p.closed,
		AcquireCount:        p.acquireCount,
		AcquireTimeoutCount: p.acquireTimeoutCount,
	}
}

// Close drains idle connections and closes the pool, waking any waiters.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closedPool {
		p.mu.Unlock()
		return
	}
	p.closedPool = true
	close(p.stopCh)
	for _, c := range p.idle {
		c.Close()
		p.total--
		p.closed++
	}
	p.idle = nil
	p.cond.Broadcast()
	p.mu.Unlock()
}

// cleanupLoop runs every cleanup_interval, closing excess idle connections
// above min that have sat idle past idle_timeout.
func (p *Pool) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.cleanupOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) cleanupOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.min {
		return
	}

	kept := make([]*conn.Conn, 0, len(p.idle))
	excess := len(p.idle) - p.min
	removed := 0
	for _, c := range p.idle {
		if removed < excess && time.Since(c.LastUsed()) > p.idleTimeout {
			c.Close()
			p.total--
			p.closed++
			removed++
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
}
