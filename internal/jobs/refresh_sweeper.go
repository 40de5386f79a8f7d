// Package jobs runs the background maintenance work: a cron-driven sweep
// that refreshes access tokens shortly before they expire, so publishing and
// sync callers rarely hit the lazy-refresh path.
package jobs

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/postlinehq/postline/internal/engine"
	"github.com/postlinehq/postline/internal/provider"
	"github.com/postlinehq/postline/internal/store"
)

// sweepTimeout bounds one whole sweep. A hung provider call cannot stall the
// scheduler into overlapping runs forever.
const sweepTimeout = 10 * time.Minute

// RefreshSweeper walks expiring connections and refreshes them one at a time.
// Provider APIs rate-limit aggressively, so calls are paced rather than
// parallel. A failed refresh is logged and skipped: the next sweep retries
// it, and the lazy-refresh path covers any caller that gets there first.
type RefreshSweeper struct {
	connections *store.Connections
	engine      *engine.Engine
	limiter     *rate.Limiter
	// window is how far ahead of expiry a token qualifies for refresh.
	window time.Duration
}

// NewRefreshSweeper creates a sweeper refreshing tokens that expire within
// the window, pacing provider calls to one per second.
func NewRefreshSweeper(connections *store.Connections, eng *engine.Engine, window time.Duration) *RefreshSweeper {
	return &RefreshSweeper{
		connections: connections,
		engine:      eng,
		limiter:     rate.NewLimiter(rate.Limit(1), 1),
		window:      window,
	}
}

// Sweep refreshes every connection whose token expires inside the window.
func (s *RefreshSweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	conns, err := s.connections.ListExpiring(ctx, s.window)
	if err != nil {
		log.Printf("Refresh sweep: failed to list expiring connections: %v", err)
		return
	}
	if len(conns) == 0 {
		return
	}

	log.Printf("Refresh sweep: %d connection(s) expiring within %s", len(conns), s.window)

	refreshed, skipped, failed := 0, 0, 0
	for i := range conns {
		conn := &conns[i]

		p, err := provider.Get(conn.Provider)
		if err != nil || !p.Config().SupportsRefresh {
			// Unregistered provider or one without refresh; reconnecting is
			// the user's job.
			skipped++
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			log.Printf("Refresh sweep: aborted: %v", err)
			return
		}

		if _, err := s.engine.RefreshConnection(ctx, conn.UserID, conn.Provider); err != nil {
			log.Printf("Refresh sweep: %s refresh failed for user %s: %v", conn.Provider, conn.UserID, err)
			failed++
			continue
		}
		refreshed++
	}

	log.Printf("Refresh sweep: done, %d refreshed, %d skipped, %d failed", refreshed, skipped, failed)
}
