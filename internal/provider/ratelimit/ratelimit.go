// Package ratelimit gates outbound provider calls so each provider's
// free-tier quota is never exceeded. A strict last-call-timestamp gate
// per provider is enough here; there is no burst allowance because
// correctness matters more than throughput.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type gate struct {
	mu   sync.Mutex
	last time.Time
}

// Gate holds one minimum-interval gate per provider. Acquire blocks
// until the configured interval has elapsed since the previous grant
// for that provider, or returns early if the context is canceled.
// Different providers never delay each other.
type Gate struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	gates     map[string]*gate
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a Gate from provider name -> minimum interval. Providers
// absent from the map are never throttled.
func New(intervals map[string]time.Duration) *Gate {
	g := &Gate{
		intervals: make(map[string]time.Duration, len(intervals)),
		gates:     make(map[string]*gate, len(intervals)),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for name, iv := range intervals {
		g.intervals[name] = iv
	}
	return g
}

// Acquire serializes callers of the same provider: the gate's mutex is
// held across the wait so two concurrent calls cannot both read a stale
// "clear to proceed" timestamp.
func (g *Gate) Acquire(ctx context.Context, name string) error {
	interval := g.intervals[name]
	if interval <= 0 {
		return nil
	}
	pg := g.gateFor(name)

	pg.mu.Lock()
	defer pg.mu.Unlock()
	if wait := interval - g.now().Sub(pg.last); wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
	pg.last = g.now()
	return nil
}

func (g *Gate) gateFor(name string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	pg, ok := g.gates[name]
	if !ok {
		pg = &gate{}
		g.gates[name] = pg
	}
	return pg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
