// Package gate bounds the number of in-flight upstream generation calls and
// serializes the overflow into a FIFO wait queue. It also tracks a shared
// cooldown window armed whenever the upstream signals rate limiting, so
// queued requests back off together instead of piling onto a throttled API.
package gate

import (
	"context"
	"sync"
	"time"
)

// Gate is constructed once at process start and shared by every request.
type Gate struct {
	mu            sync.Mutex
	max           int
	inFlight      int
	waiters       []chan struct{}
	cooldownUntil time.Time
	now           func() time.Time
}

// New returns a gate permitting max concurrent holders. A non-positive max
// disables limiting entirely: Acquire returns immediately and Release is a
// no-op, but the cooldown window is still tracked for observability.
func New(max int) *Gate {
	return &Gate{max: max, now: time.Now}
}

// Acquire blocks until a slot is free, the queue reaches this caller in FIFO
// order, and any active cooldown window has passed. It returns ctx.Err() if
// the caller goes away first; a waiter canceled while queued never consumes
// a slot.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.max <= 0 {
		return nil
	}

	if err := g.waitCooldown(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	if g.inFlight < g.max && len(g.waiters) == 0 {
		g.inFlight++
		g.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		// Slot ownership was handed over in Release. A cooldown armed while
		// we were queued still has to be waited out before calling upstream.
		if err := g.waitCooldown(ctx); err != nil {
			g.Release()
			return err
		}
		return nil
	case <-ctx.Done():
		g.abandon(ch)
		return ctx.Err()
	}
}

// Release frees one slot and hands it to the oldest waiter, if any.
func (g *Gate) Release() {
	if g.max <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight > 0 {
		g.inFlight--
	}
	if g.inFlight < g.max && len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.inFlight++
		close(ch)
	}
}

// ArmCooldown extends the shared cooldown deadline to now+d. It never
// shortens an already armed window.
func (g *Gate) ArmCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := g.now().Add(d); until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
}

// CooldownRemaining reports how long the active cooldown window has left,
// or zero when none is armed.
func (g *Gate) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.cooldownUntil.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// InFlight reports the number of currently held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Limiting reports whether the gate actually bounds concurrency.
func (g *Gate) Limiting() bool {
	return g.max > 0
}

func (g *Gate) waitCooldown(ctx context.Context) error {
	for {
		g.mu.Lock()
		d := g.cooldownUntil.Sub(g.now())
		g.mu.Unlock()
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// abandon removes a canceled waiter from the queue. If the waiter is no
// longer queued it already owns a slot (Release granted it concurrently with
// cancellation), so the grant is passed on instead of leaking.
func (g *Gate) abandon(ch chan struct{}) {
	g.mu.Lock()
	for i, w := range g.waiters {
		if w == ch {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return
		}
	}
	g.mu.Unlock()
	g.Release()
}
