package rtc

import (
	"context"
	"sync/atomic"
	"time"
)

// interactionPoll is how often a pending initialization re-checks the
// gate. The underlying audio pipeline may not start before a user
// gesture, so initialization suspends rather than fails.
const interactionPoll = 100 * time.Millisecond

// InteractionGate records whether a qualifying user interaction (click,
// touch, keypress) has been observed. The HTTP layer marks it; the
// registry waits on it before initializing media.
type InteractionGate struct {
	happened atomic.Bool
}

func NewInteractionGate() *InteractionGate {
	return &InteractionGate{}
}

func (g *InteractionGate) Mark() {
	g.happened.Store(true)
}

func (g *InteractionGate) Happened() bool {
	return g.happened.Load()
}

// Wait suspends until an interaction has been observed or ctx is done.
// Polling, not busy-waiting: checks every 100ms.
func (g *InteractionGate) Wait(ctx context.Context) error {
	if g.Happened() {
		return nil
	}
	ticker := time.NewTicker(interactionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.Happened() {
				return nil
			}
		}
	}
}
