package bus

import (
	"sync"
	"sync/atomic"

	"github.com/spott-app/spott-backend/internal/events"
)

// TypedSubscription is a variant-filtered view of the bus. It holds one
// underlying bus registration for its whole lifetime; swapping the
// callback does not resubscribe.
type TypedSubscription struct {
	variants    map[events.Variant]struct{}
	callback    atomic.Pointer[events.Handler]
	unsubscribe func()
	closeOnce   sync.Once
}

// OnEvents subscribes callback to exactly the given variants. The callback
// is never invoked for a variant outside the set. Close releases the
// underlying bus registration; calling Close more than once is a no-op.
func OnEvents(stream events.Stream, variants []events.Variant, callback events.Handler) *TypedSubscription {
	ts := &TypedSubscription{
		variants: make(map[events.Variant]struct{}, len(variants)),
	}
	for _, v := range variants {
		ts.variants[v] = struct{}{}
	}
	ts.callback.Store(&callback)

	ts.unsubscribe = stream.Subscribe(func(ev events.Event) {
		if _, ok := ts.variants[ev.Variant]; !ok {
			return
		}
		if cb := ts.callback.Load(); cb != nil {
			(*cb)(ev)
		}
	})
	return ts
}

// SetCallback swaps the callback without touching the bus registration.
func (ts *TypedSubscription) SetCallback(callback events.Handler) {
	ts.callback.Store(&callback)
}

// Close releases the bus registration. Idempotent.
func (ts *TypedSubscription) Close() {
	ts.closeOnce.Do(func() {
		if ts.unsubscribe != nil {
			ts.unsubscribe()
		}
	})
}
