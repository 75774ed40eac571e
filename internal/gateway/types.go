// Package gateway consumes the row-change notification feed emitted by the
// database triggers and exposes it as per-principal subscription channels.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/spott-app/spott-backend/internal/events"
)

// Gateway errors
var (
	ErrListenerClosed = errors.New("change listener closed")
	ErrNotRunning     = errors.New("change listener not running")
)

// ChangeNotification is one raw row change as delivered by the feed. The
// operation kind is tagged explicitly by the trigger (TG_OP); consumers
// never infer it from the payload shape.
type ChangeNotification struct {
	Collection string          `json:"collection"`
	Op         events.Op       `json:"op"`
	Principal  string          `json:"principal,omitempty"`
	RowID      string          `json:"row_id,omitempty"`
	Row        json.RawMessage `json:"row"`
}

// Broadcast reports whether the change is addressed to every session
// rather than a single principal.
func (n ChangeNotification) Broadcast() bool {
	return n.Principal == ""
}

// RowFetcher re-reads a row by primary key. It is used when a trigger
// payload exceeded the NOTIFY size limit and was sent without its row.
type RowFetcher func(ctx context.Context, collection, rowID string) (json.RawMessage, error)

// ChangeStream is the subscription surface the fan-out bus consumes.
type ChangeStream interface {
	// Subscribe opens a channel receiving every broadcast change plus
	// every change addressed to the given principal. The subscription is
	// closed when its context is cancelled or Close is called.
	Subscribe(ctx context.Context, principal string) (*Subscription, error)
}

// Subscription is one open change-feed subscription.
type Subscription struct {
	C         <-chan ChangeNotification
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSubscription wraps a notification channel in a Subscription. cancel
// is invoked on Close and may be nil.
func NewSubscription(ch <-chan ChangeNotification, cancel context.CancelFunc) *Subscription {
	if cancel == nil {
		cancel = func() {}
	}
	return &Subscription{C: ch, cancel: cancel, closed: make(chan struct{})}
}

// Close tears the subscription down. Safe to call more than once, from
// any number of goroutines.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

// Done reports when the subscription has been torn down; the channel is
// closed once no further notifications will be delivered.
func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}
