package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spott-app/spott-backend/internal/metrics"
)

const (
	// changeChannel is the single NOTIFY channel all triggers publish on.
	changeChannel = "spott_changes"
	// subscriptionBuffer bounds each subscriber channel. A subscriber that
	// falls this far behind loses notifications and relies on its
	// backstop poll to recover.
	subscriptionBuffer = 256

	maxReconnectInterval = 30 * time.Second
)

// Listener owns the dedicated LISTEN connection and fans raw notifications
// out to open subscriptions. One Listener per process.
type Listener struct {
	dsn     string
	fetch   RowFetcher
	logger  *slog.Logger
	mu      sync.RWMutex
	subs    map[string]*subscriber
	running bool
}

type subscriber struct {
	principal string
	ch        chan ChangeNotification
	sub       *Subscription
}

// NewListener creates a Listener that connects with the given DSN. fetch
// may be nil when oversized-row recovery is not needed (tests).
func NewListener(dsn string, fetch RowFetcher, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		dsn:    dsn,
		fetch:  fetch,
		logger: logger.With("component", "gateway.listener"),
		subs:   make(map[string]*subscriber),
	}
}

// Run maintains the LISTEN connection until ctx is cancelled, reconnecting
// with exponential backoff on connection loss.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxReconnectInterval

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := l.listenOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.GatewayReconnectsTotal.Inc()
		l.logger.Error("change feed connection lost", "error", err)

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxReconnectInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// listenOnce dials, LISTENs, and pumps notifications until the connection
// fails or ctx is cancelled.
func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	l.logger.Info("change feed established", "channel", changeChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, notification.Payload)
	}
}

// dispatch parses one raw payload and delivers it to matching subscribers.
// Malformed payloads are dropped and logged, never propagated.
func (l *Listener) dispatch(ctx context.Context, payload string) {
	var change ChangeNotification
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		l.logger.Warn("dropping malformed change payload", "error", err)
		return
	}
	if change.Collection == "" || change.Op == "" {
		l.logger.Warn("dropping change with missing collection or op")
		return
	}

	// Oversized rows are published without their body; re-read by key.
	if change.Row == nil && change.RowID != "" && l.fetch != nil {
		row, err := l.fetch(ctx, change.Collection, change.RowID)
		if err != nil {
			l.logger.Warn("dropping change, row re-read failed",
				"collection", change.Collection, "row_id", change.RowID, "error", err)
			return
		}
		change.Row = row
	}

	metrics.GatewayNotificationsTotal.WithLabelValues(change.Collection, string(change.Op)).Inc()

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, sub := range l.subs {
		if !change.Broadcast() && sub.principal != change.Principal {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			// Subscriber is backed up; its backstop poll covers the gap.
			metrics.GatewayDroppedTotal.Inc()
			l.logger.Warn("dropping change for slow subscriber", "principal", sub.principal)
		}
	}
}

// Subscribe opens a subscription scoped to the given principal.
func (l *Listener) Subscribe(ctx context.Context, principal string) (*Subscription, error) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil, ErrNotRunning
	}

	id := uuid.New().String()
	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan ChangeNotification, subscriptionBuffer)
	sub := NewSubscription(ch, cancel)
	l.subs[id] = &subscriber{principal: principal, ch: ch, sub: sub}
	l.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
		case <-sub.closed:
		}
		sub.Close()
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		close(ch)
	}()

	return sub, nil
}

// SubscriberCount returns the number of open subscriptions.
func (l *Listener) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
