package service

import (
	"context"
	"errors"
	"log"
	"time"

	"pulsebase-backend/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "realtime_messages"

// Listener is the notification bridge: a long-lived LISTEN connection
// that turns the store's commit-time notifications into dispatch work,
// plus a reconciliation sweep that picks up messages whose delivery
// counts were never written. The sweep runs on every (re)attach and on a
// timer, so a crash between commit and notification delivery cannot
// silently drop a message.
type Listener struct {
	pool       *pgxpool.Pool
	messages   *repository.MessageRepository
	dispatcher *Dispatcher

	interval time.Duration
	grace    time.Duration
}

func NewListener(pool *pgxpool.Pool, messages *repository.MessageRepository, dispatcher *Dispatcher, interval, grace time.Duration) *Listener {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Listener{
		pool:       pool,
		messages:   messages,
		dispatcher: dispatcher,
		interval:   interval,
		grace:      grace,
	}
}

// Run blocks until ctx is cancelled, reattaching with a delay after any
// listen failure.
func (l *Listener) Run(ctx context.Context) {
	go l.runSweeper(ctx)

	for {
		if err := l.listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[listen] connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	log.Printf("[listen] attached to %s", notifyChannel)

	// Catch up on anything committed while we were not listening.
	l.reconcile(ctx)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, notification.Payload)
	}
}

// handle loads the referenced message and enqueues it for dispatch.
func (l *Listener) handle(ctx context.Context, messageID string) {
	msg, err := l.messages.GetByID(ctx, messageID)
	if err != nil {
		log.Printf("[listen] load message %s: %v", messageID, err)
		return
	}
	l.dispatcher.Enqueue(msg)
}

func (l *Listener) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reconcile(ctx)
		}
	}
}

// reconcile re-enqueues messages with unset delivery counts older than
// the grace period. The count write is first-wins, so a message that was
// dispatched but not yet accounted is at worst delivered twice — fanout
// is at-most-once per dispatch, not per message lifetime.
func (l *Listener) reconcile(ctx context.Context) {
	cutoff := time.Now().Add(-l.grace)
	msgs, err := l.messages.ListUnaccounted(ctx, cutoff, 100)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("[listen] reconcile scan: %v", err)
		}
		return
	}
	if len(msgs) == 0 {
		return
	}

	log.Printf("[listen] reconciling %d unaccounted message(s)", len(msgs))
	for i := range msgs {
		l.dispatcher.Enqueue(&msgs[i])
	}
}
