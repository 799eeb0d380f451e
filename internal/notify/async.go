package notify

import (
	"context"
	"time"

	"ladder_bot/internal/models"

	"go.uber.org/zap"
)

type message struct {
	account models.Account
	text    string
}

// Async queues messages for a background sender. A full queue drops the
// message instead of blocking the caller.
type Async struct {
	next    Notifier
	queue   chan message
	timeout time.Duration
	log     *zap.Logger
}

func NewAsync(next Notifier, size int, log *zap.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	return &Async{
		next:    next,
		queue:   make(chan message, size),
		timeout: 10 * time.Second,
		log:     log.Named("notify_async"),
	}
}

func (a *Async) Notify(_ context.Context, account models.Account, msg string) error {
	select {
	case a.queue <- message{account: account, text: msg}:
	default:
		a.log.Warn("notification dropped, queue full", zap.String("account", string(account)))
	}
	return nil
}

// Run sends queued messages until ctx is done.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.queue:
			sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.next.Notify(sendCtx, m.account, m.text); err != nil {
				a.log.Warn("notification failed", zap.String("account", string(m.account)), zap.Error(err))
			}
			cancel()
		}
	}
}
