// Package notify delivers operator messages. Delivery is best effort: callers
// never wait on it and never fail because of it.
package notify

import (
	"context"
	"fmt"

	"ladder_bot/internal/models"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, account models.Account, msg string) error
}

// Notifyf formats and sends through n, ignoring the result.
func Notifyf(ctx context.Context, n Notifier, account models.Account, format string, args ...any) {
	if n == nil {
		return
	}
	_ = n.Notify(ctx, account, fmt.Sprintf(format, args...))
}

// Stdout: fallback when no Telegram token is configured; writes to the log.
type Stdout struct {
	log *zap.Logger
}

func NewStdout(log *zap.Logger) *Stdout {
	return &Stdout{log: log.Named("notify")}
}

func (s *Stdout) Notify(_ context.Context, account models.Account, msg string) error {
	s.log.Info(msg, zap.String("account", string(account)))
	return nil
}

// Nop drops everything.
type Nop struct{}

func (Nop) Notify(context.Context, models.Account, string) error { return nil }
