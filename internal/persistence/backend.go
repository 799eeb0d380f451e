package persistence

import (
	"context"
	"time"
)

// Backend stores one encoded snapshot. Read returns ErrNoSnapshot when
// nothing was saved yet.
type Backend interface {
	Name() string
	Write(ctx context.Context, data []byte, savedAt time.Time) error
	Read(ctx context.Context) ([]byte, error)
}
