package persistence

import (
	"context"
	"sync"
	"time"

	"ladder_bot/internal/metrics"
	"ladder_bot/internal/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Layer saves store snapshots to a backend and merges them back on reload.
// Saves always work on a copy taken from the store, never write-through.
type Layer struct {
	backend  Backend
	store    *store.Store
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	savedVersion uint64
	saved        bool
}

func NewLayer(b Backend, st *store.Store, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Layer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Layer{
		backend:  b,
		store:    st,
		interval: interval,
		metrics:  m,
		log:      log.Named("persistence").With(zap.String("backend", b.Name())),
		now:      time.Now,
	}
}

// Save writes the current store content.
func (l *Layer) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(ctx)
}

func (l *Layer) saveLocked(ctx context.Context) error {
	version := l.store.Version()
	snap := l.store.Snapshot()

	data, err := Encode(snap, l.now())
	if err == nil {
		err = l.backend.Write(ctx, data, l.now())
	}
	l.metrics.Save(err)
	if err != nil {
		return errors.Wrap(err, "save snapshot")
	}

	l.savedVersion, l.saved = version, true
	l.log.Debug("snapshot saved", zap.Int("monitors", len(snap)), zap.Uint64("version", version))
	return nil
}

// Dirty reports whether the store changed since the last save.
func (l *Layer) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.saved || l.store.Version() != l.savedVersion
}

// Load reads and decodes the stored snapshot without touching the store.
func (l *Layer) Load(ctx context.Context) (Decoded, error) {
	data, err := l.backend.Read(ctx)
	if err != nil {
		return Decoded{}, err
	}
	dec, err := Decode(data)
	if err != nil {
		return Decoded{}, err
	}
	if len(dec.Rejected) > 0 {
		l.log.Warn("snapshot entries rejected", zap.Strings("keys", dec.Rejected))
	}
	return dec, nil
}

// Reload merges the stored snapshot into the store. Monitors already in
// memory win on conflict. Returns how many monitors were added.
func (l *Layer) Reload(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dec, err := l.Load(ctx)
	if err != nil {
		return 0, err
	}
	added := l.store.Merge(dec.Monitors)
	l.log.Info("snapshot merged",
		zap.Int("loaded", len(dec.Monitors)),
		zap.Int("added", added),
		zap.Int("rejected", len(dec.Rejected)),
		zap.Time("saved_at", dec.SavedAt),
	)
	return added, nil
}

// Restore is Reload for startup: a missing or corrupt snapshot is logged as
// no prior state and left to recovery.
func (l *Layer) Restore(ctx context.Context) int {
	added, err := l.Reload(ctx)
	switch {
	case err == nil:
		return added
	case errors.Is(err, ErrNoSnapshot):
		l.log.Info("no prior state")
	default:
		l.log.Warn("snapshot unusable, treating as no prior state", zap.Error(err))
	}
	return 0
}

// Run saves every interval when the store changed, and once more on stop.
func (l *Layer) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.final()
			return
		case <-ticker.C:
			if !l.Dirty() {
				continue
			}
			if err := l.Save(ctx); err != nil {
				l.log.Error("periodic save failed", zap.Error(err))
			}
		}
	}
}

func (l *Layer) final() {
	if !l.Dirty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.Save(ctx); err != nil {
		l.log.Error("final save failed", zap.Error(err))
		return
	}
	l.log.Info("final snapshot saved")
}
