// Package persistence snapshots the monitor store to a durable backend and
// merges a stored snapshot back on reload.
package persistence

import (
	"sort"
	"time"

	"ladder_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Version of the snapshot format written by Encode.
const Version = 1

var (
	// ErrNoSnapshot means the backend holds no prior state.
	ErrNoSnapshot         = errors.New("no snapshot")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// Snapshot is the stored form of the store, keyed by "{symbol}_{side}_{account}".
type Snapshot struct {
	Version  int                                `json:"version"`
	SavedAt  time.Time                          `json:"saved_at"`
	Monitors map[string]*models.PositionMonitor `json:"monitors"`
}

func Encode(monitors []*models.PositionMonitor, savedAt time.Time) ([]byte, error) {
	snap := Snapshot{
		Version:  Version,
		SavedAt:  savedAt.UTC(),
		Monitors: make(map[string]*models.PositionMonitor, len(monitors)),
	}
	for _, m := range monitors {
		snap.Monitors[m.Key().String()] = m
	}
	b, err := sonic.Marshal(&snap)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return b, nil
}

// Decoded is a snapshot after key validation.
type Decoded struct {
	SavedAt  time.Time
	Monitors []*models.PositionMonitor
	// Rejected lists legacy, malformed or mismatching keys that were dropped.
	Rejected []string
}

// Decode parses a snapshot. Entries whose key lacks the account suffix or
// does not match the monitor it holds are rejected, not guessed.
func Decode(b []byte) (Decoded, error) {
	var snap Snapshot
	if err := sonic.Unmarshal(b, &snap); err != nil {
		return Decoded{}, errors.Wrap(err, "decode snapshot")
	}
	if snap.Version != Version {
		return Decoded{}, errors.Wrapf(ErrUnsupportedVersion, "version %d", snap.Version)
	}

	out := Decoded{SavedAt: snap.SavedAt}
	for raw, m := range snap.Monitors {
		key, err := models.ParseKey(raw)
		if err != nil || m == nil || m.Key() != key {
			out.Rejected = append(out.Rejected, raw)
			continue
		}
		out.Monitors = append(out.Monitors, m)
	}
	sort.Slice(out.Monitors, func(i, j int) bool {
		return out.Monitors[i].Key().String() < out.Monitors[j].Key().String()
	})
	sort.Strings(out.Rejected)
	return out, nil
}
