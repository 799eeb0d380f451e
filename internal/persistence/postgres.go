package persistence

import (
	"context"
	"time"

	"ladder_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS monitor_snapshots (
    name       TEXT PRIMARY KEY,
    version    INT         NOT NULL,
    saved_at   TIMESTAMPTZ NOT NULL,
    payload    JSONB       NOT NULL
)`

	upsertSnapshot = `
INSERT INTO monitor_snapshots (name, version, saved_at, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE
SET version = EXCLUDED.version, saved_at = EXCLUDED.saved_at, payload = EXCLUDED.payload`

	selectSnapshot = `SELECT payload FROM monitor_snapshots WHERE name = $1`
)

// Postgres keeps the snapshot as one row of monitor_snapshots.
type Postgres struct {
	db   db.TxManager
	name string
}

func NewPostgres(tx db.TxManager, name string) *Postgres {
	if name == "" {
		name = "default"
	}
	return &Postgres{db: tx, name: name}
}

func (p *Postgres) Name() string { return "postgres" }

// Migrate creates the snapshot table when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Conn().Exec(ctx, createSnapshotsTable)
	return errors.Wrap(err, "create monitor_snapshots")
}

func (p *Postgres) Write(ctx context.Context, data []byte, savedAt time.Time) error {
	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertSnapshot, p.name, Version, savedAt, string(data))
		return errors.Wrap(err, "upsert snapshot")
	})
}

func (p *Postgres) Read(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := p.db.Conn().QueryRow(ctx, selectSnapshot, p.name).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, errors.Wrap(err, "select snapshot")
	}
	return payload, nil
}
