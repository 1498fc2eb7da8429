package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
)

// Executor is the subset of *pgxpool.Pool the Postgres catalog needs.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// NewPool opens a pgx connection pool for the catalog.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// Postgres is a Catalog backed by the image_assets table.
type Postgres struct {
	db Executor
}

// NewPostgres constructs the catalog.
func NewPostgres(db Executor) *Postgres {
	return &Postgres{db: db}
}

const qCreateAssets = `
CREATE TABLE IF NOT EXISTS image_assets (
    id          TEXT PRIMARY KEY,
    bucket      TEXT NOT NULL,
    path        TEXT NOT NULL,
    format      TEXT NOT NULL,
    width       INTEGER NOT NULL,
    height      INTEGER NOT NULL,
    size_bytes  BIGINT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const qInsertAsset = `
INSERT INTO image_assets (id, bucket, path, format, width, height, size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING;`

const qSelectAsset = `
SELECT id, bucket, path, format, width, height, size_bytes, created_at
FROM image_assets
WHERE id = $1;`

const qDeleteAsset = `DELETE FROM image_assets WHERE id = $1;`

// EnsureSchema creates the image_assets table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, qCreateAssets); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "catalog.schema", err)
	}
	return nil
}

// Put inserts a. Assets are immutable, so a repeated id is ignored.
func (p *Postgres) Put(ctx context.Context, a Asset) error {
	_, err := p.db.Exec(ctx, qInsertAsset,
		a.ID, a.Key.Bucket, a.Key.Path, string(a.Format), a.Width, a.Height, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "catalog.put", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (Asset, error) {
	var (
		a      Asset
		format string
	)
	row := p.db.QueryRow(ctx, qSelectAsset, id)
	err := row.Scan(&a.ID, &a.Key.Bucket, &a.Key.Path, &format, &a.Width, &a.Height, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, notFound("catalog.get", id)
		}
		return Asset{}, apperrors.Wrap(apperrors.CategoryStorage, "catalog.get", err)
	}
	a.Format = core.Format(format)
	return a, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, qDeleteAsset, id); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "catalog.delete", err)
	}
	return nil
}

var _ Catalog = (*Postgres)(nil)
