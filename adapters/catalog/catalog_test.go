package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type execCall struct {
	query string
	args  []any
}

type fakeExecutor struct {
	execs   []execCall
	row     simpleRow
	execErr error
}

func (f *fakeExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeExecutor) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

func sampleAsset() Asset {
	return Asset{
		ID:        "3f6c1f0e-6a43-4b7e-9d0c-1b2a3c4d5e6f",
		Key:       core.StorageKey{Bucket: core.BucketOriginal, Path: "3f6c1f0e-6a43-4b7e-9d0c-1b2a3c4d5e6f.png"},
		Format:    core.FormatPNG,
		Width:     1000,
		Height:    800,
		SizeBytes: 4096,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	a := sampleAsset()

	if _, err := c.Get(ctx, a.ID); !apperrors.IsCategory(err, apperrors.CategoryNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if err := c.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != a {
		t.Fatalf("Get: got %+v want %+v", got, a)
	}
	if err := c.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, a.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPostgresPut(t *testing.T) {
	db := &fakeExecutor{}
	c := NewPostgres(db)
	a := sampleAsset()

	if err := c.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := c.Put(context.Background(), a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(db.execs) != 2 {
		t.Fatalf("expected 2 exec calls, got %d", len(db.execs))
	}
	if !strings.Contains(db.execs[0].query, "CREATE TABLE IF NOT EXISTS image_assets") {
		t.Errorf("unexpected schema query: %s", db.execs[0].query)
	}
	insert := db.execs[1]
	if len(insert.args) != 8 || insert.args[0] != a.ID || insert.args[3] != "png" || insert.args[4] != 1000 {
		t.Errorf("unexpected insert args: %#v", insert.args)
	}
}

func TestPostgresGet(t *testing.T) {
	a := sampleAsset()
	db := &fakeExecutor{row: simpleRow{scan: func(dest ...any) error {
		*dest[0].(*string) = a.ID
		*dest[1].(*string) = a.Key.Bucket
		*dest[2].(*string) = a.Key.Path
		*dest[3].(*string) = string(a.Format)
		*dest[4].(*int) = a.Width
		*dest[5].(*int) = a.Height
		*dest[6].(*int64) = a.SizeBytes
		*dest[7].(*time.Time) = a.CreatedAt
		return nil
	}}}

	got, err := NewPostgres(db).Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != a {
		t.Fatalf("Get: got %+v want %+v", got, a)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	_, err := NewPostgres(&fakeExecutor{}).Get(context.Background(), "missing")
	if !apperrors.IsCategory(err, apperrors.CategoryNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestPostgresExecError(t *testing.T) {
	db := &fakeExecutor{execErr: errors.New("connection refused")}
	if err := NewPostgres(db).Put(context.Background(), sampleAsset()); !apperrors.IsCategory(err, apperrors.CategoryStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
