// Package catalog records the immutable facts about each uploaded image so the
// session layer can resolve an image id to its stored original.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/utils"
)

// Asset is an uploaded original.  It never changes after creation.
type Asset struct {
	ID        string
	Key       core.StorageKey
	Format    core.Format
	Width     int
	Height    int
	SizeBytes int64
	CreatedAt time.Time
}

// Catalog stores and resolves assets.
type Catalog interface {
	Put(ctx context.Context, a Asset) error
	Get(ctx context.Context, id string) (Asset, error)
	Delete(ctx context.Context, id string) error
}

func notFound(op, id string) error {
	return apperrors.New(apperrors.CategoryNotFound, op, fmt.Errorf("%w: image %s", apperrors.ErrNotFound, id))
}

// Memory is a process-local Catalog, used when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{assets: make(map[string]Asset)}
}

func (m *Memory) Put(ctx context.Context, a Asset) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "catalog.put", err)
	}
	m.mu.Lock()
	m.assets[a.ID] = a
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, apperrors.Wrap(apperrors.CategoryStorage, "catalog.get", err)
	}
	m.mu.RLock()
	a, ok := m.assets[id]
	m.mu.RUnlock()
	if !ok {
		return Asset{}, notFound("catalog.get", id)
	}
	return a, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "catalog.delete", err)
	}
	m.mu.Lock()
	delete(m.assets, id)
	m.mu.Unlock()
	return nil
}

var _ Catalog = (*Memory)(nil)

// ReadOriginal resolves id and reads its stored original from store.
func ReadOriginal(ctx context.Context, c Catalog, store core.StorageAdapter, id string, maxBytes int64) (Asset, []byte, error) {
	a, err := c.Get(ctx, id)
	if err != nil {
		return Asset{}, nil, err
	}
	rc, err := store.Get(ctx, a.Key)
	if err != nil {
		return Asset{}, nil, err
	}
	defer rc.Close()

	data, err := utils.ReadAll(ctx, rc, maxBytes, 0)
	if err != nil {
		return Asset{}, nil, apperrors.Wrap(apperrors.CategoryStorage, "catalog.read_original", err)
	}
	return a, data, nil
}
