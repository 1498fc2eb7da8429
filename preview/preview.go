// Package preview renders preview artifacts for the session controller and
// publishes them under cache-busted URLs.
package preview

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/catalog"
	"github.com/Skryldev/image-editor/core"
	"github.com/Skryldev/image-editor/params"
	"github.com/Skryldev/image-editor/session"
)

// Service renders, stores and addresses previews.  It implements
// session.Renderer.
type Service struct {
	editor   *imageeditor.Processor
	store    core.StorageAdapter
	catalog  catalog.Catalog
	baseURL  string
	maxBytes int64
	log      zerolog.Logger
}

// New creates a Service.  baseURL prefixes every preview URL and may be empty
// for host-relative URLs.
func New(editor *imageeditor.Processor, store core.StorageAdapter, cat catalog.Catalog, baseURL string, maxBytes int64, log zerolog.Logger) *Service {
	return &Service{
		editor:   editor,
		store:    store,
		catalog:  cat,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		log:      log,
	}
}

// Key is where the preview for imageID is stored.
func Key(imageID string) core.StorageKey {
	return core.StorageKey{Bucket: core.BucketPreview, Path: imageID + ".jpg"}
}

// URL addresses a preview.  The v parameter combines a content hash with the
// run generation so every regeneration is distinct.
func (s *Service) URL(imageID string, data []byte, generation uint64) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s/api/images/preview/%s?v=%s-%d", s.baseURL, imageID, hex.EncodeToString(sum[:6]), generation)
}

// Render runs a Preview-mode pipeline for job and stores the result.
func (s *Service) Render(ctx context.Context, job session.Job) (session.Artifact, error) {
	src := job.Source
	if src == nil {
		_, data, err := catalog.ReadOriginal(ctx, s.catalog, s.store, job.ImageID, s.maxBytes)
		if err != nil {
			return session.Artifact{}, err
		}
		src = data
	}

	jobID := fmt.Sprintf("preview-%s-%d", job.ImageID, job.Generation)
	res, err := s.editor.Enqueue(ctx, jobID, src, job.Params, s.editor.PreviewOptions())
	if err != nil {
		return session.Artifact{}, err
	}
	// An abandoned run must not overwrite a newer preview.
	if err := ctx.Err(); err != nil {
		return session.Artifact{}, err
	}

	data := res.Primary.Data
	if err := s.store.Put(ctx, Key(job.ImageID), bytes.NewReader(data), map[string]string{
		"content-type": core.FormatJPEG.ContentType(),
	}); err != nil {
		return session.Artifact{}, err
	}

	s.log.Debug().
		Str("image_id", job.ImageID).
		Uint64("generation", job.Generation).
		Int("bytes", len(data)).
		Dur("render", res.ProcessingTime).
		Msg("preview.rendered")
	return session.Artifact{URL: s.URL(job.ImageID, data, job.Generation)}, nil
}

// Dimensions reports the width and height the pipeline would start from.
func (s *Service) Dimensions(ctx context.Context, imageID string, source []byte) (int, int, error) {
	if source != nil {
		meta, err := s.editor.Probe(ctx, source)
		if err != nil {
			return 0, 0, err
		}
		return meta.Width, meta.Height, nil
	}
	a, err := s.catalog.Get(ctx, imageID)
	if err != nil {
		return 0, 0, err
	}
	return a.Width, a.Height, nil
}

// Initial renders the neutral preview for a freshly uploaded asset and
// returns its URL.
func (s *Service) Initial(ctx context.Context, a catalog.Asset, src []byte) (string, error) {
	res, err := s.editor.Enqueue(ctx, "preview-"+a.ID+"-0", src, params.Defaults(), s.editor.PreviewOptions())
	if err != nil {
		return "", err
	}
	data := res.Primary.Data
	if err := s.store.Put(ctx, Key(a.ID), bytes.NewReader(data), map[string]string{
		"content-type": core.FormatJPEG.ContentType(),
	}); err != nil {
		return "", err
	}
	return s.URL(a.ID, data, 0), nil
}

// Open streams the current preview for imageID.
func (s *Service) Open(ctx context.Context, imageID string) (io.ReadCloser, error) {
	return s.store.Get(ctx, Key(imageID))
}

var _ session.Renderer = (*Service)(nil)
