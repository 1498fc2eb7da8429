// Package export produces full-quality, download-once artifacts.  It does not
// touch session state.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/catalog"
	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/params"
)

// Request is one export.
type Request struct {
	ImageID string
	Params  params.Parameters
	// Format is "jpeg", "jpg" or "png"; empty keeps the original format.
	Format string
	// CropSource replaces the stored original when set.
	CropSource []byte
}

// Artifact is a stored export awaiting download.
type Artifact struct {
	Key      core.StorageKey
	Format   core.Format
	Filename string
	Size     int64
}

// ContentType is the MIME type of the artifact.
func (a Artifact) ContentType() string { return a.Format.ContentType() }

// Service renders exports.
type Service struct {
	editor   *imageeditor.Processor
	store    core.StorageAdapter
	catalog  catalog.Catalog
	maxBytes int64
	log      zerolog.Logger
	newNonce func() string
}

// New creates a Service.
func New(editor *imageeditor.Processor, store core.StorageAdapter, cat catalog.Catalog, maxBytes int64, log zerolog.Logger) *Service {
	return &Service{
		editor:   editor,
		store:    store,
		catalog:  cat,
		maxBytes: maxBytes,
		log:      log,
		newNonce: uuid.NewString,
	}
}

// Finalize renders req in Final mode and stores the artifact under
// final/<id>-<nonce>.<ext>.
func (s *Service) Finalize(ctx context.Context, req Request) (Artifact, error) {
	const op = "export.finalize"

	var (
		asset catalog.Asset
		src   []byte
		err   error
	)
	if req.CropSource != nil {
		if asset, err = s.catalog.Get(ctx, req.ImageID); err != nil {
			return Artifact{}, err
		}
		src = req.CropSource
	} else {
		if asset, src, err = catalog.ReadOriginal(ctx, s.catalog, s.store, req.ImageID, s.maxBytes); err != nil {
			return Artifact{}, err
		}
	}

	format, name := asset.Format, asset.Format.Extension()
	if requested := strings.ToLower(strings.TrimSpace(req.Format)); requested != "" {
		format = core.ParseFormat(requested)
		if format == core.FormatUnknown {
			return Artifact{}, apperrors.Validation(op, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, req.Format))
		}
		// The download keeps the extension the client asked for.
		name = requested
	}

	w, h := asset.Width, asset.Height
	if req.CropSource != nil {
		meta, err := s.editor.Probe(ctx, src)
		if err != nil {
			return Artifact{}, err
		}
		w, h = meta.Width, meta.Height
	}
	if err := params.ValidateCrop(req.Params, w, h); err != nil {
		return Artifact{}, err
	}

	res, err := s.editor.Enqueue(ctx, "final-"+req.ImageID, src, req.Params, s.editor.FinalOptions(format))
	if err != nil {
		return Artifact{}, err
	}
	data := res.Primary.Data

	a := Artifact{
		Key:      core.StorageKey{Bucket: core.BucketFinal, Path: fmt.Sprintf("%s-%s.%s", req.ImageID, s.newNonce(), format.Extension())},
		Format:   format,
		Filename: "processed_image." + name,
		Size:     int64(len(data)),
	}
	if err := s.store.Put(ctx, a.Key, bytes.NewReader(data), map[string]string{
		"content-type": format.ContentType(),
	}); err != nil {
		return Artifact{}, err
	}

	s.log.Info().
		Str("image_id", req.ImageID).
		Str("format", string(format)).
		Int64("bytes", a.Size).
		Dur("render", res.ProcessingTime).
		Msg("export.finalized")
	return a, nil
}

// Open streams a stored artifact.
func (s *Service) Open(ctx context.Context, a Artifact) (io.ReadCloser, error) {
	return s.store.Get(ctx, a.Key)
}

// Discard deletes a stored artifact once it has been transmitted.
func (s *Service) Discard(ctx context.Context, a Artifact) error {
	if err := s.store.Delete(ctx, a.Key); err != nil {
		s.log.Warn().Err(err).Str("key", a.Key.String()).Msg("export.discard")
		return err
	}
	return nil
}
