// Package intake accepts uploaded originals: it checks the declared and
// sniffed type, records the asset and renders its first preview.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/catalog"
	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/preview"
	"github.com/Skryldev/image-editor/utils"
)

// ErrInvalidType is returned for anything other than JPEG or PNG.
var ErrInvalidType = errors.New("invalid file type, only JPEG and PNG are allowed")

// Upload is one incoming file.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Result describes an accepted upload.
type Result struct {
	Asset      catalog.Asset
	PreviewURL string
}

// Service accepts uploads.
type Service struct {
	editor   *imageeditor.Processor
	store    core.StorageAdapter
	catalog  catalog.Catalog
	previews *preview.Service
	maxBytes int64
	log      zerolog.Logger

	newID func() string
	now   func() time.Time
}

// New creates a Service.  maxBytes bounds a single upload; 0 disables the
// limit.
func New(editor *imageeditor.Processor, store core.StorageAdapter, cat catalog.Catalog, previews *preview.Service, maxBytes int64, log zerolog.Logger) *Service {
	return &Service{
		editor:   editor,
		store:    store,
		catalog:  cat,
		previews: previews,
		maxBytes: maxBytes,
		log:      log,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Accept validates u, stores it as a new asset and renders the initial
// preview.  Nothing is left behind when any step fails.
func (s *Service) Accept(ctx context.Context, u Upload) (Result, error) {
	const op = "intake.accept"

	declared := declaredFormat(u.ContentType)
	if declared == core.FormatUnknown {
		return Result{}, apperrors.Validation(op, ErrInvalidType)
	}

	data, err := utils.ReadAll(ctx, u.Body, s.maxBytes, 0)
	if err != nil {
		if errors.Is(err, utils.ErrTooLarge) {
			return Result{}, apperrors.Validation(op, fmt.Errorf("upload exceeds %d bytes", s.maxBytes))
		}
		return Result{}, apperrors.Wrap(apperrors.CategoryStorage, op, err)
	}
	if len(data) == 0 {
		return Result{}, apperrors.Validation(op, apperrors.ErrEmptyInput)
	}
	if sniffed := core.Format(utils.DetectFormat(data)); sniffed != declared {
		return Result{}, apperrors.Validation(op, fmt.Errorf("%w: declared %s, content is %s", ErrInvalidType, declared, sniffed))
	}

	meta, err := s.editor.Probe(ctx, data)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}

	id := s.newID()
	a := catalog.Asset{
		ID:        id,
		Key:       core.StorageKey{Bucket: core.BucketOriginal, Path: id + "." + declared.Extension()},
		Format:    declared,
		Width:     meta.Width,
		Height:    meta.Height,
		SizeBytes: int64(len(data)),
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.Put(ctx, a.Key, bytes.NewReader(data), map[string]string{
		"content-type":  declared.ContentType(),
		"original-name": u.Filename,
	}); err != nil {
		return Result{}, err
	}
	if err := s.catalog.Put(ctx, a); err != nil {
		s.cleanup(a)
		return Result{}, err
	}

	url, err := s.previews.Initial(ctx, a, data)
	if err != nil {
		s.cleanup(a)
		return Result{}, err
	}

	s.log.Info().
		Str("image_id", id).
		Str("format", string(a.Format)).
		Int("width", a.Width).
		Int("height", a.Height).
		Int64("bytes", a.SizeBytes).
		Msg("intake.accepted")
	return Result{Asset: a, PreviewURL: url}, nil
}

func (s *Service) cleanup(a catalog.Asset) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, a.Key); err != nil {
		s.log.Warn().Err(err).Str("image_id", a.ID).Msg("intake.cleanup.original")
	}
	if err := s.catalog.Delete(ctx, a.ID); err != nil {
		s.log.Warn().Err(err).Str("image_id", a.ID).Msg("intake.cleanup.catalog")
	}
}

func declaredFormat(contentType string) core.Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return core.FormatUnknown
	}
	switch strings.ToLower(mt) {
	case "image/jpeg", "image/jpg":
		return core.FormatJPEG
	case "image/png":
		return core.FormatPNG
	}
	return core.FormatUnknown
}
