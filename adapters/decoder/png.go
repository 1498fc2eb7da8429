package decoder

import (
	"context"
	"image/png"
	"io"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
)

// PNG decodes PNG images using the standard library.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanDecode(format core.Format) bool {
	return format == core.FormatPNG
}

func (p *PNG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}

	img, err := png.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "png.decode", err)
	}

	return &core.ImageData{
		Image:  img,
		Format: core.FormatPNG,
		Meta:   metadataOf(img, core.FormatPNG),
	}, nil
}

// Probe reads only the PNG header chunk.
func (p *PNG) Probe(ctx context.Context, r io.Reader) (core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryDecode, "png.probe", err)
	}
	cfg, err := png.DecodeConfig(r)
	if err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryDecode, "png.probe", err)
	}
	return core.Metadata{Width: cfg.Width, Height: cfg.Height, Format: core.FormatPNG}, nil
}
