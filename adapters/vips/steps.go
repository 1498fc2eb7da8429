//go:build vips

package vips

import (
	"context"
	"fmt"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/params"
	"github.com/Skryldev/image-editor/pipeline"
	"github.com/Skryldev/image-editor/utils"
)

// Planner arranges libvips steps in the same order as the pure-Go planner.
// Format, quality and encode are shared; the encoder comes from the registry,
// so RegisterVipsBackend must run first.
type Planner struct {
	Registry core.Registry
}

// NewPlanner returns a Planner bound to reg.
func NewPlanner(reg core.Registry) *Planner { return &Planner{Registry: reg} }

// Plan implements core.Planner.
func (pl *Planner) Plan(p params.Parameters, opts core.RenderOptions) []core.Step {
	steps := []core.Step{&pipeline.DecodeStep{Registry: pl.Registry}}
	if p.Rotation != 0 {
		steps = append(steps, &VipsRotateStep{Degrees: p.Rotation})
	}
	if c := p.Crop; c != nil {
		steps = append(steps, &VipsCropStep{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height})
	}
	if p.NeedsModulate() {
		steps = append(steps, &VipsModulateStep{Brightness: p.Brightness, Saturation: p.Saturation})
	}
	if p.NeedsLinear() {
		steps = append(steps, &VipsLinearStep{Gain: p.ContrastGain(), Bias: p.ContrastBias()})
	}
	return append(steps, pipeline.Tail(opts, pl.Registry, &VipsResizeStep{MaxDimension: opts.MaxDimension})...)
}

// ─── VipsRotateStep ───────────────────────────────────────────────────────────

// VipsRotateStep rotates clockwise.  Quarter turns use vips_rot; other angles
// use vips_similarity on an alpha-carrying copy so the new corners are
// transparent.
type VipsRotateStep struct {
	Degrees int
}

func (s *VipsRotateStep) Name() string { return "vips.rotate" }

func (s *VipsRotateStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsImage(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	deg := params.NormalizeRotation(s.Degrees)
	switch deg {
	case 0:
		return img, nil
	case 90:
		err = vi.ref.Rotate(govips.Angle90)
	case 180:
		err = vi.ref.Rotate(govips.Angle180)
	case 270:
		err = vi.ref.Rotate(govips.Angle270)
	default:
		if !vi.ref.HasAlpha() {
			if err = vi.ref.AddAlpha(); err != nil {
				break
			}
		}
		err = vi.ref.Similarity(1, float64(deg), &govips.ColorRGBA{}, 0, 0, 0, 0)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	return resized(img, vi), nil
}

// ─── VipsCropStep ─────────────────────────────────────────────────────────────

// VipsCropStep extracts a rectangle addressed in the current (rotated) frame.
type VipsCropStep struct {
	X, Y, Width, Height int
}

func (s *VipsCropStep) Name() string { return "vips.crop" }

func (s *VipsCropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsImage(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	w, h := vi.ref.Width(), vi.ref.Height()
	if s.Width <= 0 || s.Height <= 0 || s.X < 0 || s.Y < 0 || s.X+s.Width > w || s.Y+s.Height > h {
		return nil, apperrors.Validation(s.Name(),
			fmt.Errorf("%w: %dx%d at %d,%d exceeds %dx%d", apperrors.ErrInvalidCropRegion,
				s.Width, s.Height, s.X, s.Y, w, h))
	}
	if err := vi.ref.ExtractArea(s.X, s.Y, s.Width, s.Height); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	return resized(img, vi), nil
}

// ─── VipsModulateStep ─────────────────────────────────────────────────────────

// VipsModulateStep scales lightness and chroma in LCh space.
type VipsModulateStep struct {
	Brightness float64
	Saturation float64
}

func (s *VipsModulateStep) Name() string { return "vips.modulate" }

func (s *VipsModulateStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsImage(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	if err := vi.ref.Modulate(s.Brightness, s.Saturation, 0); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	return img, nil
}

// ─── VipsLinearStep ───────────────────────────────────────────────────────────

// VipsLinearStep applies out = Gain*in + Bias to colour bands; alpha is kept.
type VipsLinearStep struct {
	Gain float64
	Bias float64
}

func (s *VipsLinearStep) Name() string { return "vips.linear" }

func (s *VipsLinearStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsImage(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	bands := vi.ref.Bands()
	gains := make([]float64, bands)
	biases := make([]float64, bands)
	for i := range gains {
		gains[i], biases[i] = s.Gain, s.Bias
	}
	if vi.ref.HasAlpha() {
		gains[bands-1], biases[bands-1] = 1, 0
	}
	if err := vi.ref.Linear(gains, biases); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	return img, nil
}

// ─── VipsResizeStep ───────────────────────────────────────────────────────────

// VipsResizeStep shrinks to fit MaxDimension using vips_resize() with the
// Lanczos3 kernel.  It never upscales.
type VipsResizeStep struct {
	MaxDimension int
}

func (s *VipsResizeStep) Name() string { return "vips.resize" }

func (s *VipsResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsImage(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	srcW, srcH := vi.ref.Width(), vi.ref.Height()
	dstW, dstH := utils.FitWithin(srcW, srcH, s.MaxDimension)
	if dstW == srcW && dstH == srcH {
		return img, nil
	}
	scale := float64(dstW) / float64(srcW)
	if err := vi.ref.Resize(scale, govips.KernelLanczos3); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	return resized(img, vi), nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsImage(ctx context.Context, op string, img *core.ImageData) (*VipsImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, op, err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, op,
			fmt.Errorf("expected *VipsImage; use vips backend for decode"))
	}
	return vi, nil
}

func resized(img *core.ImageData, vi *VipsImage) *core.ImageData {
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	out.Meta.HasAlpha = vi.ref.HasAlpha()
	return &out
}

var (
	_ core.Planner = (*Planner)(nil)
	_ core.Step    = (*VipsRotateStep)(nil)
	_ core.Step    = (*VipsCropStep)(nil)
	_ core.Step    = (*VipsModulateStep)(nil)
	_ core.Step    = (*VipsLinearStep)(nil)
	_ core.Step    = (*VipsResizeStep)(nil)
)
