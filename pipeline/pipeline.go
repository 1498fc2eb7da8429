package pipeline

import (
	"github.com/Skryldev/image-editor/core"
	"github.com/Skryldev/image-editor/params"
	xdraw "golang.org/x/image/draw"
)

// Planner arranges the pure-Go steps for an edit.  Order is fixed:
// decode, rotate, crop, modulate, linear, resize (preview only), encode.
// Adjustments at their neutral value are left out of the plan.
type Planner struct {
	Registry core.Registry
	// Resampler is used for the preview downscale.  Defaults to CatmullRom.
	Resampler xdraw.Interpolator
}

// NewPlanner returns a Planner bound to reg.
func NewPlanner(reg core.Registry) *Planner { return &Planner{Registry: reg} }

// Plan implements core.Planner.
func (pl *Planner) Plan(p params.Parameters, opts core.RenderOptions) []core.Step {
	steps := []core.Step{&DecodeStep{Registry: pl.Registry}}

	if p.Rotation != 0 {
		steps = append(steps, &RotateStep{Degrees: p.Rotation})
	}
	if c := p.Crop; c != nil {
		steps = append(steps, &CropStep{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height})
	}
	if p.NeedsModulate() {
		steps = append(steps, &ModulateStep{Brightness: p.Brightness, Saturation: p.Saturation})
	}
	if p.NeedsLinear() {
		steps = append(steps, &LinearStep{Gain: p.ContrastGain(), Bias: p.ContrastBias()})
	}
	return append(steps, Tail(opts, pl.Registry, &ResizeStep{MaxDimension: opts.MaxDimension, Resampler: pl.Resampler})...)
}

// Tail returns the format/quality/encode steps shared by every backend.  A
// preview gets resize prepended when MaxDimension is set.
func Tail(opts core.RenderOptions, reg core.Registry, resize core.Step) []core.Step {
	var steps []core.Step
	encode := &EncodeStep{Registry: reg}
	switch opts.Mode {
	case core.ModePreview:
		if opts.MaxDimension > 0 && resize != nil {
			steps = append(steps, resize)
		}
		steps = append(steps, &FormatStep{Format: core.FormatJPEG})
	case core.ModeFinal:
		if opts.Format == core.FormatJPEG || opts.Format == core.FormatPNG {
			steps = append(steps, &FormatStep{Format: opts.Format})
		}
		encode.BaseOptions.Lossless = true
	}
	if opts.Quality > 0 {
		steps = append(steps, &QualityStep{Quality: opts.Quality})
	}
	return append(steps, encode)
}
