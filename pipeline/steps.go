// Package pipeline provides the pure-Go edit steps and the planner that
// arranges them into the fixed edit order.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/params"
	"github.com/Skryldev/image-editor/utils"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	dec, ok := s.Registry.DecoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, s.Name(), err)
	}

	// Preserve the raw data bytes alongside the decoded representation.
	decoded.Data = img.Data
	decoded.OriginalSize = img.OriginalSize
	return decoded, nil
}

// ── Rotate ────────────────────────────────────────────────────────────────────

// RotateStep rotates the image clockwise by Degrees.  Quarter turns move
// pixels without resampling; any other angle grows the canvas to the rotated
// bounding box and leaves the uncovered corners transparent.
type RotateStep struct {
	Degrees int
	// Resampler is used for non-quarter angles.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *RotateStep) Name() string { return "rotate" }

func (s *RotateStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	deg := params.NormalizeRotation(s.Degrees)
	if deg == 0 {
		return img, nil
	}
	src, err := decodedImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	var dst image.Image
	switch deg {
	case 90, 180, 270:
		dst = rotateQuarter(toNRGBA(src), deg)
	default:
		dst = s.rotateArbitrary(src, deg)
	}

	b := dst.Bounds()
	out := *img
	out.Image = dst
	out.Meta.Width = b.Dx()
	out.Meta.Height = b.Dy()
	if deg%90 != 0 {
		out.Meta.HasAlpha = true
	}
	return &out, nil
}

// rotateQuarter permutes pixels of src for a clockwise turn of 90, 180 or 270
// degrees.
func rotateQuarter(src *image.NRGBA, deg int) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dw, dh := utils.RotatedBounds(w, h, deg)
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			var dx, dy int
			switch deg {
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			default: // 270
				dx, dy = y, w-1-x
			}
			copy(dst.Pix[dy*dst.Stride+dx*4:dy*dst.Stride+dx*4+4], row[x*4:x*4+4])
		}
	}
	return dst
}

func (s *RotateStep) rotateArbitrary(src image.Image, deg int) *image.RGBA {
	sb := src.Bounds()
	dw, dh := utils.RotatedBounds(sb.Dx(), sb.Dy(), deg)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	rad := float64(deg) * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	scx := float64(sb.Min.X) + float64(sb.Dx())/2
	scy := float64(sb.Min.Y) + float64(sb.Dy())/2
	dcx, dcy := float64(dw)/2, float64(dh)/2

	// Source-to-destination transform: rotate about the source centre, then
	// move that centre onto the destination centre (y grows downwards, so a
	// positive angle turns clockwise on screen).
	s2d := f64.Aff3{
		cos, -sin, dcx - (cos*scx - sin*scy),
		sin, cos, dcy - (sin*scx + cos*scy),
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}
	sampler.Transform(dst, s2d, src, sb, xdraw.Over, nil)
	return dst
}

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep crops a rectangle from the image.  Coordinates address the image
// as it looks when the step runs, so after rotation they refer to the rotated
// frame.
type CropStep struct {
	X, Y, Width, Height int
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := decodedImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height).Add(b.Min)
	if s.Width <= 0 || s.Height <= 0 || s.X < 0 || s.Y < 0 || !rect.In(b) {
		return nil, apperrors.Validation(s.Name(),
			fmt.Errorf("%w: %dx%d at %d,%d exceeds %dx%d", apperrors.ErrInvalidCropRegion,
				s.Width, s.Height, s.X, s.Y, b.Dx(), b.Dy()))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	out := *img
	out.Image = dst
	out.Meta.Width = s.Width
	out.Meta.Height = s.Height
	return &out, nil
}

// ── Modulate ──────────────────────────────────────────────────────────────────

// ModulateStep scales brightness and saturation.  Saturation interpolates each
// channel away from (or towards) the pixel's Rec. 709 luma; brightness then
// multiplies the result.  Alpha is left untouched.
type ModulateStep struct {
	Brightness float64
	Saturation float64
}

func (s *ModulateStep) Name() string { return "modulate" }

func (s *ModulateStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := decodedImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	dst := cloneNRGBA(src)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		r, g, b := float64(dst.Pix[i]), float64(dst.Pix[i+1]), float64(dst.Pix[i+2])
		luma := 0.2126*r + 0.7152*g + 0.0722*b
		dst.Pix[i] = clamp8((luma + (r-luma)*s.Saturation) * s.Brightness)
		dst.Pix[i+1] = clamp8((luma + (g-luma)*s.Saturation) * s.Brightness)
		dst.Pix[i+2] = clamp8((luma + (b-luma)*s.Saturation) * s.Brightness)
	}

	out := *img
	out.Image = dst
	return &out, nil
}

// ── Linear ────────────────────────────────────────────────────────────────────

// LinearStep applies out = Gain*in + Bias to every colour channel.
type LinearStep struct {
	Gain float64
	Bias float64
}

func (s *LinearStep) Name() string { return "linear" }

func (s *LinearStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := decodedImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	var lut [256]uint8
	for v := range lut {
		lut[v] = clamp8(s.Gain*float64(v) + s.Bias)
	}

	dst := cloneNRGBA(src)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		dst.Pix[i] = lut[dst.Pix[i]]
		dst.Pix[i+1] = lut[dst.Pix[i+1]]
		dst.Pix[i+2] = lut[dst.Pix[i+2]]
	}

	out := *img
	out.Image = dst
	return &out, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep shrinks the image so neither side exceeds MaxDimension,
// preserving aspect ratio.  Smaller images pass through untouched.
type ResizeStep struct {
	MaxDimension int
	// Resampler controls quality vs speed.  Defaults to draw.CatmullRom.
	Resampler xdraw.Interpolator
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := decodedImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	srcB := src.Bounds()
	dstW, dstH := utils.FitWithin(srcB.Dx(), srcB.Dy(), s.MaxDimension)
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.CatmullRom
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)

	out := *img
	out.Image = dst
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	return &out, nil
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep converts the image to a new format (sets img.Format for the
// subsequent encode step to pick up).
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Quality ───────────────────────────────────────────────────────────────────

// QualityStep records the desired encode quality.  The actual quality is
// consumed by EncodeStep.
type QualityStep struct {
	Quality int
}

func (s *QualityStep) Name() string { return "quality" }

func (s *QualityStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Quality = s.Quality
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the image.Image into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	opts := s.BaseOptions
	if img.Quality > 0 {
		opts.Quality = img.Quality
	}

	data, err := enc.Encode(ctx, img, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}

	out := *img
	out.Data = data
	out.Meta.Format = img.Format
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func decodedImage(op string, img *core.ImageData) (image.Image, error) {
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, op, apperrors.ErrEmptyInput)
	}
	return src, nil
}

// toNRGBA returns src as a zero-origin *image.NRGBA, converting when needed.
// The result may share pixels with src.
func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return cloneNRGBA(src)
}

// cloneNRGBA always returns a fresh buffer so steps never mutate their input.
func cloneNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
