package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/Skryldev/image-editor/adapters/decoder"
	"github.com/Skryldev/image-editor/adapters/encoder"
	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/params"
)

// gradient builds a w×h image whose pixel (x, y) has R=x, G=y so tests can
// track where each pixel ends up.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	return img
}

func decoded(img image.Image) *core.ImageData {
	b := img.Bounds()
	return &core.ImageData{Image: img, Format: core.FormatPNG, Meta: core.Metadata{Width: b.Dx(), Height: b.Dy()}}
}

func testRegistry() core.Registry {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(85))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	return reg
}

func TestRotateStep_QuarterTurns(t *testing.T) {
	src := gradient(4, 3)
	tests := []struct {
		deg        int
		w, h       int
		srcX, srcY int // source pixel expected at dst (0, 0)
	}{
		{90, 3, 4, 0, 2},
		{180, 4, 3, 3, 2},
		{270, 3, 4, 3, 0},
	}
	for _, tc := range tests {
		out, err := (&RotateStep{Degrees: tc.deg}).Execute(context.Background(), decoded(src))
		if err != nil {
			t.Fatalf("rotate %d: %v", tc.deg, err)
		}
		img := out.Image.(image.Image)
		if b := img.Bounds(); b.Dx() != tc.w || b.Dy() != tc.h {
			t.Fatalf("rotate %d: got %dx%d, want %dx%d", tc.deg, b.Dx(), b.Dy(), tc.w, tc.h)
		}
		got := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
		if int(got.R) != tc.srcX || int(got.G) != tc.srcY {
			t.Errorf("rotate %d: dst(0,0) came from (%d,%d), want (%d,%d)", tc.deg, got.R, got.G, tc.srcX, tc.srcY)
		}
	}
}

func TestRotateStep_FourQuarterTurnsIsIdentity(t *testing.T) {
	src := gradient(5, 7)
	cur := decoded(src)
	for i := 0; i < 4; i++ {
		var err error
		cur, err = (&RotateStep{Degrees: 90}).Execute(context.Background(), cur)
		if err != nil {
			t.Fatal(err)
		}
	}
	got := cur.Image.(*image.NRGBA)
	for i := range src.Pix {
		if got.Pix[i] != src.Pix[i] {
			t.Fatalf("pixel byte %d differs after four turns", i)
		}
	}
}

func TestRotateStep_ArbitraryExpandsCanvas(t *testing.T) {
	out, err := (&RotateStep{Degrees: 45}).Execute(context.Background(), decoded(gradient(100, 100)))
	if err != nil {
		t.Fatal(err)
	}
	b := out.Image.(image.Image).Bounds()
	if b.Dx() != 142 || b.Dy() != 142 {
		t.Fatalf("got %dx%d, want 142x142", b.Dx(), b.Dy())
	}
	if _, _, _, a := out.Image.(image.Image).At(0, 0).RGBA(); a != 0 {
		t.Errorf("corner should be transparent, alpha=%d", a)
	}
}

func TestCropStep(t *testing.T) {
	out, err := (&CropStep{X: 2, Y: 1, Width: 3, Height: 2}).Execute(context.Background(), decoded(gradient(10, 10)))
	if err != nil {
		t.Fatal(err)
	}
	img := out.Image.(*image.NRGBA)
	if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
		t.Fatalf("got %v", img.Bounds())
	}
	if c := img.NRGBAAt(0, 0); c.R != 2 || c.G != 1 {
		t.Errorf("origin pixel came from (%d,%d), want (2,1)", c.R, c.G)
	}

	_, err = (&CropStep{X: 8, Y: 0, Width: 5, Height: 5}).Execute(context.Background(), decoded(gradient(10, 10)))
	if !errors.Is(err, apperrors.ErrInvalidCropRegion) {
		t.Fatalf("expected ErrInvalidCropRegion, got %v", err)
	}
	if !apperrors.IsCategory(err, apperrors.CategoryValidation) {
		t.Errorf("expected validation category, got %v", apperrors.CategoryOf(err))
	}
}

func TestModulateStep(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	out, err := (&ModulateStep{Brightness: 1, Saturation: 0}).Execute(context.Background(), decoded(src))
	if err != nil {
		t.Fatal(err)
	}
	c := out.Image.(*image.NRGBA).NRGBAAt(0, 0)
	if c.R != c.G || c.G != c.B {
		t.Errorf("saturation 0 should be grey, got %v", c)
	}
	if c.A != 128 {
		t.Errorf("alpha changed: %d", c.A)
	}

	out, err = (&ModulateStep{Brightness: 0.5, Saturation: 1}).Execute(context.Background(), decoded(src))
	if err != nil {
		t.Fatal(err)
	}
	if c := out.Image.(*image.NRGBA).NRGBAAt(0, 0); c.R != 100 || c.G != 50 || c.B != 25 {
		t.Errorf("half brightness: got %v", c)
	}
	if got := src.NRGBAAt(0, 0); got.R != 200 {
		t.Error("modulate mutated its input")
	}
}

func TestLinearStep(t *testing.T) {
	p := params.Defaults()
	p.Contrast = 2
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	src.SetNRGBA(2, 0, color.NRGBA{R: 10, G: 10, B: 10, A: 255})

	out, err := (&LinearStep{Gain: p.ContrastGain(), Bias: p.ContrastBias()}).Execute(context.Background(), decoded(src))
	if err != nil {
		t.Fatal(err)
	}
	img := out.Image.(*image.NRGBA)
	want := []uint8{128, 255, 0}
	for x, w := range want {
		if got := img.NRGBAAt(x, 0).R; got != w {
			t.Errorf("pixel %d: got %d, want %d", x, got, w)
		}
	}
}

func TestResizeStep_NeverUpscales(t *testing.T) {
	in := decoded(gradient(100, 50))
	out, err := (&ResizeStep{MaxDimension: 800}).Execute(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Error("small image should pass through untouched")
	}

	out, err = (&ResizeStep{MaxDimension: 40}).Execute(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Meta.Width != 40 || out.Meta.Height != 20 {
		t.Errorf("got %dx%d, want 40x20", out.Meta.Width, out.Meta.Height)
	}
}

func TestPlanner_OrderAndNeutralSkips(t *testing.T) {
	pl := NewPlanner(testRegistry())
	names := func(steps []core.Step) []string {
		var out []string
		for _, s := range steps {
			out = append(out, s.Name())
		}
		return out
	}
	equal := func(a, b []string) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	preview := core.RenderOptions{Mode: core.ModePreview, MaxDimension: 800, Quality: 60}
	got := names(pl.Plan(params.Defaults(), preview))
	want := []string{"decode", "resize", "format", "quality", "encode"}
	if !equal(got, want) {
		t.Errorf("neutral preview: got %v, want %v", got, want)
	}

	p := params.Parameters{Brightness: 1.2, Contrast: 0.8, Saturation: 1, Rotation: 90,
		Crop: &params.CropRegion{Width: 10, Height: 10}}
	final := core.RenderOptions{Mode: core.ModeFinal, Format: core.FormatPNG, Quality: 100}
	got = names(pl.Plan(p, final))
	want = []string{"decode", "rotate", "crop", "modulate", "linear", "format", "quality", "encode"}
	if !equal(got, want) {
		t.Errorf("final: got %v, want %v", got, want)
	}
}
