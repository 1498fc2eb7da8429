// Package params defines the edit parameter model: the canonical shape of an
// edit request and the rules that turn client input into it.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/utils"
)

// Neutral values for every adjustment.
const (
	DefaultBrightness = 1.0
	DefaultContrast   = 1.0
	DefaultSaturation = 1.0
	DefaultRotation   = 0
)

// CropRegion is a pixel rectangle expressed against the already-rotated image.
type CropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Parameters is an immutable, normalized set of edits.  Methods never mutate
// the receiver; use the With* helpers to derive a changed copy.
type Parameters struct {
	Brightness float64     `json:"brightness"`
	Contrast   float64     `json:"contrast"`
	Saturation float64     `json:"saturation"`
	Rotation   int         `json:"rotation"`
	Crop       *CropRegion `json:"cropRegion,omitempty"`
}

// Defaults returns the neutral parameter set used for the first preview and
// for reset requests.
func Defaults() Parameters {
	return Parameters{
		Brightness: DefaultBrightness,
		Contrast:   DefaultContrast,
		Saturation: DefaultSaturation,
		Rotation:   DefaultRotation,
	}
}

// ContrastGain and ContrastBias give the linear stage coefficients:
// out = gain*in + bias.
func (p Parameters) ContrastGain() float64 { return p.Contrast }

func (p Parameters) ContrastBias() float64 { return -(p.Contrast - 1) * 128 }

// NeedsModulate reports whether brightness or saturation differ from neutral.
func (p Parameters) NeedsModulate() bool {
	return p.Brightness != DefaultBrightness || p.Saturation != DefaultSaturation
}

// NeedsLinear reports whether the contrast stage changes any pixel.
func (p Parameters) NeedsLinear() bool { return p.Contrast != DefaultContrast }

// IsNeutral reports whether applying p leaves the image unchanged.
func (p Parameters) IsNeutral() bool {
	return !p.NeedsModulate() && !p.NeedsLinear() && p.Rotation == 0 && p.Crop == nil
}

// WithCrop returns a copy of p cropped to c (nil removes the crop).
func (p Parameters) WithCrop(c *CropRegion) Parameters {
	if c != nil {
		cc := *c
		c = &cc
	}
	p.Crop = c
	return p
}

// Equal reports whether two parameter sets describe the same edit.
func (p Parameters) Equal(o Parameters) bool {
	if p.Brightness != o.Brightness || p.Contrast != o.Contrast ||
		p.Saturation != o.Saturation || p.Rotation != o.Rotation {
		return false
	}
	if p.Crop == nil || o.Crop == nil {
		return p.Crop == nil && o.Crop == nil
	}
	return *p.Crop == *o.Crop
}

func (p Parameters) String() string {
	s := fmt.Sprintf("b=%g c=%g s=%g r=%d", p.Brightness, p.Contrast, p.Saturation, p.Rotation)
	if p.Crop != nil {
		s += fmt.Sprintf(" crop=%d,%d,%dx%d", p.Crop.X, p.Crop.Y, p.Crop.Width, p.Crop.Height)
	}
	return s
}

// Number accepts a JSON number or a numeric string.
type Number struct {
	Value float64
	Set   bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = Number{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*n = Number{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*n = Number{Value: v, Set: true}
	return nil
}

// Num builds a set Number; handy for callers constructing Raw values in code.
func Num(v float64) Number { return Number{Value: v, Set: true} }

// RawCrop is the unvalidated crop rectangle sent by clients.
type RawCrop struct {
	X      Number `json:"x"`
	Y      Number `json:"y"`
	Width  Number `json:"width"`
	Height Number `json:"height"`
}

// Raw is the client-facing edit payload before normalization.  Unset fields
// fall back to their neutral default.
type Raw struct {
	Brightness Number   `json:"brightness"`
	Contrast   Number   `json:"contrast"`
	Saturation Number   `json:"saturation"`
	Rotation   Number   `json:"rotation"`
	CropRegion *RawCrop `json:"cropRegion,omitempty"`
}

// Normalize validates raw and converts it to Parameters.
func Normalize(raw Raw) (Parameters, error) {
	p := Defaults()

	if raw.Brightness.Set {
		v, err := nonNegative("brightness", raw.Brightness.Value)
		if err != nil {
			return Parameters{}, err
		}
		p.Brightness = v
	}
	if raw.Saturation.Set {
		v, err := nonNegative("saturation", raw.Saturation.Value)
		if err != nil {
			return Parameters{}, err
		}
		p.Saturation = v
	}
	if raw.Contrast.Set {
		// Zero and negative contrast are legal low-contrast requests.
		if !finite(raw.Contrast.Value) {
			return Parameters{}, invalidParam("contrast", raw.Contrast.Value)
		}
		p.Contrast = raw.Contrast.Value
	}
	if raw.Rotation.Set {
		if !finite(raw.Rotation.Value) {
			return Parameters{}, invalidParam("rotation", raw.Rotation.Value)
		}
		p.Rotation = NormalizeRotation(int(math.Round(math.Mod(raw.Rotation.Value, 360))))
	}
	if raw.CropRegion != nil {
		c, err := normalizeCrop(*raw.CropRegion)
		if err != nil {
			return Parameters{}, err
		}
		p.Crop = c
	}
	return p, nil
}

// NormalizeRotation folds any integer angle into [0, 360).
func NormalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}

// ValidateCrop checks p.Crop against a srcW×srcH source after p's rotation has
// been applied.  A nil crop is always valid.
func ValidateCrop(p Parameters, srcW, srcH int) error {
	if p.Crop == nil {
		return nil
	}
	c := p.Crop
	if c.Width <= 0 || c.Height <= 0 || c.X < 0 || c.Y < 0 {
		return cropError(fmt.Errorf("%w: %dx%d at %d,%d", apperrors.ErrInvalidCropRegion, c.Width, c.Height, c.X, c.Y))
	}
	rw, rh := utils.RotatedBounds(srcW, srcH, p.Rotation)
	if c.X+c.Width > rw || c.Y+c.Height > rh {
		return cropError(fmt.Errorf("%w: %dx%d at %d,%d exceeds rotated bounds %dx%d",
			apperrors.ErrInvalidCropRegion, c.Width, c.Height, c.X, c.Y, rw, rh))
	}
	return nil
}

func normalizeCrop(rc RawCrop) (*CropRegion, error) {
	vals := [4]float64{rc.X.Value, rc.Y.Value, rc.Width.Value, rc.Height.Value}
	for _, v := range vals {
		if !finite(v) {
			return nil, cropError(fmt.Errorf("%w: non-finite coordinate", apperrors.ErrInvalidCropRegion))
		}
	}
	c := &CropRegion{
		X:      int(math.Round(vals[0])),
		Y:      int(math.Round(vals[1])),
		Width:  int(math.Round(vals[2])),
		Height: int(math.Round(vals[3])),
	}
	if c.Width <= 0 || c.Height <= 0 || c.X < 0 || c.Y < 0 {
		return nil, cropError(fmt.Errorf("%w: %dx%d at %d,%d", apperrors.ErrInvalidCropRegion, c.Width, c.Height, c.X, c.Y))
	}
	return c, nil
}

func nonNegative(name string, v float64) (float64, error) {
	if !finite(v) || v < 0 {
		return 0, invalidParam(name, v)
	}
	return v, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func invalidParam(name string, v float64) error {
	return apperrors.Validation("params.normalize", fmt.Errorf("%w: %s=%v", apperrors.ErrInvalidParameter, name, v))
}

func cropError(err error) error {
	return apperrors.Validation("params.crop", err)
}
