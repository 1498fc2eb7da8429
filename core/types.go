package core

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/Skryldev/image-editor/params"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatUnknown Format = "unknown"
)

// ParseFormat maps user input ("jpg", "PNG", ...) to a supported Format.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG
	case "png":
		return FormatPNG
	}
	return FormatUnknown
}

// Extension returns the file extension used for stored artifacts.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	}
	return "bin"
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	}
	return "application/octet-stream"
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information without loading pixel data.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	HasAlpha   bool
	SizeBytes  int64
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer when needed.
type ImageData struct {
	// Encoded bytes — the raw input until an encode step replaces them.
	Data   []byte
	Format Format

	// Decoded pixel buffer, populated by the decode step.
	Image interface{} // actual type: image.Image or *vips.VipsImage depending on backend

	Meta Metadata

	// Quality requested for the next encode step; 0 = encoder default.
	Quality int

	OriginalSize int64
}

// Mode distinguishes the low-latency preview render from the export render.
type Mode int

const (
	ModePreview Mode = iota
	ModeFinal
)

func (m Mode) String() string {
	if m == ModeFinal {
		return "final"
	}
	return "preview"
}

// RenderOptions carries the per-mode knobs a Planner needs.
type RenderOptions struct {
	Mode Mode
	// Format is the Final-mode output format; Preview always encodes JPEG.
	Format Format
	// MaxDimension bounds preview width and height.
	MaxDimension int
	// Quality is the JPEG quality for the chosen mode.
	Quality int
}

// Planner turns an edit into the ordered list of steps for one backend.
type Planner interface {
	Plan(p params.Parameters, opts RenderOptions) []Step
}

// ProcessingResult is returned to the caller after the full pipeline completes.
type ProcessingResult struct {
	Primary *ImageData

	// Observability.
	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// Source abstracts where raw bytes come from (reader, file path, URL, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // intentional for async jobs
	Source Source
	Steps  []Step
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *ProcessingResult
	Err    error
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored image.
type StorageKey struct {
	Bucket string
	Path   string
}

func (k StorageKey) String() string { return k.Bucket + "/" + k.Path }

// Buckets used for editor artifacts.
const (
	BucketOriginal = "original"
	BucketPreview  = "preview"
	BucketFinal    = "final"
)
