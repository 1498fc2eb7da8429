// Package imageeditor renders edit parameters onto an image.  It wires the
// default JPEG/PNG codecs and the pure-Go planner on top of the core worker
// pool; the libvips backend can be swapped in with SetPlanner.
package imageeditor

import (
	"bytes"
	"context"
	"io"

	"github.com/Skryldev/image-editor/adapters/decoder"
	"github.com/Skryldev/image-editor/adapters/encoder"
	"github.com/Skryldev/image-editor/config"
	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/params"
	"github.com/Skryldev/image-editor/pipeline"
	"github.com/Skryldev/image-editor/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Processor is the primary entry point.
type Processor struct {
	inner   *core.Processor
	reg     *core.DefaultRegistry
	planner core.Planner
	cfg     config.Config
}

// New creates a fully wired Processor with the JPEG and PNG codecs registered
// and the pure-Go planner selected.
func New(cfg config.Config) *Processor {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.Preview.Quality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())

	return &Processor{
		inner:   core.New(cfg, reg),
		reg:     reg,
		planner: pipeline.NewPlanner(reg),
		cfg:     cfg,
	}
}

// SetPlanner replaces the step planner, e.g. with the libvips backend.
func (p *Processor) SetPlanner(pl core.Planner) { p.planner = pl }

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l core.Logger) { p.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m core.MetricsCollector) { p.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline step events.
func (p *Processor) AddHook(h core.Hook) { p.inner.AddHook(h) }

// RegisterDecoder registers a custom decoder for the given format.
func (p *Processor) RegisterDecoder(f core.Format, d core.Decoder) { p.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (p *Processor) RegisterEncoder(f core.Format, e core.Encoder) { p.reg.RegisterEncoder(f, e) }

// Start starts the background worker pool.
func (p *Processor) Start() { p.inner.Start() }

// Stop drains and shuts down the worker pool.
func (p *Processor) Stop() { p.inner.Stop() }

// PreviewOptions returns the render options for a low-latency preview.
func (p *Processor) PreviewOptions() core.RenderOptions {
	return core.RenderOptions{
		Mode:         core.ModePreview,
		Format:       core.FormatJPEG,
		MaxDimension: p.cfg.Preview.MaxDimension,
		Quality:      p.cfg.Preview.Quality,
	}
}

// FinalOptions returns the render options for an export in format f.  An
// unknown format keeps the source format.
func (p *Processor) FinalOptions(f core.Format) core.RenderOptions {
	return core.RenderOptions{
		Mode:    core.ModeFinal,
		Format:  f,
		Quality: p.cfg.FinalQuality,
	}
}

// Apply renders prm onto src synchronously on the calling goroutine.
// Identical inputs always yield identical bytes.
func (p *Processor) Apply(ctx context.Context, src []byte, prm params.Parameters, opts core.RenderOptions) (*core.ProcessingResult, error) {
	if err := p.checkOutput(opts); err != nil {
		return nil, err
	}
	return p.inner.Process(ctx, FromBytes(src), p.planner.Plan(prm, opts)...)
}

// Enqueue renders prm onto src on the shared worker pool and waits for the
// outcome.  A full queue is reported as a transient error.
func (p *Processor) Enqueue(ctx context.Context, id string, src []byte, prm params.Parameters, opts core.RenderOptions) (*core.ProcessingResult, error) {
	if err := p.checkOutput(opts); err != nil {
		return nil, err
	}
	return p.inner.Enqueue(ctx, id, FromBytes(src), p.planner.Plan(prm, opts)...)
}

// Probe reports the format and dimensions of src, reading only the header
// when the registered decoder supports it.
func (p *Processor) Probe(ctx context.Context, src []byte) (core.Metadata, error) {
	format := core.Format(utils.DetectFormat(src))
	dec, ok := p.reg.DecoderFor(format)
	if !ok {
		return core.Metadata{}, apperrors.New(apperrors.CategoryDecode, "probe", apperrors.ErrUnsupportedFormat)
	}
	if pr, ok := dec.(core.Prober); ok {
		meta, err := pr.Probe(ctx, bytes.NewReader(src))
		if err != nil {
			return core.Metadata{}, err
		}
		meta.SizeBytes = int64(len(src))
		return meta, nil
	}
	img, err := dec.Decode(ctx, bytes.NewReader(src))
	if err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryDecode, "probe", err)
	}
	meta := img.Meta
	meta.SizeBytes = int64(len(src))
	return meta, nil
}

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

func (p *Processor) checkOutput(opts core.RenderOptions) error {
	if opts.Mode == core.ModeFinal && opts.Format != "" && opts.Format != core.FormatUnknown {
		if _, ok := p.reg.EncoderFor(opts.Format); !ok {
			return apperrors.New(apperrors.CategoryEncode, "render", apperrors.ErrUnsupportedFormat)
		}
	}
	return nil
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromBytes creates a Source over an in-memory buffer.
func FromBytes(b []byte) core.Source {
	return core.Source{Reader: bytes.NewReader(b), Size: int64(len(b))}
}
