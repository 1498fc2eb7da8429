package imageeditor_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/hooks"
	"github.com/Skryldev/image-editor/params"
	"github.com/Skryldev/image-editor/pipeline"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func patterned(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 120, A: 255})
		}
	}
	return img
}

func newJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, patterned(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, patterned(w, h)); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func newProc(t *testing.T) *imageeditor.Processor {
	t.Helper()
	cfg := imageeditor.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	p := imageeditor.New(cfg)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func dims(t *testing.T, data []byte) (int, int, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return cfg.Width, cfg.Height, format
}

// ── Rendering ─────────────────────────────────────────────────────────────────

func TestApply_PreviewDownscalesToJPEG(t *testing.T) {
	proc := newProc(t)
	res, err := proc.Apply(context.Background(), newPNG(t, 1000, 800), params.Defaults(), proc.PreviewOptions())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	w, h, format := dims(t, res.Primary.Data)
	if w != 800 || h != 640 || format != "jpeg" {
		t.Errorf("got %dx%d %s, want 800x640 jpeg", w, h, format)
	}
}

func TestApply_PreviewNeverUpscales(t *testing.T) {
	proc := newProc(t)
	res, err := proc.Apply(context.Background(), newJPEG(t, 300, 200), params.Defaults(), proc.PreviewOptions())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if w, h, _ := dims(t, res.Primary.Data); w != 300 || h != 200 {
		t.Errorf("got %dx%d, want 300x200", w, h)
	}
}

func TestApply_FinalPNGRotated(t *testing.T) {
	proc := newProc(t)
	prm := params.Defaults()
	prm.Rotation = 90
	res, err := proc.Apply(context.Background(), newJPEG(t, 1000, 800), prm, proc.FinalOptions(core.FormatPNG))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	w, h, format := dims(t, res.Primary.Data)
	if w != 800 || h != 1000 || format != "png" {
		t.Errorf("got %dx%d %s, want 800x1000 png", w, h, format)
	}
}

func TestApply_FinalKeepsSourceFormat(t *testing.T) {
	proc := newProc(t)
	res, err := proc.Apply(context.Background(), newPNG(t, 40, 30), params.Defaults(), proc.FinalOptions(core.FormatUnknown))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, _, format := dims(t, res.Primary.Data); format != "png" {
		t.Errorf("format: got %s, want png", format)
	}
}

func TestApply_Deterministic(t *testing.T) {
	proc := newProc(t)
	src := newJPEG(t, 320, 240)
	prm := params.Parameters{Brightness: 1.3, Contrast: 0.7, Saturation: 1.5, Rotation: 30,
		Crop: &params.CropRegion{X: 10, Y: 10, Width: 200, Height: 150}}

	for _, opts := range []core.RenderOptions{proc.PreviewOptions(), proc.FinalOptions(core.FormatPNG)} {
		a, err := proc.Apply(context.Background(), src, prm, opts)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		b, err := proc.Enqueue(context.Background(), "again", src, prm, opts)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if !bytes.Equal(a.Primary.Data, b.Primary.Data) {
			t.Errorf("%s output differs between identical runs", opts.Mode)
		}
	}
}

func TestApply_ResetIsIdempotent(t *testing.T) {
	proc := newProc(t)
	src := newJPEG(t, 200, 100)
	first, err := proc.Apply(context.Background(), src, params.Defaults(), proc.PreviewOptions())
	if err != nil {
		t.Fatal(err)
	}
	second, err := proc.Apply(context.Background(), src, params.Defaults(), proc.PreviewOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Primary.Data, second.Primary.Data) {
		t.Error("reset twice produced different previews")
	}
}

func TestApply_RotationNormalization(t *testing.T) {
	proc := newProc(t)
	src := newPNG(t, 120, 80)
	render := func(deg float64) []byte {
		prm, err := params.Normalize(params.Raw{Rotation: params.Num(deg)})
		if err != nil {
			t.Fatal(err)
		}
		res, err := proc.Apply(context.Background(), src, prm, proc.FinalOptions(core.FormatPNG))
		if err != nil {
			t.Fatal(err)
		}
		return res.Primary.Data
	}
	if !bytes.Equal(render(370), render(10)) {
		t.Error("370 and 10 degrees rendered differently")
	}
	if !bytes.Equal(render(-90), render(270)) {
		t.Error("-90 and 270 degrees rendered differently")
	}
}

func TestApply_RotateThenCropUsesRotatedFrame(t *testing.T) {
	proc := newProc(t)
	src := newPNG(t, 100, 50)

	prm := params.Defaults()
	prm.Rotation = 90
	prm = prm.WithCrop(&params.CropRegion{X: 0, Y: 60, Width: 50, Height: 40})
	res, err := proc.Apply(context.Background(), src, prm, proc.FinalOptions(core.FormatPNG))
	if err != nil {
		t.Fatalf("crop in rotated frame: %v", err)
	}
	if w, h, _ := dims(t, res.Primary.Data); w != 50 || h != 40 {
		t.Errorf("got %dx%d, want 50x40", w, h)
	}

	prm = prm.WithCrop(&params.CropRegion{X: 60, Y: 0, Width: 40, Height: 10})
	_, err = proc.Apply(context.Background(), src, prm, proc.FinalOptions(core.FormatPNG))
	if !errors.Is(err, apperrors.ErrInvalidCropRegion) {
		t.Fatalf("expected ErrInvalidCropRegion, got %v", err)
	}
}

func TestApply_DecodeError(t *testing.T) {
	proc := newProc(t)
	_, err := proc.Apply(context.Background(), []byte("definitely not an image"), params.Defaults(), proc.PreviewOptions())
	if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}

	truncated := newJPEG(t, 64, 64)[:40]
	_, err = proc.Apply(context.Background(), truncated, params.Defaults(), proc.PreviewOptions())
	if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Fatalf("expected decode error for truncated jpeg, got %v", err)
	}
}

func TestApply_ContextCancel(t *testing.T) {
	proc := newProc(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := proc.Apply(ctx, newJPEG(t, 100, 100), params.Defaults(), proc.PreviewOptions()); err == nil {
		t.Error("expected context cancellation error, got nil")
	}
}

func TestProbe(t *testing.T) {
	proc := newProc(t)
	meta, err := proc.Probe(context.Background(), newPNG(t, 64, 48))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if meta.Width != 64 || meta.Height != 48 || meta.Format != core.FormatPNG {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if _, err := proc.Probe(context.Background(), []byte("GIF89a......")); !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Errorf("expected decode error for gif, got %v", err)
	}
}

// ── Concurrency tests ─────────────────────────────────────────────────────────

func TestEnqueue_ConcurrentSafety(t *testing.T) {
	proc := newProc(t)
	raw := newJPEG(t, 200, 200)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			prm := params.Defaults()
			prm.Brightness = 1 + float64(idx)/20
			_, errs[idx] = proc.Enqueue(context.Background(), "job", raw, prm, proc.PreviewOptions())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !apperrors.IsRetryable(err) {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestWorkerPool_Async(t *testing.T) {
	proc := newProc(t)
	raw := newJPEG(t, 100, 100)

	resultCh := make(chan core.JobResult, 1)
	job := core.Job{
		ID:     "test-job-1",
		Ctx:    context.Background(),
		Source: imageeditor.FromBytes(raw),
		Steps: []core.Step{
			&pipeline.DecodeStep{Registry: proc.Registry()},
			&pipeline.ResizeStep{MaxDimension: 50},
		},
		ResultCh: resultCh,
	}

	if err := proc.Inner().Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("async job error: %v", res.Err)
		}
		if res.Result.Primary.Meta.Width != 50 {
			t.Errorf("async width: got %d, want 50", res.Result.Primary.Meta.Width)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async job timed out")
	}
}

// panicStep exercises the worker's panic recovery.
type panicStep struct{}

func (panicStep) Name() string { return "panic" }
func (panicStep) Execute(context.Context, *core.ImageData) (*core.ImageData, error) {
	panic("boom")
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	proc := newProc(t)
	resultCh := make(chan core.JobResult, 1)
	job := core.Job{
		ID:       "panicky",
		Ctx:      context.Background(),
		Source:   imageeditor.FromBytes(newPNG(t, 8, 8)),
		Steps:    []core.Step{panicStep{}},
		ResultCh: resultCh,
	}
	if err := proc.Inner().Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case res := <-resultCh:
		if res.Err == nil {
			t.Fatal("expected an error from a panicking step")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("panicking job never reported")
	}
}

// ── Hooks /Metrics test ──────────────────────────────────────────────────────

func TestMetricsHook(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	proc := newProc(t)
	proc.AddHook(hooks.NewMetricsHook(m))
	proc.SetMetrics(m)

	prm := params.Defaults()
	prm.Contrast = 1.4
	if _, err := proc.Apply(context.Background(), newJPEG(t, 1000, 100), prm, proc.PreviewOptions()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap := m.Snapshot()
	for _, step := range []string{"decode", "linear", "resize", "encode"} {
		if snap.StepCalls[step] == 0 {
			t.Errorf("%s step was not recorded in metrics", step)
		}
	}
	if snap.StepCalls["modulate"] != 0 {
		t.Error("neutral modulate step should not run")
	}
	if snap.TotalThroughputB == 0 {
		t.Error("throughput not recorded")
	}
	if processed, _ := proc.Stats(); processed != 1 {
		t.Errorf("processed: got %d, want 1", processed)
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkApply_Preview(b *testing.B) {
	proc := imageeditor.New(imageeditor.DefaultConfig())
	raw := newJPEG(b, 1920, 1080)
	prm := params.Parameters{Brightness: 1.1, Contrast: 1.2, Saturation: 0.9, Rotation: 90}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := proc.Apply(context.Background(), raw, prm, proc.PreviewOptions()); err != nil {
			b.Fatalf("Apply: %v", err)
		}
	}
}
