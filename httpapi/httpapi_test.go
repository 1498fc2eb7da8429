package httpapi

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/catalog"
	"github.com/Skryldev/image-editor/adapters/storage"
	"github.com/Skryldev/image-editor/config"
	"github.com/Skryldev/image-editor/export"
	"github.com/Skryldev/image-editor/hooks"
	"github.com/Skryldev/image-editor/intake"
	"github.com/Skryldev/image-editor/preview"
	"github.com/Skryldev/image-editor/session"
)

type testEnv struct {
	srv  *httptest.Server
	root string
	app  *App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	cfg.Session.RunTimeout = 10 * time.Second

	root := t.TempDir()
	store, err := storage.NewLocal(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	log := zerolog.Nop()
	editor := imageeditor.New(cfg)
	metrics := hooks.NewInMemoryMetrics()
	editor.SetMetrics(metrics)
	editor.AddHook(hooks.NewMetricsHook(metrics))
	editor.Start()
	t.Cleanup(editor.Stop)

	cat := catalog.NewMemory()
	previews := preview.New(editor, store, cat, cfg.Server.PublicBaseURL, cfg.MaxImageBytes, log)
	registry := session.NewRegistry()
	sessions := session.NewController(previews, registry, cfg.Session, log)
	t.Cleanup(sessions.Close)

	app := NewApp(App{
		Editor:   editor,
		Store:    store,
		Catalog:  cat,
		Intake:   intake.New(editor, store, cat, previews, cfg.Server.MaxUploadBytes, log),
		Previews: previews,
		Export:   export.New(editor, store, cat, cfg.MaxImageBytes, log),
		Sessions: sessions,
		Registry: registry,
		Metrics:  metrics,
		Config:   cfg.Server,
		Log:      log,
	})
	srv := httptest.NewServer(NewRouter(app))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, root: root, app: app}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (e *testEnv) upload(t *testing.T, contentType string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	name := "photo.png"
	if contentType == "image/jpeg" {
		name = "photo.jpg"
	}
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	resp, err := http.Post(e.srv.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) postJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(v)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) uploadPNG(t *testing.T, w, h int) (string, string) {
	t.Helper()
	return e.uploadImage(t, "image/png", pngBytes(t, w, h))
}

func (e *testEnv) uploadJPEG(t *testing.T, w, h int) (string, string) {
	t.Helper()
	return e.uploadImage(t, "image/jpeg", jpegBytes(t, w, h))
}

func (e *testEnv) uploadImage(t *testing.T, contentType string, data []byte) (string, string) {
	t.Helper()
	resp := e.upload(t, contentType, data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	return body["imageId"].(string), body["previewUrl"].(string)
}

func imageSize(t *testing.T, data []byte) (int, int, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	return cfg.Width, cfg.Height, format
}

func (e *testEnv) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestEndToEnd_PushChannelEditAndFinal(t *testing.T) {
	e := newTestEnv(t)
	id, initial := e.uploadJPEG(t, 1000, 800)
	if !strings.Contains(initial, "?v=") {
		t.Fatalf("preview url lacks cache buster: %s", initial)
	}

	code, data := e.get(t, initial)
	if code != http.StatusOK {
		t.Fatalf("initial preview status %d", code)
	}
	if w, h, f := imageSize(t, data); f != "jpeg" || w != 800 || h != 640 {
		t.Fatalf("initial preview %s %dx%d", f, w, h)
	}

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "init", "imageId": id}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{
		"type": "imageEdit", "imageId": id,
		"brightness": 1.2, "contrast": 0.8, "saturation": 1, "rotation": 90,
	}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg session.PreviewUpdate
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read previewUpdate: %v", err)
	}
	if msg.Type != session.TypePreviewUpdate || msg.PreviewURL == initial || !strings.Contains(msg.PreviewURL, "?v=") {
		t.Fatalf("unexpected message %+v", msg)
	}

	// Exactly one notification for one edit.
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, extra, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected extra message %s", extra)
	}

	code, data = e.get(t, msg.PreviewURL)
	if code != http.StatusOK {
		t.Fatalf("preview status %d", code)
	}
	if w, h, _ := imageSize(t, data); w != 640 || h != 800 {
		t.Fatalf("rotated preview %dx%d, want 640x800", w, h)
	}

	// The adjusted preview is not the plain rotation.
	neutral := e.postJSON(t, "/api/images/process", map[string]any{"imageId": id, "rotation": 90})
	neutralURL, _ := decodeBody(t, neutral)["previewUrl"].(string)
	if neutralURL == "" {
		t.Fatal("neutral process returned no previewUrl")
	}
	if _, plain := e.get(t, neutralURL); bytes.Equal(plain, data) {
		t.Fatal("brightness/contrast left the preview unchanged")
	}

	resp := e.postJSON(t, "/api/images/final", map[string]any{
		"imageId": id, "brightness": 1.2, "contrast": 0.8, "saturation": 1, "rotation": 90, "format": "png",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("final status %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=processed_image.png" {
		t.Fatalf("content-disposition %q", cd)
	}
	data, _ = io.ReadAll(resp.Body)
	if w, h, f := imageSize(t, data); f != "png" || w != 800 || h != 1000 {
		t.Fatalf("final %s %dx%d, want png 800x1000", f, w, h)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, _ := os.ReadDir(filepath.Join(e.root, "final"))
		left := 0
		for _, en := range entries {
			if !strings.HasSuffix(en.Name(), ".meta.json") {
				left++
			}
		}
		if left == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d final artifacts left after download", left)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPushChannel_InvalidEditReportsError(t *testing.T) {
	e := newTestEnv(t)
	id, _ := e.uploadPNG(t, 100, 50)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.WriteJSON(map[string]any{"type": "init", "imageId": id})
	_ = conn.WriteJSON(map[string]any{
		"type": "imageEdit", "imageId": id,
		"cropRegion": map[string]any{"x": 0, "y": 0, "width": -5, "height": 10},
	})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg session.ErrorMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != session.TypeError || !strings.Contains(msg.Message, "crop") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if s, ok := e.app.Sessions.Snapshot(id); !ok || s.State != session.StateIdle || s.Generation != 0 {
		t.Fatalf("session should be idle with no runs, got %+v", s)
	}
}

func TestProcessAndReset(t *testing.T) {
	e := newTestEnv(t)
	id, _ := e.uploadPNG(t, 200, 100)

	resp := e.postJSON(t, "/api/images/process", map[string]any{
		"imageId": id, "brightness": "1.2", "contrast": 0.8, "saturation": 1, "rotation": 370,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("process status %d", resp.StatusCode)
	}
	url := decodeBody(t, resp)["previewUrl"].(string)
	if !strings.Contains(url, id+"?v=") {
		t.Fatalf("unexpected preview url %q", url)
	}
	if s, _ := e.app.Sessions.Snapshot(id); s.Applied.Rotation != 10 {
		t.Fatalf("rotation normalized to %d, want 10", s.Applied.Rotation)
	}

	resp = e.postJSON(t, "/api/images/reset", map[string]any{"imageId": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d", resp.StatusCode)
	}
	if decodeBody(t, resp)["previewUrl"].(string) == url {
		t.Fatal("reset returned the previous preview url")
	}
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	id, _ := e.uploadPNG(t, 100, 50)
	missing := "11111111-2222-4333-8444-555555555555"

	tests := []struct {
		name string
		do   func() *http.Response
		want int
	}{
		{"upload gif", func() *http.Response { return e.upload(t, "image/gif", []byte("GIF89a....")) }, http.StatusBadRequest},
		{"upload mismatched", func() *http.Response { return e.upload(t, "image/jpeg", pngBytes(t, 4, 4)) }, http.StatusBadRequest},
		{"process unknown image", func() *http.Response {
			return e.postJSON(t, "/api/images/process", map[string]any{"imageId": missing})
		}, http.StatusNotFound},
		{"process negative brightness", func() *http.Response {
			return e.postJSON(t, "/api/images/process", map[string]any{"imageId": id, "brightness": -1})
		}, http.StatusBadRequest},
		{"process crop outside", func() *http.Response {
			return e.postJSON(t, "/api/images/process", map[string]any{"imageId": id,
				"cropRegion": map[string]any{"x": 90, "y": 0, "width": 20, "height": 10}})
		}, http.StatusBadRequest},
		{"process bad cropData", func() *http.Response {
			return e.postJSON(t, "/api/images/process", map[string]any{"imageId": id, "cropData": "data:text/plain;base64,aGk="})
		}, http.StatusBadRequest},
		{"final unsupported format", func() *http.Response {
			return e.postJSON(t, "/api/images/final", map[string]any{"imageId": id, "format": "webp"})
		}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := tc.do()
			body := decodeBody(t, resp)
			if resp.StatusCode != tc.want {
				t.Fatalf("status %d, want %d (%v)", resp.StatusCode, tc.want, body)
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Fatalf("missing error message: %v", body)
			}
		})
	}

	if code, _ := e.get(t, "/api/images/preview/"+missing); code != http.StatusNotFound {
		t.Errorf("missing preview status %d", code)
	}
	if code, _ := e.get(t, "/api/images/original/../../etc/passwd"); code != http.StatusNotFound {
		t.Errorf("traversal status %d", code)
	}
}

func TestOriginalAndLegacyID(t *testing.T) {
	e := newTestEnv(t)
	src := pngBytes(t, 30, 20)
	resp := e.upload(t, "image/png", src)
	id := decodeBody(t, resp)["imageId"].(string)

	code, data := e.get(t, "/api/images/original/"+id)
	if code != http.StatusOK || !bytes.Equal(data, src) {
		t.Fatalf("original status %d, %d bytes", code, len(data))
	}
	if code, _ := e.get(t, "/api/images/preview/"+id+".jpg"); code != http.StatusOK {
		t.Fatalf("legacy preview id status %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	e.uploadPNG(t, 10, 10)

	code, data := e.get(t, "/healthz")
	if code != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("healthz %d %s", code, data)
	}
	code, data = e.get(t, "/api/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["processed"].(float64) < 1 {
		t.Fatalf("expected processed >= 1, got %v", m)
	}
	if _, ok := m["pipeline"]; !ok {
		t.Fatal("pipeline metrics missing")
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(nil); got != http.StatusInternalServerError {
		t.Fatalf("nil error maps to %d", got)
	}
}
