package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/export"
	"github.com/Skryldev/image-editor/intake"
	"github.com/Skryldev/image-editor/params"
	"github.com/Skryldev/image-editor/session"
)

const maxJSONBody = 32 << 20

// editRequest is the body of process and final requests.  cropData is a data
// URL and can be large.
type editRequest struct {
	ImageID string `json:"imageId"`
	params.Raw
	CropData string `json:"cropData,omitempty"`
	Format   string `json:"format,omitempty"`
}

func (e editRequest) edit() (string, params.Parameters, []byte, error) {
	id, ok := imageID(e.ImageID)
	if !ok {
		return "", params.Parameters{}, nil, apperrors.New(apperrors.CategoryNotFound, "http.edit",
			fmt.Errorf("%w: image %q", apperrors.ErrNotFound, e.ImageID))
	}
	p, err := params.Normalize(e.Raw)
	if err != nil {
		return "", params.Parameters{}, nil, err
	}
	var crop []byte
	if e.CropData != "" {
		if crop, err = params.DecodeDataURL(e.CropData); err != nil {
			return "", params.Parameters{}, nil, err
		}
	}
	return id, p, crop, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Validation("http.decode", fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// Upload handles POST /api/upload.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if a.Config.MaxUploadBytes > 0 {
		// Leave room for the multipart envelope.
		r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes+1<<20)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, apperrors.Validation("http.upload", fmt.Errorf("upload exceeds %d bytes", a.Config.MaxUploadBytes)))
			return
		}
		a.fail(w, r, apperrors.Validation("http.upload", errors.New("no file uploaded")))
		return
	}
	defer file.Close()

	res, err := a.Intake.Accept(r.Context(), intake.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"imageId":    res.Asset.ID,
		"previewUrl": res.PreviewURL,
	})
}

// Preview handles GET /api/images/preview/{id}.
func (a *App) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	rc, err := a.Previews.Open(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.Copy(w, rc)
}

// Original handles GET /api/images/original/{id}.
func (a *App) Original(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	asset, err := a.Catalog.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rc, err := a.Store.Get(r.Context(), asset.Key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", asset.Format.ContentType())
	w.Header().Set("Content-Length", strconv.FormatInt(asset.SizeBytes, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = io.Copy(w, rc)
}

// Process handles POST /api/images/process.  The edit goes through the
// same session as the push-channel and the response carries the preview of
// the run that covered it.
func (a *App) Process(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id, p, crop, err := req.edit()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.submitAndWait(w, r, id, session.Edit{Params: p, CropSource: crop})
}

// Reset handles POST /api/images/reset.
func (a *App) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageID string `json:"imageId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id, ok := imageID(req.ImageID)
	if !ok {
		a.fail(w, r, apperrors.New(apperrors.CategoryNotFound, "http.reset", apperrors.ErrNotFound))
		return
	}
	a.submitAndWait(w, r, id, session.Edit{Reset: true})
}

func (a *App) submitAndWait(w http.ResponseWriter, r *http.Request, id string, e session.Edit) {
	results, err := a.Sessions.Submit(r.Context(), id, e)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	select {
	case res := <-results:
		if res.Err != nil {
			a.fail(w, r, res.Err)
			return
		}
		a.json(w, http.StatusOK, map[string]any{"success": true, "previewUrl": res.PreviewURL})
	case <-r.Context().Done():
		a.fail(w, r, apperrors.New(apperrors.CategoryTransform, "http.process", r.Context().Err()))
	}
}

// Final handles POST /api/images/final.  The artifact is streamed once and
// then deleted.
func (a *App) Final(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	id, p, crop, err := req.edit()
	if err != nil {
		a.fail(w, r, err)
		return
	}

	art, err := a.Export.Finalize(r.Context(), export.Request{ImageID: id, Params: p, Format: req.Format, CropSource: crop})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Export.Discard(ctx, art)
	}()

	rc, err := a.Export.Open(r.Context(), art)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", art.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", art.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		a.Log.Warn().Err(err).Str("image_id", id).Msg("http.final.stream")
	}
}
