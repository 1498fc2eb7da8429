// Package httpapi exposes the editor over HTTP and the push-channel.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/catalog"
	"github.com/Skryldev/image-editor/config"
	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/export"
	"github.com/Skryldev/image-editor/hooks"
	"github.com/Skryldev/image-editor/intake"
	"github.com/Skryldev/image-editor/middleware"
	"github.com/Skryldev/image-editor/preview"
	"github.com/Skryldev/image-editor/session"
)

// App holds the services the handlers call into.
type App struct {
	Editor   *imageeditor.Processor
	Store    core.StorageAdapter
	Catalog  catalog.Catalog
	Intake   *intake.Service
	Previews *preview.Service
	Export   *export.Service
	Sessions *session.Controller
	Registry *session.Registry
	Metrics  *hooks.InMemoryMetrics
	Config   config.ServerConfig
	Log      zerolog.Logger

	upgrader websocket.Upgrader
}

// NewApp wires an App and its push-channel upgrader.
func NewApp(a App) *App {
	app := &a
	app.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(a.Config.AllowedOrigins),
	}
	return app
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps err onto a status code and an {"error": ...} body.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	ev := a.Log.Warn()
	if code >= http.StatusInternalServerError {
		ev = a.Log.Error()
	}
	ev.Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("category", string(apperrors.CategoryOf(err))).
		Msg("http.error")
	a.json(w, code, map[string]string{"error": session.ClientMessage(err)})
}

func statusFor(err error) int {
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryValidation, apperrors.CategoryDecode:
		return http.StatusBadRequest
	case apperrors.CategoryNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// imageID accepts "<uuid>" and, for older clients, "<uuid>.<ext>".
func imageID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		raw = strings.TrimSuffix(raw, ext)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", false
	}
	return raw, true
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	_, anyOrigin := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
