//go:build vips

package main

import (
	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/adapters/vips"
	"github.com/Skryldev/image-editor/config"
)

// useBackend switches the editor to libvips when IMAGE_BACKEND=vips.
func useBackend(editor *imageeditor.Processor, cfg config.Config) (func(), error) {
	if cfg.Backend != config.BackendVips {
		return func() {}, nil
	}
	backend := vips.NewBackend(vips.BackendConfig{
		DefaultQuality: cfg.Preview.Quality,
		MaxWorkers:     cfg.WorkerCount,
	})
	vips.RegisterVipsBackend(editor.Registry(), backend)
	editor.SetPlanner(vips.NewPlanner(editor.Registry()))
	return backend.Shutdown, nil
}
