//go:build !vips

package main

import (
	"errors"

	imageeditor "github.com/Skryldev/image-editor"
	"github.com/Skryldev/image-editor/config"
	apperrors "github.com/Skryldev/image-editor/errors"
)

func useBackend(_ *imageeditor.Processor, cfg config.Config) (func(), error) {
	if cfg.Backend == config.BackendVips {
		return nil, apperrors.New(apperrors.CategoryConfig, "backend",
			errors.New("IMAGE_BACKEND=vips requires a build with -tags vips"))
	}
	return func() {}, nil
}
