package params

import (
	"encoding/base64"
	"fmt"
	"strings"

	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/utils"
)

// DecodeDataURL extracts the image bytes from a base64 data URL such as
// "data:image/png;base64,iVBORw0...".  Only JPEG and PNG payloads are accepted
// and the payload must match the declared type.
func DecodeDataURL(s string) ([]byte, error) {
	const op = "params.data_url"
	s = strings.TrimSpace(s)
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, apperrors.Validation(op, fmt.Errorf("%w: not a data url", apperrors.ErrInvalidParameter))
	}
	meta := strings.TrimPrefix(header, "data:")
	mime, enc, _ := strings.Cut(meta, ";")
	if !strings.EqualFold(enc, "base64") {
		return nil, apperrors.Validation(op, fmt.Errorf("%w: data url must be base64", apperrors.ErrInvalidParameter))
	}
	want := formatForMIME(mime)
	if want == "" {
		return nil, apperrors.Validation(op, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mime))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Browsers occasionally emit unpadded payloads.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, apperrors.Validation(op, fmt.Errorf("%w: %v", apperrors.ErrInvalidParameter, err))
		}
	}
	if len(data) == 0 {
		return nil, apperrors.Validation(op, apperrors.ErrEmptyInput)
	}
	if got := utils.DetectFormat(data); got != want {
		return nil, apperrors.Validation(op, fmt.Errorf("%w: declared %s, found %s", apperrors.ErrUnsupportedFormat, want, got))
	}
	return data, nil
}

func formatForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/png":
		return "png"
	}
	return ""
}
