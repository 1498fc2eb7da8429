package utils

import (
	"math"
	"net/http"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the first bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// Fallback to net/http sniffing.
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	}
	return formatUnknown
}

// FitWithin scales (srcW, srcH) down so that neither side exceeds maxDim.
// Images already inside the box are returned unchanged; it never upscales.
func FitWithin(srcW, srcH, maxDim int) (int, int) {
	if maxDim <= 0 || (srcW <= maxDim && srcH <= maxDim) {
		return srcW, srcH
	}
	if srcW >= srcH {
		h := int(float64(srcH) * float64(maxDim) / float64(srcW))
		return maxDim, max(h, 1)
	}
	w := int(float64(srcW) * float64(maxDim) / float64(srcH))
	return max(w, 1), maxDim
}

// RotatedBounds returns the size of the canvas that holds a w×h image rotated
// clockwise by deg degrees.  Quarter turns are exact; other angles use the
// axis-aligned bounding box of the rotated rectangle.
func RotatedBounds(w, h, deg int) (int, int) {
	deg = ((deg % 360) + 360) % 360
	switch deg {
	case 0, 180:
		return w, h
	case 90, 270:
		return h, w
	}
	rad := float64(deg) * math.Pi / 180
	sin, cos := math.Abs(math.Sin(rad)), math.Abs(math.Cos(rad))
	fw := float64(w)*cos + float64(h)*sin
	fh := float64(w)*sin + float64(h)*cos
	return int(math.Ceil(fw - 1e-9)), int(math.Ceil(fh - 1e-9))
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
