package scan

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/pupscan/pupscan-backend/internal/domain"
)

const (
	maxUploadBytes = 10 << 20
	maxDimension   = 10000
)

// ValidateUpload enforces the upload contract: an allowed image format, at
// most 10 MB, at most 10000x10000 pixels, decodable. SVG and AVIF have no
// decoder in this process and are accepted on signature alone.
func ValidateUpload(data []byte) error {
	if len(data) == 0 {
		return &domain.ValidationError{Reason: "empty upload"}
	}
	if len(data) > maxUploadBytes {
		return &domain.ValidationError{Reason: "image exceeds the 10 MB limit"}
	}

	format := sniffFormat(data)
	switch format {
	case "svg", "avif":
		return nil
	case "":
		return &domain.ValidationError{Reason: "unsupported image format; use JPEG, PNG, WebP, GIF, AVIF, BMP or SVG"}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &domain.ValidationError{Reason: "the image appears to be corrupted"}
	}
	if cfg.Width > maxDimension || cfg.Height > maxDimension {
		return &domain.ValidationError{Reason: fmt.Sprintf("image dimensions exceed %dx%d pixels", maxDimension, maxDimension)}
	}
	return nil
}

func sniffFormat(data []byte) string {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case len(data) >= 6 && (bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))):
		return "gif"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	case len(data) >= 2 && bytes.HasPrefix(data, []byte("BM")):
		return "bmp"
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) && bytes.Contains(data[8:minInt(len(data), 32)], []byte("avif")):
		return "avif"
	case looksLikeSVG(data):
		return "svg"
	default:
		return ""
	}
}

func looksLikeSVG(data []byte) bool {
	head := strings.TrimSpace(string(bytes.TrimPrefix(data[:minInt(len(data), 512)], []byte{0xEF, 0xBB, 0xBF})))
	return strings.HasPrefix(head, "<svg") || (strings.HasPrefix(head, "<?xml") && strings.Contains(head, "<svg"))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
