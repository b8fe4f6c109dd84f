package parser

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/png"
	"mime"
	"os"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

var urlExtPattern = regexp.MustCompile(`(?i)\.(png|jpe?g|webp|gif|svg)(?:[?#]|$)`)

// DetectImageFormat reads the magic bytes and returns the image format string
func DetectImageFormat(data []byte) (string, error) {
	if len(data) < 12 {
		return "", errors.New("data too short to determine format")
	}

	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg", nil
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "png", nil
	}
	if string(data[0:6]) == "GIF87a" || string(data[0:6]) == "GIF89a" {
		return "gif", nil
	}
	if string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "webp", nil
	}

	trimmed := strings.TrimSpace(string(data[:min(len(data), 256)]))
	if strings.HasPrefix(trimmed, "<svg") || (strings.HasPrefix(trimmed, "<?xml") && strings.Contains(trimmed, "<svg")) {
		return "svg", nil
	}

	return "", errors.New("unknown image format")
}

// ExtensionForContentType maps an image content-type header to a file
// extension (with leading dot). Returns "" for non-image or unknown types.
func ExtensionForContentType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}

	switch mt {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	default:
		return ""
	}
}

// ExtensionFromURL pattern-matches a URL for a recognizable image suffix.
// Used as the fallback when the response carries no usable content-type.
func ExtensionFromURL(url string) string {
	m := urlExtPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	ext := strings.ToLower(m[1])
	if ext == "jpeg" {
		ext = "jpg"
	}
	return "." + ext
}

// IsPlaceholderExtension reports whether an extension belongs to the
// animated/vector formats sites serve as lazy-load placeholders. Responses
// resolving to these are discarded rather than persisted.
func IsPlaceholderExtension(ext string) bool {
	return ext == ".gif" || ext == ".svg"
}

// IsPlaceholderBody inspects response bytes directly, catching placeholders
// served under a lying content-type.
func IsPlaceholderBody(data []byte) bool {
	format, err := DetectImageFormat(data)
	if err != nil {
		return false
	}
	return format == "gif" || format == "svg"
}

// ConvertImageToJPEG converts image bytes to JPEG and saves to outputPath.
// If already JPEG, saves directly without re-encoding.
func ConvertImageToJPEG(imgBytes []byte, outputPath string) error {
	if len(imgBytes) == 0 {
		return errors.New("empty image data")
	}

	format, err := DetectImageFormat(imgBytes)
	if err != nil {
		return err
	}

	if format == "jpeg" {
		return saveRawBytes(imgBytes, outputPath)
	}

	var img image.Image
	reader := bytes.NewReader(imgBytes)

	switch format {
	case "png":
		img, err = png.Decode(reader)
	case "gif":
		img, err = gif.Decode(reader)
	case "webp":
		img, err = webp.Decode(reader)
	default:
		return errors.New("unsupported image format: " + format)
	}

	if err != nil {
		return errors.New("failed to decode " + format + " image: " + err.Error())
	}

	return imaging.Save(img, outputPath, imaging.JPEGQuality(90))
}

// saveRawBytes saves bytes directly to file without conversion
func saveRawBytes(data []byte, outputPath string) error {
	return os.WriteFile(outputPath, data, 0644)
}
