// Package imaging validates raw image payloads and derives stable
// fingerprints from them. Both operations are pure and run before any
// network call.
package imaging

import (
	"fmt"
	"strings"

	"github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

// MaxImageBytes is the payload size ceiling (10 MB).
const MaxImageBytes = 10 * 1024 * 1024

// supportedTypes is the whitelist of accepted image MIME types.
var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// SupportedTypes returns the accepted MIME types in a stable order.
func SupportedTypes() []string {
	return []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
}

// Validate checks an image payload before fingerprinting or any provider
// call. It returns a validation error naming exactly one failure: an
// unsupported format, an empty payload, or a payload over the size ceiling.
func Validate(img types.ImageInput) error {
	contentType := normalizeContentType(img.ContentType)
	if !supportedTypes[contentType] {
		return errors.NewValidationError(fmt.Sprintf(
			"The image format %q is not supported. Please upload one of: %s.",
			img.ContentType, strings.Join(SupportedTypes(), ", ")))
	}
	if len(img.Data) == 0 {
		return errors.NewValidationError("The image payload is empty.")
	}
	if len(img.Data) > MaxImageBytes {
		return errors.NewValidationError(fmt.Sprintf(
			"The image is too large (%d bytes). The maximum allowed size is %d bytes.",
			len(img.Data), MaxImageBytes))
	}
	return nil
}

// normalizeContentType lowercases the MIME type and strips any parameters,
// so "image/JPEG; charset=binary" validates like "image/jpeg".
func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
