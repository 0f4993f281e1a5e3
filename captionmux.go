// Package captionmux turns a single image into a base description plus
// several stylistic rewrites by chaining two generation providers: one that
// describes the image and one that rewrites the description into alternate
// styles. The package orchestrates fingerprinting, result caching with
// expiry, request deduplication, client-side rate limiting, retry with
// backoff, and cancellation.
//
// Basic usage:
//
//	client, err := captionmux.New(
//	    captionmux.WithCredentials(captionmux.Credentials{
//	        ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
//	        OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.Generate(ctx, captionmux.ImageInput{
//	    Data:        imageBytes,
//	    ContentType: "image/jpeg",
//	})
package captionmux

import (
	"github.com/blueberrycongee/captionmux/pkg/provider"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

// Version is the current version of captionmux.
const Version = "1.0.0"

// Re-export core types for convenience, so callers can use
// captionmux.GenerationResult instead of types.GenerationResult.
type (
	// GenerationResult is the base caption plus its stylistic variants.
	GenerationResult = types.GenerationResult

	// CaptionVariant is one stylistic rewrite of the base caption.
	CaptionVariant = types.CaptionVariant

	// ImageInput is the raw image payload submitted by a caller.
	ImageInput = types.ImageInput

	// Style identifies a caption rewrite style.
	Style = types.Style

	// CaptionProvider produces a base caption for an image.
	CaptionProvider = provider.CaptionProvider

	// RewriteProvider rewrites a base caption into requested styles.
	RewriteProvider = provider.RewriteProvider
)

// Re-export the style constants.
const (
	StyleCreative = types.StyleCreative
	StyleFunny    = types.StyleFunny
	StylePoetic   = types.StylePoetic
	StyleMinimal  = types.StyleMinimal
	StyleDramatic = types.StyleDramatic
	StyleQuirky   = types.StyleQuirky
)
