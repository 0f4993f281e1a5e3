// Package types defines the shared data model for caption generation:
// image inputs, caption styles, generation results, and prediction states.
package types

// Style identifies one of the supported caption rewrite styles.
type Style string

const (
	StyleCreative Style = "creative"
	StyleFunny    Style = "funny"
	StylePoetic   Style = "poetic"
	StyleMinimal  Style = "minimal"
	StyleDramatic Style = "dramatic"
	StyleQuirky   Style = "quirky"
)

// AllStyles returns every supported style in a stable order.
func AllStyles() []Style {
	return []Style{
		StyleCreative,
		StyleFunny,
		StylePoetic,
		StyleMinimal,
		StyleDramatic,
		StyleQuirky,
	}
}

// Valid reports whether s is one of the supported styles.
func (s Style) Valid() bool {
	switch s {
	case StyleCreative, StyleFunny, StylePoetic, StyleMinimal, StyleDramatic, StyleQuirky:
		return true
	}
	return false
}

// ImageInput is the raw image payload submitted by a caller.
type ImageInput struct {
	// Data holds the image bytes.
	Data []byte `json:"data"`
	// ContentType is the declared MIME type, e.g. "image/jpeg".
	ContentType string `json:"content_type"`
}

// CaptionVariant is one stylistic rewrite of a base caption.
type CaptionVariant struct {
	Text       string  `json:"text"`
	Style      Style   `json:"style"`
	Confidence float64 `json:"confidence,omitempty"`
}

// GenerationResult is the complete output of one generation: the base
// caption produced from the image plus its stylistic variants.
// Results are immutable once produced.
type GenerationResult struct {
	BaseCaption      string           `json:"base_caption"`
	Variants         []CaptionVariant `json:"variants"`
	GenerationTimeMs int64            `json:"generation_time_ms"`
}

// PredictionState is the lifecycle state of one provider-side prediction job.
type PredictionState string

const (
	PredictionStarting   PredictionState = "starting"
	PredictionProcessing PredictionState = "processing"
	PredictionSucceeded  PredictionState = "succeeded"
	PredictionFailed     PredictionState = "failed"
	PredictionCanceled   PredictionState = "canceled"
)

// Terminal reports whether the state admits no further transitions.
func (s PredictionState) Terminal() bool {
	switch s {
	case PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return true
	}
	return false
}
