package imaging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		img      types.ImageInput
		wantType string
	}{
		{
			name: "valid jpeg",
			img:  types.ImageInput{Data: []byte{0xff, 0xd8, 0xff}, ContentType: "image/jpeg"},
		},
		{
			name: "content type with parameters",
			img:  types.ImageInput{Data: []byte{1, 2, 3}, ContentType: "image/PNG; charset=binary"},
		},
		{
			name:     "unsupported format",
			img:      types.ImageInput{Data: []byte{1}, ContentType: "image/tiff"},
			wantType: caperrors.TypeValidation,
		},
		{
			name:     "missing content type",
			img:      types.ImageInput{Data: []byte{1}},
			wantType: caperrors.TypeValidation,
		},
		{
			name:     "empty payload",
			img:      types.ImageInput{Data: nil, ContentType: "image/png"},
			wantType: caperrors.TypeValidation,
		},
		{
			name:     "oversized payload",
			img:      types.ImageInput{Data: make([]byte, MaxImageBytes+1), ContentType: "image/png"},
			wantType: caperrors.TypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.img)
			if tt.wantType == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			e, ok := caperrors.As(err)
			require.True(t, ok, "validation failures must use the typed error set")
			assert.Equal(t, tt.wantType, e.Type)
			assert.False(t, e.Retryable)
		})
	}
}

func TestValidate_SizeCeilingIsInclusive(t *testing.T) {
	img := types.ImageInput{Data: make([]byte, MaxImageBytes), ContentType: "image/webp"}
	require.NoError(t, Validate(img))
}

func TestFingerprint_Deterministic(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 4096)
	a := Fingerprint(data)
	b := Fingerprint(data)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "sha256 hex digest")
}

func TestFingerprint_DifferentInputsDiffer(t *testing.T) {
	a := Fingerprint([]byte("sunset over the ocean"))
	b := Fingerprint([]byte("sunrise over the ocean"))
	assert.NotEqual(t, a, b)
}

func TestFingerprint_OnlyPrefixMatters(t *testing.T) {
	base := bytes.Repeat([]byte{0x42}, fingerprintPrefixBytes)

	same := append(append([]byte{}, base...), []byte("trailing bytes ignored")...)
	other := append(append([]byte{}, base...), []byte("different trailer, same digest")...)
	assert.Equal(t, Fingerprint(same), Fingerprint(other))

	// A change inside the prefix must change the digest.
	mutated := append([]byte{}, same...)
	mutated[10] ^= 0xff
	assert.NotEqual(t, Fingerprint(same), Fingerprint(mutated))
}
