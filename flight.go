package captionmux

import (
	"context"

	"github.com/blueberrycongee/captionmux/pkg/types"
)

// flight is one in-flight generation shared by every caller waiting on the
// same fingerprint. It settles exactly once; all joiners observe the
// identical result object.
type flight struct {
	done chan struct{}
	res  *types.GenerationResult
	err  error
}

func newFlight() *flight {
	return &flight{done: make(chan struct{})}
}

func (f *flight) settle(res *types.GenerationResult, err error) {
	f.res = res
	f.err = err
	close(f.done)
}

// wait blocks until the flight settles or ctx is done. A caller abandoning
// its wait does not cancel the underlying generation; other joiners keep
// waiting.
func (f *flight) wait(ctx context.Context) (*types.GenerationResult, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
