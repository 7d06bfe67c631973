package dispatch

import (
	"os"
	"time"
)

var _ Unwrapper = (*TokenTrackingDispatcher)(nil)

// TokenTrackingDispatcher decorates any transport with per-exchange usage
// accounting: prompt file size, artifact size, and wall-clock time.
type TokenTrackingDispatcher struct {
	inner   Dispatcher
	tracker TokenTracker
}

// NewTokenTrackingDispatcher wraps inner so every successful dispatch lands
// a record in tracker.
func NewTokenTrackingDispatcher(inner Dispatcher, tracker TokenTracker) *TokenTrackingDispatcher {
	return &TokenTrackingDispatcher{inner: inner, tracker: tracker}
}

// Dispatch delegates to the wrapped transport and records the exchange.
// Failed dispatches are not recorded; there is no artifact to price.
func (d *TokenTrackingDispatcher) Dispatch(ctx DispatchContext) ([]byte, error) {
	promptBytes := 0
	if info, err := os.Stat(ctx.PromptPath); err == nil {
		promptBytes = int(info.Size())
	}

	start := time.Now()
	data, err := d.inner.Dispatch(ctx)
	if err != nil {
		return data, err
	}

	d.tracker.Record(TokenRecord{
		UnitID:         ctx.UnitID,
		Step:           ctx.Step,
		Iteration:      ctx.Iteration,
		PromptBytes:    promptBytes,
		ArtifactBytes:  len(data),
		PromptTokens:   EstimateTokens(promptBytes),
		ArtifactTokens: EstimateTokens(len(data)),
		Timestamp:      start,
		WallClockMs:    time.Since(start).Milliseconds(),
	})
	return data, nil
}

// Inner exposes the wrapped transport for interface probes.
func (d *TokenTrackingDispatcher) Inner() Dispatcher {
	return d.inner
}
