package likelihood

import (
	"context"
	"time"

	trerrors "github.com/adalundhe/tremor/core/errors"
)

// Watchdog bounds worst-case evaluation time. An overrun is reported as a
// likelihood failure (the proposal is rejected), never a silent hang.
type Watchdog struct {
	inner   Evaluator
	timeout time.Duration
}

// WithWatchdog wraps an evaluator with a per-call timeout. A non-positive
// timeout disables the wrapper.
func WithWatchdog(inner Evaluator, timeout time.Duration) Evaluator {
	if timeout <= 0 {
		return inner
	}
	return &Watchdog{inner: inner, timeout: timeout}
}

type evalResult struct {
	ll  float64
	err error
}

func (w *Watchdog) LogLikelihood(parent context.Context, vec []float64) (float64, error) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	done := make(chan evalResult, 1)
	go func() {
		ll, err := w.inner.LogLikelihood(ctx, vec)
		done <- evalResult{ll: ll, err: err}
	}()

	select {
	case res := <-done:
		return res.ll, res.err
	case <-ctx.Done():
		// Only the watchdog's own deadline is an evaluation failure; a
		// cancelled run propagates raw.
		if err := parent.Err(); err != nil {
			return 0, err
		}
		return 0, &trerrors.LikelihoodError{Cause: ctx.Err()}
	}
}
