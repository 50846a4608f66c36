package scan

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LaunchWithBackoff launches a scanner context, retrying with exponential
// backoff while the target scheduler's queue is saturated. Saturation is
// the only retryable condition; a closed registry or stopped scheduler
// fails immediately. Launch is continuable, so each retry only schedules
// the scanners a previous attempt could not place.
func LaunchWithBackoff(ctx context.Context, sctx *ScannerContext) error {
	op := func() error {
		err := sctx.Launch(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrQueueSaturated) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
