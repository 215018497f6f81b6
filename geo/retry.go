// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"context"
	"time"

	"github.com/siemens/blackdig/types"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retrying repeats lookups failing for transient reasons.
type retrying struct {
	locator  Locator
	attempts int
	initial  time.Duration
	log      *zap.SugaredLogger
}

// Retrying returns a Locator that repeats lookups failing with a transient
// failure (such as timeouts and server-side errors) up to the specified
// number of attempts in total, backing off exponentially starting with the
// initial interval. Failures that won't go away, such as unknown addresses,
// are never retried.
func Retrying(locator Locator, attempts int, initial time.Duration, log *zap.SugaredLogger) Locator {
	if attempts <= 1 {
		return locator
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &retrying{
		locator:  locator,
		attempts: attempts,
		initial:  initial,
		log:      log,
	}
}

func (r *retrying) Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = 0
	var res types.EnrichmentResult
	_ = backoff.RetryNotify(
		func() error {
			res = r.locator.Lookup(ctx, addr)
			if res.Failure != nil && res.Failure.Transient() {
				return res.Failure
			}
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx),
		func(err error, next time.Duration) {
			r.log.Debugw("retrying lookup", "address", addr, "reason", err, "backoff", next)
		})
	if res.Failure != nil && ctx.Err() != nil {
		return types.FailedWith(addr, types.FailureCancelled, "cancelled")
	}
	return res
}
