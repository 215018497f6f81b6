// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"context"
	"sync"

	"github.com/siemens/blackdig/types"

	"github.com/gammazero/workerpool"
)

// Enricher looks up addresses concurrently on a goroutine-limited worker pool.
// Each submitted lookup hands out a future in form of a channel that will
// receive exactly one result, so callers are free to collect results in the
// order they need, regardless of the order in which lookups complete.
type Enricher struct {
	locator  Locator
	workers  *workerpool.WorkerPool
	news     func(types.FlaggedStatus) // optional notification of lookups starting.
	stopOnce sync.Once
}

// EnricherOption can be passed to NewEnricher when creating new Enricher
// objects.
type EnricherOption func(*Enricher)

// NewEnricher returns a new [Enricher] with a maximum worker pool of the
// specified size, using the specified Locator for the lookups.
func NewEnricher(size int, locator Locator, options ...EnricherOption) *Enricher {
	if size < 1 {
		size = 1
	}
	e := &Enricher{
		locator: locator,
		workers: workerpool.New(size),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// WithNews sets a function to be notified whenever a lookup actually starts.
// The function gets called from the worker goroutines, so it must be safe
// for concurrent use.
func WithNews(news func(types.FlaggedStatus)) EnricherOption {
	return func(e *Enricher) {
		e.news = news
	}
}

// Enrich queues a lookup for the specified address and returns a channel for
// receiving the result; the index is only passed on to news notifications.
// The returned channel is buffered, so workers never block on callers not
// collecting results (anymore).
//
// If the specified context gets cancelled before the lookup starts, the
// result will be a failure of kind [types.FailureCancelled] without any
// lookup having been attempted.
func (e *Enricher) Enrich(ctx context.Context, index int, addr types.Address) <-chan types.EnrichmentResult {
	future := make(chan types.EnrichmentResult, 1)
	e.workers.Submit(func() {
		// A quick and non-blocking check to see if the context has been
		// cancelled before we start our work...
		if ctx.Err() != nil {
			future <- types.FailedWith(addr, types.FailureCancelled, "cancelled")
			return
		}
		if e.news != nil {
			e.news(types.FlaggedStatus{
				Index:  index,
				Status: types.Enriching,
				Result: types.EnrichmentResult{Address: addr},
			})
		}
		future <- e.locator.Lookup(ctx, addr)
	})
	return future
}

// StopWait waits for all queued lookups to finish and then stops the
// workers. Enrich must not be called anymore afterwards.
func (e *Enricher) StopWait() {
	e.stopOnce.Do(func() {
		e.workers.StopWait()
	})
}
