// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package flagger

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/siemens/blackdig/addrset"
	"github.com/siemens/blackdig/audit"
	"github.com/siemens/blackdig/blacklist"
	"github.com/siemens/blackdig/capture"
	"github.com/siemens/blackdig/geo"
	"github.com/siemens/blackdig/metrics"
	"github.com/siemens/blackdig/types"

	"go.uber.org/zap"
)

// ConfigurationError reports a missing or unusable blacklist, capture or audit
// log; it aborts a run before any capture data gets processed.
type ConfigurationError = types.ConfigurationError

// DefaultWorkers is the default number of concurrent lookups.
const DefaultWorkers = 5

// Report describes the outcome of a run.
type Report struct {
	State       State                 // final state of the run.
	Capture     capture.Stats         // packet counters.
	Observed    int                   // number of distinct addresses observed.
	Flagged     []types.FlaggedStatus // flagged addresses in discovery order.
	Summary     audit.Summary         // audit log summary.
	Interrupted bool                  // run was cancelled before completing.
}

// Flagger runs the pipeline from a capture to the audit log of flagged
// addresses.
type Flagger struct {
	blacklist string
	capture   string
	auditLog  string

	backend  capture.Backend
	tshark   string
	workers  int
	locator  geo.Locator
	log      *zap.SugaredLogger
	observer Observer
	metrics  *metrics.Metrics
	dryRun   bool

	state atomic.Int32
}

// Option can be passed to New when creating new Flagger objects.
type Option func(*Flagger)

// New returns a new Flagger for checking the specified capture file against
// the specified blacklist, writing the audit records to the specified audit
// log file.
//
// Unless configured otherwise, the Flagger uses the pcap capture backend and
// runs up to 5 concurrent lookups against ipinfo.io. A Flagger can be
// configured using these options:
//   - [WithBackend]
//   - [WithWorkers]
//   - [WithLocator]
//   - [WithLogger]
//   - [WithObserver]
//   - [WithMetrics]
//   - [AsDryRun]
func New(blacklistPath, capturePath, auditLogPath string, options ...Option) *Flagger {
	f := &Flagger{
		blacklist: blacklistPath,
		capture:   capturePath,
		auditLog:  auditLogPath,
		backend:   capture.BackendPcap,
		workers:   DefaultWorkers,
		log:       zap.NewNop().Sugar(),
		observer:  &ObserverFuncs{},
	}
	for _, opt := range options {
		opt(f)
	}
	if f.locator == nil {
		var locator geo.Locator = geo.NewClient(geo.WithLogger(f.log))
		if f.metrics != nil {
			locator = f.metrics.Instrument(locator)
		}
		f.locator = locator
	}
	return f
}

// WithBackend sets the capture reader backend, as well as the tshark binary
// to use with the tshark backend.
func WithBackend(backend capture.Backend, tshark string) Option {
	return func(f *Flagger) {
		f.backend = backend
		f.tshark = tshark
	}
}

// WithWorkers sets the maximum number of concurrent lookups.
func WithWorkers(workers int) Option {
	return func(f *Flagger) {
		f.workers = workers
	}
}

// WithLocator sets the Locator to use for enriching flagged addresses. Lookups
// through this Locator are only counted in the metrics when it has been
// instrumented using [metrics.Metrics.Instrument].
func WithLocator(locator geo.Locator) Option {
	return func(f *Flagger) {
		f.locator = locator
	}
}

// WithLogger sets the logger for the run and its components.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(f *Flagger) {
		f.log = log
	}
}

// WithObserver sets the Observer to notify about the progress of the run.
func WithObserver(observer Observer) Option {
	return func(f *Flagger) {
		f.observer = observer
	}
}

// WithMetrics sets the metrics to record the run's figures in. Unless a
// Locator is set, the lookups are counted too.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Flagger) {
		f.metrics = m
	}
}

// AsDryRun only flags addresses, without any lookups and without touching the
// audit log.
func AsDryRun() Option {
	return func(f *Flagger) {
		f.dryRun = true
	}
}

// State returns the current state of the run.
func (f *Flagger) State() State { return State(f.state.Load()) }

// enter the specified state, notifying the observer.
func (f *Flagger) enter(state State) {
	from := State(f.state.Swap(int32(state)))
	f.log.Debugw("state transition", "from", from.String(), "to", state.String())
	f.observer.StateChanged(state)
}

// Run the pipeline once. Run returns a [*ConfigurationError] if any of the
// blacklist, capture or audit log cannot be used, without touching any of
// the later resources. Once the capture is being processed, Run always
// returns a report, together with an error if the capture couldn't be read
// or the context got cancelled.
func (f *Flagger) Run(ctx context.Context) (*Report, error) {
	f.enter(Loading)
	bl, err := blacklist.Load(ctx, f.blacklist, blacklist.WithLogger(f.log))
	if err != nil {
		return nil, f.abort(err)
	}
	copts := []capture.Option{capture.WithLogger(f.log)}
	if f.tshark != "" {
		copts = append(copts, capture.WithTshark(f.tshark))
	}
	packets, err := capture.Open(ctx, f.capture, f.backend, copts...)
	if err != nil {
		return nil, f.abort(err)
	}
	defer packets.Close()
	var auditlog *audit.Logger
	if !f.dryRun {
		auditlog, err = audit.Create(f.auditLog, audit.WithLogger(f.log))
		if err != nil {
			return nil, f.abort(err)
		}
		defer auditlog.Close()
	}

	report := &Report{}
	f.enter(Capturing)
	observed, err := addrset.Extract(ctx, packets)
	report.Capture = packets.Stats()
	if err == nil {
		if err = packets.Err(); err != nil {
			err = fmt.Errorf("cannot read capture: %w", err)
			f.log.Errorw("cannot read capture", "capture", f.capture, "error", err)
		}
	}
	_ = packets.Close()
	report.Observed = observed.Len()
	f.log.Infow("read capture",
		"capture", f.capture,
		"packets", report.Capture.Packets,
		"without-address", report.Capture.WithoutAddressLayer,
		"decode-errors", report.Capture.DecodeErrors,
		"observed", report.Observed)
	if f.metrics != nil {
		f.metrics.ObserveCapture(report.Capture)
	}

	f.enter(Matching)
	var flagged []types.Address
	if ctx.Err() == nil {
		flagged = addrset.Match(observed, bl)
	}
	report.Flagged = make([]types.FlaggedStatus, len(flagged))
	for idx, addr := range flagged {
		report.Flagged[idx] = types.FlaggedStatus{
			Index:  idx,
			Status: types.Queued,
			Result: types.EnrichmentResult{Address: addr},
		}
	}
	f.log.Infow("matched blacklist", "observed", report.Observed, "flagged", len(flagged))
	if f.metrics != nil {
		f.metrics.ObserveMatch(report.Observed, len(flagged))
	}
	f.observer.Flagged(flagged)

	if auditlog != nil {
		auditlog.SetCounts(report.Observed, len(flagged))
		if ctx.Err() == nil {
			f.enrichAndLog(ctx, flagged, auditlog, report)
		}
		report.Summary = auditlog.Summary()
	} else {
		report.Summary = audit.Summary{Observed: report.Observed, Flagged: len(flagged)}
	}

	if ctxerr := ctx.Err(); ctxerr != nil {
		report.Interrupted = true
		if err == nil {
			err = ctxerr
		}
	}
	f.enter(Done)
	report.State = Done
	f.log.Infow("run finished",
		"observed", report.Summary.Observed,
		"flagged", report.Summary.Flagged,
		"enrichment-failures", report.Summary.EnrichmentFailures,
		"write-failures", report.Summary.WriteFailures,
		"written", report.Summary.Written,
		"interrupted", report.Interrupted)
	return report, err
}

// abort the run in the Loading state.
func (f *Flagger) abort(err error) error {
	f.log.Errorw("aborting run", "error", err)
	f.enter(Aborted)
	return err
}

// enrichAndLog looks up the flagged addresses concurrently and writes their
// audit records in discovery order, as soon as each one becomes available.
// When the context gets cancelled, no further audit records get written.
func (f *Flagger) enrichAndLog(ctx context.Context, flagged []types.Address, auditlog *audit.Logger, report *Report) {
	f.enter(Enriching)
	enricher := geo.NewEnricher(f.workers, f.locator,
		geo.WithNews(func(status types.FlaggedStatus) {
			f.observer.StatusChanged(status)
		}))
	defer enricher.StopWait()
	futures := make([]<-chan types.EnrichmentResult, len(flagged))
	for idx, addr := range flagged {
		futures[idx] = enricher.Enrich(ctx, idx, addr)
	}

	f.enter(Logging)
	for idx, future := range futures {
		var res types.EnrichmentResult
		select {
		case res = <-future:
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}
		status := types.FlaggedStatus{Index: idx, Status: types.Enriched, Result: res}
		if !res.OK() {
			status.Status = types.LookupFailed
		}
		err := auditlog.Append(types.AuditRecord{Enrichment: res})
		status.Logged = err == nil
		if f.metrics != nil {
			f.metrics.ObserveAppend(err)
		}
		if status.Logged {
			f.log.Infow("flagged and logged", "address", res.Address, "result", res.String())
		}
		report.Flagged[idx] = status
		f.observer.StatusChanged(status)
	}
}
