// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/siemens/blackdig/capture"
	"github.com/siemens/blackdig/config"
	"github.com/siemens/blackdig/dnsworker"
	"github.com/siemens/blackdig/flagger"
	"github.com/siemens/blackdig/geo"
	"github.com/siemens/blackdig/metrics"
	"github.com/siemens/blackdig/types"

	"github.com/gosuri/uilive"
	"github.com/miekg/dns"
	"github.com/muesli/termenv"
	"go.uber.org/zap"
)

// reverseTimeout limits the reverse lookups of all flagged addresses.
const reverseTimeout = 5 * time.Second

// display settings of a run.
type display struct {
	progress bool
	spinner  time.Duration
	profile  termenv.Profile
}

// FlagAndReport checks the configured capture against the blacklist, logging
// flagged addresses together with their geolocation to the audit log. While
// running, it either renders a live progress display or prints each flagged
// address as soon as it has been logged. Finally, it prints a summary of the
// flagged addresses.
func FlagAndReport(ctx context.Context, w io.Writer, cfg *config.Config, log *zap.SugaredLogger, disp display) error {
	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
	}

	locator, closeLocator := newLocator(ctx, cfg, m, log)
	defer closeLocator()

	var mu sync.Mutex // serializes the printed lines.
	var track *tracker
	if disp.progress {
		track = newTracker(nil)
	} else {
		track = newTracker(func(status types.FlaggedStatus) {
			mu.Lock()
			defer mu.Unlock()
			printLogged(w, status)
		})
	}

	opts := []flagger.Option{
		flagger.WithBackend(capture.Backend(cfg.Backend), cfg.Tshark),
		flagger.WithWorkers(cfg.Workers),
		flagger.WithLocator(locator),
		flagger.WithLogger(log),
		flagger.WithObserver(track),
	}
	if m != nil {
		opts = append(opts, flagger.WithMetrics(m))
	}
	if cfg.DryRun {
		opts = append(opts, flagger.AsDryRun())
	}
	f := flagger.New(cfg.Blacklist, cfg.Capture, cfg.AuditLog, opts...)

	var renderingDone chan struct{}
	runDone := make(chan struct{})
	if disp.progress {
		renderingDone = make(chan struct{})
		go func() {
			// Avoid uilive's background updating via Start(), as it may trigger
			// with the rendering into the buffer not yet complete. Instead,
			// explicitly flush after each complete rendering.
			term := uilive.New()
			term.Out = w
			renderer := newRenderer(term, newStyles(disp.profile), disp.spinner)
			defer func() {
				renderer.Render(track.Get())
				_ = term.Flush()
				renderer.Stop()
				close(renderingDone)
			}()
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				renderer.Render(track.Get())
				_ = term.Flush()
				select {
				case <-ticker.C:
				case <-runDone:
					return
				}
			}
		}()
	}

	report, err := f.Run(ctx)
	close(runDone)
	if renderingDone != nil {
		<-renderingDone
	}
	if report == nil {
		return err
	}

	var names map[types.Address][]string
	if cfg.Resolver != "" && len(report.Flagged) > 0 && ctx.Err() == nil {
		names = reverseNames(ctx, cfg.Resolver, cfg.Workers, report.Flagged, log)
	}
	mu.Lock()
	printSummary(w, report, names, cfg.DryRun)
	mu.Unlock()

	if m != nil {
		if merr := m.WriteTextfile(cfg.MetricsFile); merr != nil {
			log.Errorw("cannot write metrics", "path", cfg.MetricsFile, "error", merr)
		}
	}
	return err
}

// newLocator returns the geolocation lookup chain as configured, together
// with a function to release its resources after the run. Lookups are
// retried when configured, and successful lookups optionally get cached in
// Redis across runs. Only the lookups actually sent to the lookup service
// are counted in the metrics, if any.
func newLocator(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.SugaredLogger) (geo.Locator, func()) {
	clientopts := []geo.ClientOption{
		geo.WithBaseURL(cfg.Lookup.URL),
		geo.WithTimeout(cfg.Lookup.Timeout),
		geo.WithLogger(log),
	}
	if cfg.Lookup.Token != "" {
		clientopts = append(clientopts, geo.WithToken(cfg.Lookup.Token))
	}
	if cfg.Lookup.RateLimit > 0 {
		clientopts = append(clientopts, geo.WithRateLimit(cfg.Lookup.RateLimit, cfg.Lookup.Burst))
	}
	var locator geo.Locator = geo.NewClient(clientopts...)
	if m != nil {
		locator = m.Instrument(locator)
	}
	locator = geo.Retrying(locator, cfg.Lookup.Retries+1, cfg.Lookup.RetryBackoff, log)

	if cfg.Cache.Redis != "" {
		rc := geo.NewRedisCache(cfg.Cache.Redis, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL, log)
		pingctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rc.Ping(pingctx); err != nil {
			log.Warnw("Redis cache unavailable, looking up without cache",
				"redis", cfg.Cache.Redis, "error", err)
			_ = rc.Close()
			return locator, func() {}
		}
		log.Debugw("caching lookups in Redis", "redis", cfg.Cache.Redis, "ttl", cfg.Cache.TTL)
		return geo.Cached(locator, rc, log), func() { _ = rc.Close() }
	}
	return locator, func() {}
}

// reverseNames returns the DNS names of the flagged addresses, as far as the
// specified resolver knows them. Resolution problems are only logged.
func reverseNames(ctx context.Context, resolver string, workers int, flagged []types.FlaggedStatus, log *zap.SugaredLogger) map[types.Address][]string {
	ctx, cancel := context.WithTimeout(ctx, reverseTimeout)
	defer cancel()
	dnsclnt := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	pool, err := dnsworker.New(ctx, workers, dnsclnt, resolver)
	if err != nil {
		log.Warnw("cannot reverse lookup flagged addresses", "resolver", resolver, "error", err)
		return nil
	}
	var mu sync.Mutex
	names := map[types.Address][]string{}
	for _, status := range flagged {
		addr := status.Result.Address
		pool.ResolveAddr(ctx, addr, func(n []string, err error) {
			if err != nil {
				log.Debugw("no reverse name", "address", addr, "error", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			names[addr] = n
		})
	}
	pool.StopWait()
	return names
}
