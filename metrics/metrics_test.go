// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/siemens/blackdig/capture"
	"github.com/siemens/blackdig/types"

	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

type locatorFunc func(context.Context, types.Address) types.EnrichmentResult

func (f locatorFunc) Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	return f(ctx, addr)
}

var _ = Describe("run metrics", func() {

	It("counts a run", func(ctx context.Context) {
		m := New()
		m.ObserveCapture(capture.Stats{Packets: 10, WithoutAddressLayer: 3, DecodeErrors: 1})
		m.ObserveMatch(4, 2)
		m.ObserveAppend(nil)
		m.ObserveAppend(errors.New("disk full"))

		loc := m.Instrument(locatorFunc(func(_ context.Context, addr types.Address) types.EnrichmentResult {
			if addr == "10.0.0.5" {
				return types.FailedWith(addr, types.FailureTimeout, "timeout")
			}
			return types.Succeeded(addr, types.Geo{})
		}))
		Expect(loc.Lookup(ctx, "10.0.0.5").OK()).To(BeFalse())
		Expect(loc.Lookup(ctx, "10.0.0.9").OK()).To(BeTrue())

		Expect(testutil.ToFloat64(m.Packets)).To(Equal(10.0))
		Expect(testutil.ToFloat64(m.PacketsWithoutAddress)).To(Equal(3.0))
		Expect(testutil.ToFloat64(m.DecodeErrors)).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.ObservedAddresses)).To(Equal(4.0))
		Expect(testutil.ToFloat64(m.FlaggedAddresses)).To(Equal(2.0))
		Expect(testutil.ToFloat64(m.Lookups.WithLabelValues("timeout"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.Lookups.WithLabelValues("success"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.AuditRecords.WithLabelValues("written"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.AuditRecords.WithLabelValues("failed"))).To(Equal(1.0))
		Expect(testutil.CollectAndCount(m.LookupDuration)).To(Equal(1))
	})

	It("writes a textfile", func() {
		m := New()
		m.ObserveMatch(2, 1)
		path := filepath.Join(GinkgoT().TempDir(), "blackdig.prom")
		Expect(m.WriteTextfile(path)).To(Succeed())
		text := string(Successful(os.ReadFile(path)))
		Expect(text).To(ContainSubstring("blackdig_flagged_addresses 1"))
		Expect(text).To(ContainSubstring("blackdig_last_run_timestamp_seconds"))
		Expect(testutil.GatherAndCount(m.Registry(), "blackdig_observed_addresses")).To(Equal(1))
	})

})
