// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/siemens/blackdig/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
)

// lookupService returns a fake lookup service answering every request using
// the specified handler; the server gets closed automatically at the end of
// the current test.
func lookupService(handler http.HandlerFunc) *httptest.Server {
	GinkgoHelper()
	srv := httptest.NewServer(handler)
	DeferCleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return srv
}

// respond returns a handler always responding with the specified status and
// body.
func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func str(s string) *string { return &s }

var _ = Describe("lookup client", func() {

	BeforeEach(func() {
		goodgos := Goroutines()
		DeferCleanup(func() {
			http.DefaultClient.CloseIdleConnections()
			Eventually(Goroutines).WithTimeout(3 * time.Second).WithPolling(250 * time.Millisecond).
				ShouldNot(HaveLeaked(goodgos))
		})
	})

	It("looks up addresses", func(ctx context.Context) {
		var path, auth atomic.Value
		srv := lookupService(func(w http.ResponseWriter, r *http.Request) {
			path.Store(r.URL.Path)
			auth.Store(r.Header.Get("Authorization"))
			respond(http.StatusOK, `{
				"ip": "203.0.113.66",
				"city": "Erlangen",
				"region": "Bavaria",
				"country": "DE",
				"loc": "49.5897,11.0120",
				"org": "AS64496 Example"
			}`)(w, r)
		})
		c := NewClient(WithBaseURL(srv.URL+"/"), WithToken("s3cr3t"))
		res := c.Lookup(ctx, "203.0.113.66")
		Expect(res.OK()).To(BeTrue())
		Expect(res.Address).To(Equal(types.Address("203.0.113.66")))
		Expect(*res.Geo).To(Equal(types.Geo{
			City:    str("Erlangen"),
			Region:  str("Bavaria"),
			Country: str("DE"),
			Loc:     str("49.5897,11.0120"),
		}))
		Expect(path.Load()).To(Equal("/203.0.113.66/json"))
		Expect(auth.Load()).To(Equal("Bearer s3cr3t"))
	})

	It("accepts responses with missing fields", func(ctx context.Context) {
		srv := lookupService(respond(http.StatusOK, `{"ip":"203.0.113.66","country":"DE","city":null}`))
		res := NewClient(WithBaseURL(srv.URL)).Lookup(ctx, "203.0.113.66")
		Expect(res.OK()).To(BeTrue())
		Expect(res.Geo.City).To(BeNil())
		Expect(res.Geo.Region).To(BeNil())
		Expect(res.Geo.Country).To(HaveValue(Equal("DE")))
	})

	DescribeTable("classifying failures",
		func(ctx context.Context, handler http.HandlerFunc, kind types.FailureKind, reason string) {
			srv := lookupService(handler)
			res := NewClient(WithBaseURL(srv.URL)).Lookup(ctx, "10.0.0.5")
			Expect(res.OK()).To(BeFalse())
			Expect(res.Geo).To(BeNil())
			Expect(res.Failure.Kind).To(Equal(kind))
			Expect(res.Failure.Reason).To(ContainSubstring(reason))
		},
		Entry("not found", respond(http.StatusNotFound, `{"error":"nope"}`),
			types.FailureNotFound, "not found"),
		Entry("bogon", respond(http.StatusOK, `{"ip":"10.0.0.5","bogon":true}`),
			types.FailureNotFound, "bogon"),
		Entry("server error", respond(http.StatusInternalServerError, ``),
			types.FailureStatus, "500 Internal Server Error"),
		Entry("rate limited", respond(http.StatusTooManyRequests, ``),
			types.FailureStatus, "429"),
		Entry("not JSON", respond(http.StatusOK, `<html>oops</html>`),
			types.FailureMalformed, "not JSON"),
		Entry("not an object", respond(http.StatusOK, `["10.0.0.5"]`),
			types.FailureMalformed, "malformed"),
		Entry("wrong field types", respond(http.StatusOK, `{"city":42}`),
			types.FailureMalformed, "city"),
	)

	It("marks server errors as transient", func(ctx context.Context) {
		srv := lookupService(respond(http.StatusBadGateway, ``))
		res := NewClient(WithBaseURL(srv.URL)).Lookup(ctx, "10.0.0.5")
		Expect(res.Failure.StatusCode).To(Equal(http.StatusBadGateway))
		Expect(res.Failure.Transient()).To(BeTrue())
	})

	It("times out", func(ctx context.Context) {
		srv := lookupService(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		})
		res := NewClient(WithBaseURL(srv.URL), WithTimeout(100*time.Millisecond)).Lookup(ctx, "10.0.0.5")
		Expect(res.Failure).NotTo(BeNil())
		Expect(res.Failure.Kind).To(Equal(types.FailureTimeout))
		Expect(res.Failure.Reason).To(Equal("timeout"))
		Expect(res.Failure.Transient()).To(BeTrue())
	})

	It("reports cancellation instead of a timeout", func() {
		srv := lookupService(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		res := NewClient(WithBaseURL(srv.URL)).Lookup(ctx, "10.0.0.5")
		Expect(res.Failure).NotTo(BeNil())
		Expect(res.Failure.Kind).To(Equal(types.FailureCancelled))
	})

	It("reports transport failures", func(ctx context.Context) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		res := NewClient(WithBaseURL(url)).Lookup(ctx, "10.0.0.5")
		Expect(res.Failure).NotTo(BeNil())
		Expect(res.Failure.Kind).To(Equal(types.FailureTransport))
		Expect(res.Failure.Reason).NotTo(BeEmpty())
	})

	It("rate limits lookups", func(ctx context.Context) {
		var count atomic.Int32
		srv := lookupService(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			respond(http.StatusOK, `{}`)(w, r)
		})
		c := NewClient(WithBaseURL(srv.URL), WithRateLimit(10, 1))
		start := time.Now()
		for i := 0; i < 3; i++ {
			Expect(c.Lookup(ctx, "10.0.0.5").OK()).To(BeTrue())
		}
		Expect(time.Since(start)).To(BeNumerically(">=", 150*time.Millisecond))
		Expect(count.Load()).To(Equal(int32(3)))
	})

	It("doesn't wait for the rate limiter when cancelled", func() {
		srv := lookupService(respond(http.StatusOK, `{}`))
		c := NewClient(WithBaseURL(srv.URL), WithRateLimit(0.001, 1))
		Expect(c.Lookup(context.Background(), "10.0.0.5").OK()).To(BeTrue())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := c.Lookup(ctx, "10.0.0.5")
		Expect(res.Failure).NotTo(BeNil())
		Expect(res.Failure.Kind).To(Equal(types.FailureCancelled))
	})

})
