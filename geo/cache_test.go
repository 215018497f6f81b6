// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"context"
	"sync"
	"time"

	"github.com/siemens/blackdig/types"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeLocator answers lookups from a canned sequence of results per address,
// repeating the last result once the sequence has been exhausted.
type fakeLocator struct {
	mu      sync.Mutex
	results map[types.Address][]types.EnrichmentResult
	calls   map[types.Address]int
	delay   time.Duration
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{
		results: map[types.Address][]types.EnrichmentResult{},
		calls:   map[types.Address]int{},
	}
}

func (l *fakeLocator) answer(addr types.Address, results ...types.EnrichmentResult) *fakeLocator {
	l.results[addr] = results
	return l
}

func (l *fakeLocator) Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return types.FailedWith(addr, types.FailureCancelled, "cancelled")
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.calls[addr]
	l.calls[addr] = n + 1
	results := l.results[addr]
	if len(results) == 0 {
		return types.Succeeded(addr, types.Geo{City: str("Springfield")})
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n]
}

func (l *fakeLocator) Calls(addr types.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[addr]
}

// mapCache is a plain cache without any expiry.
type mapCache map[types.Address]types.Geo

func (c mapCache) Get(_ context.Context, addr types.Address) (types.Geo, bool) {
	geo, ok := c[addr]
	return geo, ok
}

func (c mapCache) Set(_ context.Context, addr types.Address, geo types.Geo) {
	c[addr] = geo
}

var _ = Describe("lookup caches", func() {

	It("caches only successful lookups", func(ctx context.Context) {
		loc := newFakeLocator().
			answer("10.0.0.7", types.FailedWith("10.0.0.7", types.FailureNotFound, "address not found"))
		cache := mapCache{}
		cl := Cached(loc, cache, nil)

		for i := 0; i < 3; i++ {
			res := cl.Lookup(ctx, "10.0.0.5")
			Expect(res.OK()).To(BeTrue())
			Expect(res.Address).To(Equal(types.Address("10.0.0.5")))
			Expect(res.Geo.City).To(HaveValue(Equal("Springfield")))
		}
		Expect(loc.Calls("10.0.0.5")).To(Equal(1))

		Expect(cl.Lookup(ctx, "10.0.0.7").OK()).To(BeFalse())
		Expect(cl.Lookup(ctx, "10.0.0.7").OK()).To(BeFalse())
		Expect(loc.Calls("10.0.0.7")).To(Equal(2))
		Expect(cache).To(HaveLen(1))
		Expect(cache).To(HaveKey(types.Address("10.0.0.5")))
	})

	When("using Redis", func() {

		var mr *miniredis.Miniredis
		var cache *RedisCache

		BeforeEach(func() {
			mr = miniredis.RunT(GinkgoT())
			cache = NewRedisCache(mr.Addr(), "", 0, time.Hour, zaptest.NewLogger(GinkgoT()).Sugar())
			DeferCleanup(func() {
				Expect(cache.Close()).To(Succeed())
			})
		})

		It("shares lookups via Redis", func(ctx context.Context) {
			Expect(cache.Ping(ctx)).To(Succeed())
			loc := newFakeLocator()
			Expect(Cached(loc, cache, nil).Lookup(ctx, "10.0.0.5").OK()).To(BeTrue())
			Expect(mr.Exists(RedisKeyPrefix + "10.0.0.5")).To(BeTrue())
			Expect(mr.TTL(RedisKeyPrefix + "10.0.0.5")).To(Equal(time.Hour))

			// a second run with its own cache client.
			other := NewRedisCache(mr.Addr(), "", 0, time.Hour, nil)
			defer other.Close()
			res := Cached(loc, other, nil).Lookup(ctx, "10.0.0.5")
			Expect(res.OK()).To(BeTrue())
			Expect(res.Geo.City).To(HaveValue(Equal("Springfield")))
			Expect(loc.Calls("10.0.0.5")).To(Equal(1))

			mr.FastForward(2 * time.Hour)
			_, ok := cache.Get(ctx, "10.0.0.5")
			Expect(ok).To(BeFalse())
		})

		It("treats corrupt entries and Redis failures as misses", func(ctx context.Context) {
			Expect(mr.Set(RedisKeyPrefix+"10.0.0.5", "{not json")).To(Succeed())
			_, ok := cache.Get(ctx, "10.0.0.5")
			Expect(ok).To(BeFalse())

			mr.SetError("ERR injected failure")
			loc := newFakeLocator()
			Expect(Cached(loc, cache, nil).Lookup(ctx, "10.0.0.9").OK()).To(BeTrue())
			Expect(loc.Calls("10.0.0.9")).To(Equal(1))
			mr.SetError("")
		})

	})

})
