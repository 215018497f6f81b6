// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/siemens/blackdig/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

func str(s string) *string { return &s }

// lines returns the lines of the specified file.
func lines(path string) []string {
	GinkgoHelper()
	f := Successful(os.Open(path))
	defer f.Close()
	var ls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ls = append(ls, scanner.Text())
	}
	Expect(scanner.Err()).NotTo(HaveOccurred())
	return ls
}

// diskFull simulates running out of disk space in the middle of the next
// write, optionally also failing to truncate the file afterwards.
type diskFull struct {
	*os.File
	armed        bool
	noTruncation bool
}

func (f *diskFull) Write(b []byte) (int, error) {
	if !f.armed {
		return f.File.Write(b)
	}
	f.armed = false
	n, _ := f.File.Write(b[:len(b)/2])
	return n, syscall.ENOSPC
}

func (f *diskFull) Truncate(size int64) error {
	if f.noTruncation {
		return syscall.EINVAL
	}
	return f.File.Truncate(size)
}

var _ = Describe("audit log", func() {

	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "flagged_ips.log")
	})

	It("truncates an existing audit log", func() {
		Expect(os.WriteFile(path, []byte("stale\n"), 0o644)).To(Succeed())
		l := Successful(Create(path))
		Expect(l.Close()).To(Succeed())
		Expect(l.Close()).To(Succeed())
		Expect(Successful(os.ReadFile(path))).To(BeEmpty())
	})

	It("fails with a configuration error for an unusable path", func() {
		_, err := Create(filepath.Join(GinkgoT().TempDir(), "missing", "flagged_ips.log"))
		var cfgerr *types.ConfigurationError
		Expect(errors.As(err, &cfgerr)).To(BeTrue())
		Expect(cfgerr.Resource).To(Equal("audit log"))
	})

	It("appends one JSON line per record", func() {
		stamp := time.Date(2023, 6, 1, 12, 0, 0, 123456000, time.UTC)
		l := Successful(Create(path, WithClock(func() time.Time { return stamp })))
		defer l.Close()

		Expect(l.Append(types.AuditRecord{
			Enrichment: types.Succeeded("203.0.113.66", types.Geo{
				City:    str("Erlangen"),
				Country: str("DE"),
				Loc:     str("49.5897,11.0120"),
			}),
		})).To(Succeed())
		Expect(l.Append(types.AuditRecord{
			Enrichment: types.FailedWith("10.0.0.5", types.FailureTimeout, "timeout"),
		})).To(Succeed())

		ls := lines(path)
		Expect(ls).To(HaveLen(2))
		Expect(ls[0]).To(MatchJSON(`{
			"timestamp": "2023-06-01T12:00:00.123456Z",
			"flagged_ip": {
				"ip": "203.0.113.66",
				"city": "Erlangen",
				"region": null,
				"country": "DE",
				"loc": "49.5897,11.0120"
			}
		}`))
		Expect(ls[1]).To(MatchJSON(`{
			"timestamp": "2023-06-01T12:00:00.123456Z",
			"flagged_ip": {"ip": "10.0.0.5", "error": "timeout"}
		}`))
		Expect(l.Summary()).To(Equal(Summary{EnrichmentFailures: 1, Written: 2}))
	})

	It("never lets timestamps go backwards", func() {
		var mu sync.Mutex
		clock := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
		l := Successful(Create(path, WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(-time.Minute)
			return clock
		})))
		defer l.Close()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(l.Append(types.AuditRecord{
					Enrichment: types.Succeeded("10.0.0.5", types.Geo{}),
				})).To(Succeed())
			}()
		}
		wg.Wait()

		var last time.Time
		ls := lines(path)
		Expect(ls).To(HaveLen(10))
		for _, line := range ls {
			var rec struct {
				Timestamp string `json:"timestamp"`
			}
			Expect(json.Unmarshal([]byte(line), &rec)).To(Succeed())
			ts := Successful(time.Parse(types.TimestampLayout, rec.Timestamp))
			Expect(ts).NotTo(BeTemporally("<", last))
			last = ts
		}
	})

	It("reports write failures and carries on", func() {
		if _, err := os.Stat("/dev/full"); err != nil {
			Skip("needs /dev/full")
		}
		l := Successful(Create("/dev/full"))
		defer l.Close()

		err := l.Append(types.AuditRecord{Enrichment: types.Succeeded("10.0.0.5", types.Geo{})})
		var werr *WriteError
		Expect(errors.As(err, &werr)).To(BeTrue())
		Expect(werr.Address).To(Equal(types.Address("10.0.0.5")))
		Expect(err.Error()).To(ContainSubstring("cannot write audit record for 10.0.0.5"))

		Expect(l.Append(types.AuditRecord{Enrichment: types.Succeeded("10.0.0.9", types.Geo{})})).
			To(BeAssignableToTypeOf(&WriteError{}))
		Expect(l.Summary().WriteFailures).To(Equal(2))
		Expect(l.Summary().Written).To(BeZero())
	})

	DescribeTable("never joins records after a partial write",
		func(noTruncation bool, expectedLines int) {
			l := Successful(Create(path))
			defer l.Close()
			Expect(l.Append(types.AuditRecord{Enrichment: types.Succeeded("10.0.0.5", types.Geo{})})).To(Succeed())

			full := &diskFull{File: l.f.(*os.File), armed: true, noTruncation: noTruncation}
			l.f = full
			err := l.Append(types.AuditRecord{Enrichment: types.Succeeded("10.0.0.7", types.Geo{})})
			Expect(errors.Is(err, syscall.ENOSPC)).To(BeTrue())
			Expect(l.Append(types.AuditRecord{Enrichment: types.Succeeded("10.0.0.9", types.Geo{})})).To(Succeed())
			Expect(l.Summary()).To(Equal(Summary{Written: 2, WriteFailures: 1}))

			ls := lines(path)
			Expect(ls).To(HaveLen(expectedLines))
			for _, idx := range []int{0, len(ls) - 1} {
				Expect(json.Valid([]byte(ls[idx]))).To(BeTrue(), "line: %s", ls[idx])
			}
			Expect(ls[0]).To(ContainSubstring(`"ip":"10.0.0.5"`))
			Expect(ls[len(ls)-1]).To(ContainSubstring(`"ip":"10.0.0.9"`))
		},
		Entry("removes the partial record", false, 2),
		Entry("starts a new line when the partial record stays", true, 3),
	)

	It("refuses appending after closing", func() {
		l := Successful(Create(path))
		l.SetCounts(2, 1)
		Expect(l.Close()).To(Succeed())
		err := l.Append(types.AuditRecord{Enrichment: types.Succeeded("10.0.0.5", types.Geo{})})
		Expect(errors.Is(err, os.ErrClosed)).To(BeTrue())
		Expect(l.Summary()).To(Equal(Summary{Observed: 2, Flagged: 1, WriteFailures: 1}))
		Expect(strings.TrimSpace(string(Successful(os.ReadFile(path))))).To(BeEmpty())
	})

})
