// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package blacklist

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/siemens/blackdig/types"

	"github.com/klauspost/compress/gzip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

type failingReader struct{ after io.Reader }

func (r *failingReader) Read(p []byte) (int, error) {
	n, err := r.after.Read(p)
	if err == io.EOF {
		return n, errors.New("disk on fire")
	}
	return n, err
}

var _ = Describe("blacklist", func() {

	It("parses addresses, skipping blanks and comments", func() {
		bl := Successful(Parse(strings.NewReader(
			"10.0.0.5\n\n  10.0.0.6  \r\n# not me\n10.0.0.5\n::ffff:10.0.0.7\n\t\n")))
		Expect(bl.Len()).To(Equal(3))
		Expect(bl.Addresses()).To(Equal([]types.Address{"10.0.0.5", "10.0.0.6", "10.0.0.7"}))
		Expect(bl.Contains("10.0.0.6")).To(BeTrue())
		Expect(bl.Contains("10.0.0.9")).To(BeFalse())
	})

	It("doesn't do partial loads", func() {
		Expect(Parse(&failingReader{after: strings.NewReader("10.0.0.5\n")})).Error().
			To(MatchError("disk on fire"))
	})

	It("loads from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "blacklist.txt")
		Expect(os.WriteFile(path, []byte("10.0.0.5\n10.0.0.6\n"), 0o644)).To(Succeed())
		bl := Successful(Load(context.Background(), path))
		Expect(bl.Addresses()).To(ConsistOf(types.Address("10.0.0.5"), types.Address("10.0.0.6")))
	})

	It("loads from a compressed file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "blacklist.txt.gz")
		f := Successful(os.Create(path))
		w := gzip.NewWriter(f)
		Expect(w.Write([]byte("10.0.0.5\n"))).Error().NotTo(HaveOccurred())
		Expect(w.Close()).To(Succeed())
		Expect(f.Close()).To(Succeed())
		Expect(Successful(Load(context.Background(), path)).Contains("10.0.0.5")).To(BeTrue())
	})

	It("loads an empty blacklist", func() {
		path := filepath.Join(GinkgoT().TempDir(), "blacklist.txt")
		Expect(os.WriteFile(path, []byte("\n# nothing\n"), 0o644)).To(Succeed())
		Expect(Successful(Load(context.Background(), path)).Len()).To(BeZero())
	})

	It("fails with a configuration error for a missing source", func() {
		_, err := Load(context.Background(), filepath.Join(GinkgoT().TempDir(), "missing.txt"))
		var cfgerr *types.ConfigurationError
		Expect(errors.As(err, &cfgerr)).To(BeTrue())
		Expect(cfgerr.Resource).To(Equal("blacklist"))
		Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
	})

	It("stops loading when cancelled", func() {
		path := filepath.Join(GinkgoT().TempDir(), "blacklist.txt")
		Expect(os.WriteFile(path, []byte("10.0.0.5\n"), 0o644)).To(Succeed())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Load(ctx, path)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("creates blacklists from literals", func() {
		bl := New("10.0.0.5", " ", "2001:DB8::1")
		Expect(bl.Addresses()).To(Equal([]types.Address{"10.0.0.5", "2001:db8::1"}))
	})

})
