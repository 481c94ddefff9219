// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store_test

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/luxfi/blockwatch/internal/headers"
	"github.com/luxfi/blockwatch/internal/store"
)

var _ = ginkgo.Describe("Block Store", func() {
	var (
		pool *pgxpool.Pool
		s    *store.Store
		ctx  context.Context
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		connString := os.Getenv("BLOCKWATCH_TEST_DATABASE_URL")
		var err error
		pool, err = pgxpool.New(ctx, connString)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(store.Migrate(ctx, pool)).To(gomega.Succeed())
		_, err = pool.Exec(ctx, "TRUNCATE block_headers")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		s = store.New(pool)
	})

	ginkgo.AfterEach(func() {
		pool.Close()
	})

	header := func(chainID uint32, number uint64, hash string) headers.Header {
		return headers.Header{ChainID: chainID, Number: number, Hash: hash, ParentHash: "0xparent", Timestamp: uint32(number)}
	}

	ginkgo.It("U1: replaying an identical batch inserts zero new rows the second time", func() {
		batch := []headers.Header{header(1, 100, "0xa"), header(1, 101, "0xb")}
		n, err := s.UpsertMany(ctx, batch)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(n).To(gomega.Equal(2))

		n, err = s.UpsertMany(ctx, batch)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(n).To(gomega.Equal(0))
	})

	ginkgo.It("U2: byNumber never bleeds across chains", func() {
		_, err := s.UpsertMany(ctx, []headers.Header{header(1, 50, "0xone"), header(2, 50, "0xtwo")})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		h, ok, err := s.ByNumber(ctx, 1, 50)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(h.Hash).To(gomega.Equal("0xone"))

		h, ok, err = s.ByNumber(ctx, 2, 50)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(h.Hash).To(gomega.Equal("0xtwo"))
	})

	ginkgo.It("scenario 3: fills the gap within a bounded island pair", func() {
		var rows []headers.Header
		for n := uint64(2000); n <= 2005; n++ {
			rows = append(rows, header(2, n, "0xpre"))
		}
		for n := uint64(2010); n <= 2015; n++ {
			rows = append(rows, header(2, n, "0xpost"))
		}
		_, err := s.UpsertMany(ctx, rows)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		missing, err := s.FindMissingInRange(ctx, 2, 10)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(missing).To(gomega.Equal([]uint64{2006, 2007, 2008, 2009}))

		fill := []headers.Header{
			header(2, 2006, "0xmock_2006"),
			header(2, 2007, "0xmock_2007"),
			header(2, 2008, "0xmock_2008"),
			header(2, 2009, "0xmock_2009"),
		}
		n, err := s.UpsertMany(ctx, fill)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(n).To(gomega.Equal(4))

		h, _, err := s.ByNumber(ctx, 2, 2006)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(h.Hash).To(gomega.Equal("0xmock_2006"))

		h, _, err = s.ByNumber(ctx, 2, 2009)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(h.Hash).To(gomega.Equal("0xmock_2009"))

		n, err = s.UpsertMany(ctx, fill)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(n).To(gomega.Equal(0))
	})

	ginkgo.It("scenario 4: a contiguous chain reports no gaps", func() {
		var rows []headers.Header
		for n := uint64(1000); n <= 1020; n++ {
			rows = append(rows, header(1, n, "0xc"))
		}
		_, err := s.UpsertMany(ctx, rows)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		missing, err := s.FindMissingInRange(ctx, 1, 10)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(missing).To(gomega.BeEmpty())
	})

	ginkgo.It("scenario 6: bounds output to the smallest missing heights across islands", func() {
		var rows []headers.Header
		for _, span := range [][2]uint64{{3000, 3010}, {3050, 3060}, {3100, 3110}} {
			for n := span[0]; n <= span[1]; n++ {
				rows = append(rows, header(99, n, "0xisland"))
			}
		}
		_, err := s.UpsertMany(ctx, rows)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		missing, err := s.FindMissingInRange(ctx, 99, 10)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		want := make([]uint64, 0, 10)
		for n := uint64(3011); n <= 3020; n++ {
			want = append(want, n)
		}
		gomega.Expect(missing).To(gomega.Equal(want))
	})
})
