// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/luxfi/blockwatch/internal/headers"
	"github.com/luxfi/blockwatch/internal/rpcgateway"
	"github.com/luxfi/blockwatch/internal/scheduler"
)

type fakeRPC struct {
	mu          sync.Mutex
	chainIDs    []uint32
	heads       map[uint32]uint64
	headErrs    map[uint32]error
	blocks      map[uint32]map[uint64]headers.Header
	blockErrs   map[uint32]map[uint64]error
}

func newFakeRPC(chainIDs ...uint32) *fakeRPC {
	return &fakeRPC{
		chainIDs:  chainIDs,
		heads:     map[uint32]uint64{},
		headErrs:  map[uint32]error{},
		blocks:    map[uint32]map[uint64]headers.Header{},
		blockErrs: map[uint32]map[uint64]error{},
	}
}

func (f *fakeRPC) ConfiguredChainIDs() []uint32  { return f.chainIDs }
func (f *fakeRPC) ChainName(chainID uint32) string { return fmt.Sprintf("chain-%d", chainID) }

func (f *fakeRPC) HeadNumber(ctx context.Context, chainID uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.headErrs[chainID]; ok {
		return 0, err
	}
	return f.heads[chainID], nil
}

func (f *fakeRPC) BlockByNumber(ctx context.Context, chainID uint32, number uint64) (headers.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs, ok := f.blockErrs[chainID]; ok {
		if err, ok := errs[number]; ok {
			return headers.Header{}, err
		}
	}
	if byHeight, ok := f.blocks[chainID]; ok {
		if h, ok := byHeight[number]; ok {
			return h, nil
		}
	}
	return headers.Header{}, rpcgateway.ErrNotFound
}

func (f *fakeRPC) setHead(chainID uint32, number uint64, h headers.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads[chainID] = number
	if f.blocks[chainID] == nil {
		f.blocks[chainID] = map[uint64]headers.Header{}
	}
	f.blocks[chainID][number] = h
}

func (f *fakeRPC) failHead(chainID uint32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headErrs[chainID] = err
}

type fakeStore struct {
	mu      sync.Mutex
	rows    map[uint32]map[uint64]headers.Header
	missing map[uint32][]uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uint32]map[uint64]headers.Header{}, missing: map[uint32][]uint64{}}
}

func (s *fakeStore) Latest(ctx context.Context, chainID uint32) (headers.Header, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHeight, ok := s.rows[chainID]
	if !ok || len(byHeight) == 0 {
		return headers.Header{}, false, nil
	}
	var best headers.Header
	var found bool
	for _, h := range byHeight {
		if !found || h.Number > best.Number {
			best, found = h, true
		}
	}
	return best, true, nil
}

func (s *fakeStore) UpsertMany(ctx context.Context, rows []headers.Header) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, r := range rows {
		if s.rows[r.ChainID] == nil {
			s.rows[r.ChainID] = map[uint64]headers.Header{}
		}
		if _, exists := s.rows[r.ChainID][r.Number]; exists {
			continue
		}
		s.rows[r.ChainID][r.Number] = r
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) FindMissingInRange(ctx context.Context, chainID uint32, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.missing[chainID]
	if len(m) > limit {
		m = m[:limit]
	}
	return m, nil
}

// ByNumberForTest lets tests observe rows the Scheduler wrote through
// the narrow Store interface, without widening that interface itself.
func (s *fakeStore) ByNumberForTest(chainID uint32, number uint64) (headers.Header, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rows[chainID][number]
	return h, ok, nil
}

type fakeObserver struct {
	mu        sync.Mutex
	headTick  map[uint32]int
	gapScan   map[uint32]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{headTick: map[uint32]int{}, gapScan: map[uint32]int{}}
}

func (o *fakeObserver) IncHeadTickErrors(chainID uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.headTick[chainID]++
}
func (o *fakeObserver) IncGapScanErrors(chainID uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gapScan[chainID]++
}
func (o *fakeObserver) SetLastObservedHead(uint32, uint64)    {}
func (o *fakeObserver) ObserveSchedulerLag(time.Duration)     {}

func (o *fakeObserver) count(m map[uint32]int, chainID uint32) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m[chainID]
}

// scenario 2: head tick seeds a chain.
func TestHeadTickSeedsChain(t *testing.T) {
	rpc := newFakeRPC(3)
	rpc.setHead(3, 5000, headers.Header{ChainID: 3, Number: 5000, Hash: "0xhead5000", ParentHash: "0xparent5000", Timestamp: 1700000000})
	st := newFakeStore()
	obs := newFakeObserver()

	cfg := scheduler.DefaultConfig()
	cfg.HeadTickPeriod = 20 * time.Millisecond
	cfg.GapScanPeriod = time.Hour
	sched := scheduler.New(rpc, st, cfg, scheduler.WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		h, ok, _ := st.Latest(context.Background(), 3)
		if ok && h.Number == 5000 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for head tick to seed chain 3")
		case <-time.After(10 * time.Millisecond):
		}
	}

	h, ok, err := st.Latest(context.Background(), 3)
	if err != nil || !ok {
		t.Fatalf("Latest(3) = %v, %v, %v", h, ok, err)
	}
	if h.Hash != "0xhead5000" {
		t.Fatalf("hash = %q, want 0xhead5000", h.Hash)
	}

	cancel()
	sched.Stop()
}

// scenario 5: RPC failure isolation.
func TestHeadTickFailureIsolation(t *testing.T) {
	rpc := newFakeRPC(1, 2, 3)
	rpc.setHead(1, 100, headers.Header{ChainID: 1, Number: 100, Hash: "0xc1", ParentHash: "0xp1"})
	rpc.setHead(3, 300, headers.Header{ChainID: 3, Number: 300, Hash: "0xc3", ParentHash: "0xp3"})
	rpc.failHead(2, rpcgateway.ErrRPCUnavailable)

	st := newFakeStore()
	obs := newFakeObserver()

	cfg := scheduler.DefaultConfig()
	cfg.HeadTickPeriod = 20 * time.Millisecond
	cfg.GapScanPeriod = time.Hour
	sched := scheduler.New(rpc, st, cfg, scheduler.WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		h1, ok1, _ := st.Latest(context.Background(), 1)
		h3, ok3, _ := st.Latest(context.Background(), 3)
		if ok1 && h1.Number == 100 && ok3 && h3.Number == 300 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for chains 1 and 3 to be seeded")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	sched.Stop()

	if got := obs.count(obs.headTick, 2); got == 0 {
		t.Fatalf("head_tick_errors for chain 2 = %d, want > 0", got)
	}
	if got := obs.count(obs.headTick, 1); got != 0 {
		t.Fatalf("head_tick_errors for chain 1 = %d, want 0", got)
	}
	if got := obs.count(obs.headTick, 3); got != 0 {
		t.Fatalf("head_tick_errors for chain 3 = %d, want 0", got)
	}
}

func TestGapScanFillsMissingHeights(t *testing.T) {
	rpc := newFakeRPC(2)
	for n, h := range map[uint64]string{2006: "0xmock_2006", 2007: "0xmock_2007", 2008: "0xmock_2008", 2009: "0xmock_2009"} {
		rpc.setHead(2, n, headers.Header{ChainID: 2, Number: n, Hash: h, ParentHash: "0xparent"})
	}

	st := newFakeStore()
	st.rows[2] = map[uint64]headers.Header{2000: {ChainID: 2, Number: 2000, Hash: "0xpre"}}
	st.missing[2] = []uint64{2006, 2007, 2008, 2009}

	cfg := scheduler.DefaultConfig()
	cfg.HeadTickPeriod = time.Hour
	cfg.GapScanPeriod = 20 * time.Millisecond
	cfg.GapLimit = 10
	sched := scheduler.New(rpc, st, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		h, ok, _ := st.ByNumberForTest(2, 2009)
		if ok && h.Hash == "0xmock_2009" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for gap scan to fill chain 2")
		case <-time.After(10 * time.Millisecond):
		}
	}

	for n, want := range map[uint64]string{2006: "0xmock_2006", 2007: "0xmock_2007", 2008: "0xmock_2008", 2009: "0xmock_2009"} {
		h, ok, _ := st.ByNumberForTest(2, n)
		if !ok || h.Hash != want {
			t.Fatalf("height %d = %+v, want hash %q", n, h, want)
		}
	}

	cancel()
	sched.Stop()
}

func TestStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	rpc := newFakeRPC(1)
	rpc.setHead(1, 10, headers.Header{ChainID: 1, Number: 10, Hash: "0xa", ParentHash: "0xb"})
	st := newFakeStore()

	cfg := scheduler.DefaultConfig()
	cfg.HeadTickPeriod = 10 * time.Millisecond
	cfg.GapScanPeriod = 10 * time.Millisecond
	sched := scheduler.New(rpc, st, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	sched.Stop()
}
