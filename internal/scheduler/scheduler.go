// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scheduler implements the Ingestion Scheduler of spec §4.3:
// two periodic per-process timers (head tick, gap scan), dispatching one
// independent work unit per configured chain per tick, with per-chain
// failure isolation and no persistent bookkeeping beyond what the Block
// Store already holds.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/luxfi/blockwatch/internal/headers"
	blog "github.com/luxfi/blockwatch/internal/log"
	"github.com/luxfi/blockwatch/internal/rpcgateway"
)

// RPC is the slice of rpcgateway.Gateway the Scheduler depends on.
type RPC interface {
	ConfiguredChainIDs() []uint32
	ChainName(chainID uint32) string
	HeadNumber(ctx context.Context, chainID uint32) (uint64, error)
	BlockByNumber(ctx context.Context, chainID uint32, number uint64) (headers.Header, error)
}

// Store is the slice of store.Store the Scheduler depends on.
type Store interface {
	Latest(ctx context.Context, chainID uint32) (headers.Header, bool, error)
	UpsertMany(ctx context.Context, rows []headers.Header) (int, error)
	FindMissingInRange(ctx context.Context, chainID uint32, limit int) ([]uint64, error)
}

// Observer publishes the metrics of spec §4.5 that the Scheduler drives
// directly: tick error counters and scheduler lag. SetLastObservedHead
// reports each chain's synced head; metrics.Metrics implements it as a
// no-op, so no last-observed-head gauge is exported.
type Observer interface {
	IncHeadTickErrors(chainID uint32)
	IncGapScanErrors(chainID uint32)
	SetLastObservedHead(chainID uint32, head uint64)
	ObserveSchedulerLag(lag time.Duration)
}

type noopObserver struct{}

func (noopObserver) IncHeadTickErrors(uint32)          {}
func (noopObserver) IncGapScanErrors(uint32)           {}
func (noopObserver) SetLastObservedHead(uint32, uint64) {}
func (noopObserver) ObserveSchedulerLag(time.Duration)  {}

// Config tunes the two timer periods, the gap-scan fan-out bound, and
// the head-tick deadline (spec §4.3, §5). RPCTimeout bounds each
// head-tick work unit; a gap-scan work unit, RPC calls included, runs
// under a deadline of one GapScanPeriod instead.
type Config struct {
	HeadTickPeriod time.Duration
	GapScanPeriod  time.Duration
	GapLimit       int
	RPCTimeout     time.Duration
}

// DefaultConfig matches spec §2/§4.3's stated defaults.
func DefaultConfig() Config {
	return Config{
		HeadTickPeriod: 5 * time.Second,
		GapScanPeriod:  60 * time.Second,
		GapLimit:       10,
		RPCTimeout:     5 * time.Second,
	}
}

// Scheduler drives the head tick and gap scan loops. It holds only
// ephemeral per-process state (spec §4.3): the configured chain IDs
// (read once at construction) and the two timer goroutines; the
// authoritative ingestion cursor is always Store.Latest.
type Scheduler struct {
	rpc      RPC
	store    Store
	cfg      Config
	observer Observer

	chainIDs []uint32

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	started  bool
	mu       sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New constructs a Scheduler. Configured chain IDs are read once here
// from rpc, per spec §4.3's "obtained once from the RPC Gateway at
// startup".
func New(rpc RPC, st Store, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		rpc:      rpc,
		store:    st,
		cfg:      cfg,
		observer: noopObserver{},
		chainIDs: rpc.ConfiguredChainIDs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs an immediate gap scan (spec §4.3.3: the Scheduler MAY
// trigger one before the first timer fires) and then launches both
// periodic loops. Start must be called at most once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.runGapScanOnce(runCtx)

	s.wg.Add(2)
	go s.loop(runCtx, s.cfg.HeadTickPeriod, s.runHeadTickOnce)
	go s.loop(runCtx, s.cfg.GapScanPeriod, s.runGapScanOnce)
}

// Stop cancels both timers and blocks until in-flight ticks return
// (spec §4.3.4). It is safe to call even if Start was never called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// loop fires fn every period, skipping a firing if the previous one is
// still running (spec §5: "no reentrancy ... equivalently queue at most
// one pending fire"). It exits when ctx is cancelled, awaiting the
// in-flight fn call if any.
func (s *Scheduler) loop(ctx context.Context, period time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	// idle holds one token while no firing of this timer is running; a
	// tick that finds it empty is dropped rather than queued, per spec
	// §5's "no reentrancy ... queue at most one pending fire".
	idle := make(chan struct{}, 1)
	idle <- struct{}{}

	var fireWG sync.WaitGroup
	defer fireWG.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case tickTime := <-ticker.C:
			select {
			case <-idle:
				s.observer.ObserveSchedulerLag(time.Since(tickTime))
				fireWG.Add(1)
				go func() {
					defer fireWG.Done()
					defer func() { idle <- struct{}{} }()
					fn(ctx)
				}()
			default:
			}
		}
	}
}

// runHeadTickOnce dispatches one head-tick work unit per configured
// chain, independently (spec §4.3.1). One chain's error never aborts
// another's (spec §7).
func (s *Scheduler) runHeadTickOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, chainID := range s.chainIDs {
		wg.Add(1)
		go func(chainID uint32) {
			defer wg.Done()
			s.headTickForChain(ctx, chainID)
		}(chainID)
	}
	wg.Wait()
}

func (s *Scheduler) headTickForChain(ctx context.Context, chainID uint32) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()

	head, err := s.rpc.HeadNumber(ctx, chainID)
	if err != nil {
		blog.Warn("head tick: headNumber failed", "chain_id", chainID, "err", err)
		s.observer.IncHeadTickErrors(chainID)
		return
	}

	hdr, err := s.rpc.BlockByNumber(ctx, chainID, head)
	if err != nil {
		// spec §4.3.1: NotFound here is transient (momentary node
		// inconsistency). Every error from BlockByNumber, ErrNotFound
		// included, takes this same path as ErrRPCUnavailable, so no
		// special-casing is needed here.
		blog.Warn("head tick: blockByNumber failed", "chain_id", chainID, "height", head, "err", err)
		s.observer.IncHeadTickErrors(chainID)
		return
	}

	if _, err := s.store.UpsertMany(ctx, []headers.Header{hdr}); err != nil {
		blog.Warn("head tick: upsert failed", "chain_id", chainID, "height", head, "err", err)
		s.observer.IncHeadTickErrors(chainID)
		return
	}

	s.observer.SetLastObservedHead(chainID, head)
	blog.Debug("head tick: synced", "chain_id", chainID, "height", head)
}

// runGapScanOnce dispatches one gap-scan work unit per configured
// chain, independently (spec §4.3.2).
func (s *Scheduler) runGapScanOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, chainID := range s.chainIDs {
		wg.Add(1)
		go func(chainID uint32) {
			defer wg.Done()
			s.gapScanForChain(ctx, chainID)
		}(chainID)
	}
	wg.Wait()
}

func (s *Scheduler) gapScanForChain(ctx context.Context, chainID uint32) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GapScanPeriod)
	defer cancel()

	_, ok, err := s.store.Latest(ctx, chainID)
	if err != nil {
		blog.Warn("gap scan: latest failed", "chain_id", chainID, "err", err)
		s.observer.IncGapScanErrors(chainID)
		return
	}
	if !ok {
		// spec §4.3.2 step 1: the head tick must seed the chain first;
		// gap scan never introduces a chain's first block.
		blog.Debug("No blocks in DB yet", "chain_id", chainID)
		return
	}

	missing, err := s.store.FindMissingInRange(ctx, chainID, s.cfg.GapLimit)
	if err != nil {
		blog.Warn("gap scan: findMissingInRange failed", "chain_id", chainID, "err", err)
		s.observer.IncGapScanErrors(chainID)
		return
	}
	if len(missing) == 0 {
		blog.Debug("No missing blocks found", "chain_id", chainID)
		return
	}

	// Fetch all missing heights concurrently, bounded to at most
	// len(missing) (<= GapLimit) in flight for this chain (spec §4.3.2
	// step 4).
	sem := semaphore.NewWeighted(int64(s.cfg.GapLimit))
	fetched := make([]headers.Header, len(missing))
	ok2 := make([]bool, len(missing))

	// A plain errgroup.Group (not WithContext) is used deliberately: its
	// WithContext variant cancels sibling goroutines on the first error,
	// which would abort still-healthy requests and contradict "collect
	// all successful responses" below.
	var g errgroup.Group
	for i, n := range missing {
		i, n := i, n
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			hdr, err := s.rpc.BlockByNumber(ctx, chainID, n)
			if err != nil {
				if isAnomalousNotFound(err) {
					blog.Error("gap scan: neighbor height not found on chain", "chain_id", chainID, "height", n, "err", err)
				} else {
					blog.Warn("gap scan: blockByNumber failed", "chain_id", chainID, "height", n, "err", err)
				}
				return err
			}
			fetched[i] = hdr
			ok2[i] = true
			return nil
		})
	}

	// spec §4.3.2 step 5: on any failure the scan records the error and
	// may still upsert the successful responses (each is individually
	// valid). This implementation takes that option, consistently.
	runErr := g.Wait()
	if runErr != nil {
		s.observer.IncGapScanErrors(chainID)
	}

	var successful []headers.Header
	for i, got := range ok2 {
		if got {
			successful = append(successful, fetched[i])
		}
	}
	if len(successful) == 0 {
		return
	}

	if _, err := s.store.UpsertMany(ctx, successful); err != nil {
		blog.Warn("gap scan: upsert failed", "chain_id", chainID, "err", err)
		s.observer.IncGapScanErrors(chainID)
		return
	}

	heights := make([]uint64, len(successful))
	for i, h := range successful {
		heights[i] = h.Number
	}
	blog.Debug("gap scan: synced", "chain_id", chainID, "heights", heights)
}

// isAnomalousNotFound reports whether err is the gap scan's anomalous
// NotFound case (spec §7): the height came from stored neighbors, so a
// NotFound from the chain is unexpected rather than routine.
func isAnomalousNotFound(err error) bool {
	return errors.Is(err, rpcgateway.ErrNotFound)
}
