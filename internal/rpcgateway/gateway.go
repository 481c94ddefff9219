// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpcgateway implements the chain-agnostic RPC read surface of
// spec §4.1: head number and block-by-number over one or more
// EVM-compatible chains, decoupling the Scheduler from any concrete
// client library. Transport is github.com/ethereum/go-ethereum's
// ethclient, the one genuinely fetchable EVM RPC client in the
// retrieval pack (the teacher's own client is a private fork requiring
// a local sibling checkout this module does not have).
package rpcgateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/luxfi/blockwatch/internal/config"
	"github.com/luxfi/blockwatch/internal/headers"
	blog "github.com/luxfi/blockwatch/internal/log"
)

// ChainResolver resolves a chain ID to an RPC URL, lazily for chains not
// known at startup (spec §6). config.ChainURL satisfies this.
type ChainResolver func(chainID uint32) (url string, ok bool)

// Gateway is the public contract of spec §4.1.
type Gateway interface {
	ConfiguredChainIDs() []uint32
	ChainName(chainID uint32) string
	HeadNumber(ctx context.Context, chainID uint32) (uint64, error)
	BlockByNumber(ctx context.Context, chainID uint32, number uint64) (headers.Header, error)
}

// gateway caches one *ethclient.Client per chain in an LRU of 64
// entries; past that size the least recently used client is evicted
// and re-dialed on its chain's next call. Population is
// side-effect-free, and concurrent readers never observe a half
// constructed client (spec §4.1, §5's "single writer serializes
// insertions").
type gateway struct {
	resolve ChainResolver
	configured mapset.Set[uint32]

	mu      sync.Mutex
	clients *lru.Cache // chainID -> *ethclient.Client
}

// New builds a Gateway for the given initially-configured chain IDs.
// Additional chains may still be queried later; they succeed only if
// resolve finds a URL for them (spec §4.1's lazy RPC_CHAIN_<N>_URL
// rule), and fail with ErrChainUnknown otherwise.
func New(initialChainIDs []uint32, resolve ChainResolver) Gateway {
	cache, err := lru.New(64)
	if err != nil {
		// lru.New only errors on a non-positive size, which is a
		// programmer error, not a runtime condition callers can act on.
		panic(err)
	}
	configured := mapset.NewSet[uint32]()
	for _, id := range initialChainIDs {
		configured.Add(id)
	}
	return &gateway{resolve: resolve, configured: configured, clients: cache}
}

func (g *gateway) ConfiguredChainIDs() []uint32 {
	return g.configured.ToSlice()
}

// ChainName never fails (spec §4.1): it is used for log/metric labels
// only, so an unknown chain still yields a synthetic, stable name.
func (g *gateway) ChainName(chainID uint32) string {
	switch chainID {
	case config.EthMainnetChainID:
		return "ethereum-mainnet"
	case 137:
		return "polygon"
	case 10:
		return "optimism"
	case 42161:
		return "arbitrum"
	default:
		return fmt.Sprintf("chain-%d", chainID)
	}
}

func (g *gateway) HeadNumber(ctx context.Context, chainID uint32) (uint64, error) {
	client, err := g.clientFor(ctx, chainID)
	if err != nil {
		return 0, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, classifyErr(err)
	}
	return head, nil
}

func (g *gateway) BlockByNumber(ctx context.Context, chainID uint32, number uint64) (headers.Header, error) {
	client, err := g.clientFor(ctx, chainID)
	if err != nil {
		return headers.Header{}, err
	}

	hdr, err := client.HeaderByNumber(ctx, blockNumberArg(number))
	if err != nil {
		if isNotFound(err) {
			return headers.Header{}, fmt.Errorf("%w: chain %d height %d", ErrNotFound, chainID, number)
		}
		return headers.Header{}, classifyErr(err)
	}

	// spec §4.1: a partial header (missing hash/parentHash) is a
	// protocol violation, surfaced identically to RpcUnavailable rather
	// than silently persisted.
	hash := hdr.Hash().Hex()
	parentHash := hdr.ParentHash.Hex()
	if hash == "" || parentHash == "" {
		return headers.Header{}, fmt.Errorf("%w: chain %d height %d returned a partial header", ErrRPCUnavailable, chainID, number)
	}

	return headers.Header{
		ChainID:    chainID,
		Number:     hdr.Number.Uint64(),
		Hash:       hash,
		ParentHash: parentHash,
		Timestamp:  uint32(hdr.Time),
	}, nil
}

func (g *gateway) clientFor(ctx context.Context, chainID uint32) (*ethclient.Client, error) {
	if v, ok := g.clients.Get(chainID); ok {
		return v.(*ethclient.Client), nil
	}

	url, ok := g.resolve(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", ErrChainUnknown, chainID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Re-check under the lock: another goroutine may have populated the
	// cache while we were resolving the URL.
	if v, ok := g.clients.Get(chainID); ok {
		return v.(*ethclient.Client), nil
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial chain %d: %v", ErrRPCUnavailable, chainID, err)
	}
	g.clients.Add(chainID, client)
	g.configured.Add(chainID)
	blog.Debug("rpc gateway dialed chain", "chain_id", chainID)
	return client, nil
}
