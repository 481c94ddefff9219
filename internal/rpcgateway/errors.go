// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcgateway

import "errors"

// Sentinel errors implementing the taxonomy of spec §4.1/§7. Callers use
// errors.Is against these; concrete failures are wrapped with
// fmt.Errorf("%w: ...", ErrX, ...) or by classifyErr, so errors.Is
// matches the sentinel and the error text keeps the underlying cause.
var (
	// ErrRPCUnavailable covers transport failures and protocol
	// violations (spec §4.1: a partial header is surfaced as this).
	ErrRPCUnavailable = errors.New("rpc: unavailable")
	ErrTimeout        = errors.New("rpc: timeout")
	ErrRateLimited    = errors.New("rpc: rate limited")
	// ErrChainUnknown is a configuration error, not a transient one: a
	// chain ID with no configured RPC URL.
	ErrChainUnknown = errors.New("rpc: chain unknown")
	// ErrNotFound is returned by BlockByNumber when the node does not
	// have the requested height.
	ErrNotFound = errors.New("rpc: block not found")
)
