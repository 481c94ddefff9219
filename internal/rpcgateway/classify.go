// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcgateway

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
)

func blockNumberArg(number uint64) *big.Int {
	return new(big.Int).SetUint64(number)
}

func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

// classifyErr maps a transport-level error into the taxonomy the
// Scheduler reasons about (spec §7). Rate limiting has no single
// standard Go error type across RPC providers, so it is detected by a
// conventional HTTP 429 substring, the same heuristic most JSON-RPC
// HTTP clients fall back to.
func classifyErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return joinf(ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return joinf(ErrTimeout, err)
	case strings.Contains(err.Error(), "429"), strings.Contains(strings.ToLower(err.Error()), "rate limit"):
		return joinf(ErrRateLimited, err)
	default:
		return joinf(ErrRPCUnavailable, err)
	}
}

func joinf(sentinel, cause error) error {
	return &classifiedError{sentinel: sentinel, cause: cause}
}

type classifiedError struct {
	sentinel error
	cause    error
}

func (e *classifiedError) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *classifiedError) Unwrap() error { return e.sentinel }
func (e *classifiedError) Is(target error) bool {
	return errors.Is(e.sentinel, target)
}
