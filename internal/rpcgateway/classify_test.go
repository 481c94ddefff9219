// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcgateway

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyErrDeadlineExceeded(t *testing.T) {
	err := classifyErr(context.DeadlineExceeded)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("classifyErr(DeadlineExceeded) = %v, want ErrTimeout", err)
	}
}

func TestClassifyErrCanceled(t *testing.T) {
	err := classifyErr(context.Canceled)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("classifyErr(Canceled) = %v, want ErrTimeout", err)
	}
}

func TestClassifyErrRateLimited(t *testing.T) {
	for _, msg := range []string{"429 Too Many Requests", "upstream says Rate Limit exceeded"} {
		err := classifyErr(errors.New(msg))
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("classifyErr(%q) = %v, want ErrRateLimited", msg, err)
		}
	}
}

func TestClassifyErrDefaultsToUnavailable(t *testing.T) {
	err := classifyErr(errors.New("connection reset by peer"))
	if !errors.Is(err, ErrRPCUnavailable) {
		t.Fatalf("classifyErr(generic) = %v, want ErrRPCUnavailable", err)
	}
}

func TestClassifiedErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := joinf(ErrRPCUnavailable, cause)
	if !errors.Is(err, ErrRPCUnavailable) {
		t.Fatalf("joinf result does not satisfy errors.Is(ErrRPCUnavailable): %v", err)
	}
	if got := err.Error(); got == "" {
		t.Fatal("Error() returned empty string")
	}
}
