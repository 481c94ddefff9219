// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import "errors"

var (
	// ErrUnavailable wraps transient connectivity/query failures against
	// the underlying database (spec §4.2, §7).
	ErrUnavailable = errors.New("store: unavailable")
	// ErrConstraintViolation is reserved for non-uniqueness constraint
	// failures; duplicate (chainId, number) or (chainId, hash) rows are
	// never surfaced as an error (spec §4.2's upsertMany contract).
	ErrConstraintViolation = errors.New("store: constraint violation")
)
