// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package health implements the liveness and readiness checks backing
// the Read API's /health/liveness and /health/readiness routes. These
// are plain process-local status checks, not part of spec.md's own
// module list, but any long-running service shipped the way the
// teacher ships cmd/evm-node needs both.
package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/mem"
)

// Pinger is the slice of the Block Store the readiness check depends
// on: whether the database the Read API serves from is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the two health checks.
type Checker struct {
	pinger           Pinger
	maxMemoryPercent float64
}

// Option configures a Checker.
type Option func(*Checker)

// WithMaxMemoryPercent overrides the system memory-usage ceiling past
// which Liveness reports unhealthy. Default is 95%.
func WithMaxMemoryPercent(pct float64) Option {
	return func(c *Checker) { c.maxMemoryPercent = pct }
}

// New builds a Checker against pinger.
func New(pinger Pinger, opts ...Option) *Checker {
	c := &Checker{pinger: pinger, maxMemoryPercent: 95}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Liveness reports whether the process itself is still healthy enough
// to keep running: a pure in-process check with no external calls, so
// it never blocks on the database.
func (c *Checker) Liveness(context.Context) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		// A failure to read memory stats is not itself a liveness
		// failure; the process can still be serving traffic fine.
		return nil
	}
	if vm.UsedPercent > c.maxMemoryPercent {
		return fmt.Errorf("health: system memory usage %.1f%% exceeds ceiling %.1f%%", vm.UsedPercent, c.maxMemoryPercent)
	}
	return nil
}

// Readiness reports whether the process is ready to serve traffic that
// depends on the Block Store, by pinging it.
func (c *Checker) Readiness(ctx context.Context) error {
	if err := c.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("health: store unreachable: %w", err)
	}
	return nil
}
