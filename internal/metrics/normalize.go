// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import "regexp"

var (
	uuidPattern   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hex64Pattern  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	hex40Pattern  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)
	decimalNumber = regexp.MustCompile(`^[0-9]+$`)
)

// allowedRoutes are the fixed, non-parameterized path segments the
// Read API actually serves; anything else that still looks like a
// literal segment collapses to "unknown" rather than leaking an
// unbounded label cardinality into http_server_requests_seconds.
var allowedRoutes = map[string]bool{
	"evm":       true,
	"blocks":    true,
	"health":    true,
	"liveness":  true,
	"readiness": true,
	"latest":    true,
	"metrics":   true,
}

// NormalizeRouteSegment collapses one path segment into a bounded
// label value for the route dimension of http_server_requests_seconds
// (spec §4.5). Checks run most-specific-first: a 64-hex segment (hash,
// optionally 0x-prefixed) is distinguished from a 40-hex segment
// (address) before either falls through to the decimal or allow-list
// cases.
func NormalizeRouteSegment(segment string) string {
	switch {
	case uuidPattern.MatchString(segment):
		return ":id"
	case hex64Pattern.MatchString(segment):
		return ":hash"
	case hex40Pattern.MatchString(segment):
		return ":address"
	case decimalNumber.MatchString(segment):
		return ":id"
	case allowedRoutes[segment]:
		return segment
	default:
		return "unknown"
	}
}
