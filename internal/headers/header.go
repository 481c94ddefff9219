// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package headers defines the persisted block header type shared by the
// RPC gateway, the block store, and the read API.
package headers

import "fmt"

// Header is the only entity the ingestion core persists. Number is a
// plain Go uint64 and Timestamp a uint32 end to end: unlike a 53-bit
// float, they never lose precision on the way in from the chain or out
// to a client, so no arbitrary-precision type is needed internally. The
// decimal-string boundary rule in spec §3/§6 applies only at the JSON
// edge (see headers.DTO).
type Header struct {
	// ID is the store's surrogate key. Zero until the row has been
	// persisted; never exposed outside the store.
	ID int64

	ChainID uint32

	// Number is the block height within ChainID.
	Number uint64

	// Hash and ParentHash are hex-encoded, 0x-prefixed strings, stored
	// exactly as received from the chain.
	Hash       string
	ParentHash string

	// Timestamp is seconds since epoch as reported by the chain; the
	// core never re-clocks it.
	Timestamp uint32
}

func (h Header) String() string {
	return fmt.Sprintf("Header{chain=%d number=%d hash=%s}", h.ChainID, h.Number, h.Hash)
}

// DTO is the wire shape returned by the read API (spec §6). Every
// numeric field is a decimal string, even though Number and Timestamp
// fit comfortably in a JSON number, because API consumers assume no
// precision loss regardless of the field's magnitude.
type DTO struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

// ToDTO converts a stored header to its wire representation.
func ToDTO(h Header) DTO {
	return DTO{
		Number:     fmt.Sprintf("%d", h.Number),
		Hash:       h.Hash,
		ParentHash: h.ParentHash,
		Timestamp:  fmt.Sprintf("%d", h.Timestamp),
	}
}
