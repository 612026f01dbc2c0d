// Package blockfetch implements PN=3: bulk retrieval of a contiguous
// range of blocks by point, streamed back as a batch (§4.H). Like
// chainsync, block bodies are opaque bytes to this package.
package blockfetch

import (
	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/protocol"
)

// Message tags, matching the published CDDL.
const (
	TagRequestRange uint64 = 0
	TagClientDone   uint64 = 1
	TagStartBatch   uint64 = 2
	TagNoBlocks     uint64 = 3
	TagBlock        uint64 = 4
	TagBatchDone    uint64 = 5
)

type msgRequestRange struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint64
	From protocol.Point
	To   protocol.Point
}

type msgClientDone struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgStartBatch struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgNoBlocks struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgBlock struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint64
	Body cbor.RawMessage
}

type msgBatchDone struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}
