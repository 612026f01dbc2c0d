// Package localtxsubmission implements PN=6: a one-shot request to
// apply a single transaction to the node's mempool, with a structured
// rejection taxonomy (§4.K).
package localtxsubmission

import (
	"github.com/fxamacker/cbor/v2"
)

// Message tags.
const (
	TagSubmitTx uint64 = 0
	TagAcceptTx uint64 = 1
	TagRejectTx uint64 = 2
	TagDone     uint64 = 3
)

type msgSubmitTx struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	EraTag uint16
	Body   cbor.RawMessage
}

type msgAcceptTx struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgRejectTx struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Reason []byte
}

type msgDone struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}
