// Package localstatequery implements PN=7: acquiring a ledger snapshot
// at a point (or the current tip) and running opaque queries against it
// (§4.J). Query and result payloads are the caller's concern; this
// package only frames them and enforces legal message sequencing.
package localstatequery

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/protocol"
)

// Message tags.
const (
	TagAcquire   uint64 = 0
	TagAcquired  uint64 = 1
	TagFailure   uint64 = 2
	TagQuery     uint64 = 3
	TagResult    uint64 = 4
	TagReAcquire uint64 = 5
	TagRelease   uint64 = 6
	TagDone      uint64 = 7
)

// Target names what to acquire: a specific point, or the peer's current
// tip.
type Target struct {
	Point      protocol.Point
	CurrentTip bool
}

// AtPoint builds a Target naming a specific point.
func AtPoint(p protocol.Point) Target { return Target{Point: p} }

// CurrentTipTarget is the distinguished target meaning "whatever the peer's
// tip is when it processes this Acquire".
var CurrentTipTarget = Target{CurrentTip: true}

// MarshalCBOR encodes CurrentTip as an empty array, a point target as a
// 1-element array wrapping it.
func (t Target) MarshalCBOR() ([]byte, error) {
	if t.CurrentTip {
		return cbor.Marshal([]any{})
	}
	return cbor.Marshal([1]protocol.Point{t.Point})
}

// UnmarshalCBOR decodes either shape MarshalCBOR produces.
func (t *Target) UnmarshalCBOR(data []byte) error {
	var raw []cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("localstatequery: decode target: %w", err)
	}
	if len(raw) == 0 {
		*t = Target{CurrentTip: true}
		return nil
	}
	var pts [1]protocol.Point
	if err := cbor.Unmarshal(data, &pts); err != nil {
		return fmt.Errorf("localstatequery: decode target point: %w", err)
	}
	*t = Target{Point: pts[0]}
	return nil
}

type msgAcquire struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Target Target
}

type msgAcquired struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgFailure struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Reason string
}

type msgQuery struct {
	_     struct{} `cbor:",toarray"`
	Tag   uint64
	Query cbor.RawMessage
}

type msgResult struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Result cbor.RawMessage
}

type msgReAcquire struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Target Target
}

type msgRelease struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgDone struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}
