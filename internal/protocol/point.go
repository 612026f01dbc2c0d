package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/protocolhash"
)

// Point identifies a location on a chain: a slot number and a block hash,
// or the distinguished Origin point preceding every chain.
type Point struct {
	Slot      uint64
	BlockHash [32]byte
	origin    bool
}

// Origin is the distinguished point before the first block of any chain.
var Origin = Point{origin: true}

// NewPoint builds a concrete (non-origin) point.
func NewPoint(slot uint64, blockHash [32]byte) Point {
	return Point{Slot: slot, BlockHash: blockHash}
}

// NewPointFromHeader builds a point from a block header's raw bytes,
// hashing it with the same Blake2b-256 construction Cardano uses for
// block hashes. Chain-sync's RollForward carries the header as an
// opaque byte string (the core never decodes it, §1); a caller that
// wants a Point to pass to FindIntersect or to compare against a tip
// derives it this way instead of hashing it independently.
func NewPointFromHeader(slot uint64, header []byte) Point {
	return Point{Slot: slot, BlockHash: protocolhash.Sum256(header)}
}

// IsOrigin reports whether p is the distinguished Origin point.
func (p Point) IsOrigin() bool {
	return p.origin
}

func (p Point) String() string {
	if p.origin {
		return "origin"
	}
	return fmt.Sprintf("(slot=%d, hash=%x)", p.Slot, p.BlockHash)
}

// Tip identifies a peer's current best chain: the point at its tip plus
// that point's block number.
type Tip struct {
	_           struct{} `cbor:",toarray"`
	Point       Point
	BlockNumber uint64
}

func (t Tip) String() string {
	return fmt.Sprintf("tip{%s, block=%d}", t.Point, t.BlockNumber)
}

// pointFields is the wire shape of a concrete point: a 2-element CBOR
// array of [slot, block_hash].
type pointFields struct {
	_         struct{} `cbor:",toarray"`
	Slot      uint64
	BlockHash []byte
}

// MarshalCBOR encodes Origin as an empty CBOR array and a concrete point
// as [slot, block_hash], matching the CDDL the core's mini-protocols share.
func (p Point) MarshalCBOR() ([]byte, error) {
	if p.origin {
		return cbor.Marshal([]any{})
	}
	return cbor.Marshal(pointFields{Slot: p.Slot, BlockHash: p.BlockHash[:]})
}

// UnmarshalCBOR decodes either shape produced by MarshalCBOR.
func (p *Point) UnmarshalCBOR(data []byte) error {
	var raw []cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode point: %w", err)
	}
	if len(raw) == 0 {
		*p = Origin
		return nil
	}
	var fields pointFields
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode point fields: %w", err)
	}
	if len(fields.BlockHash) != 32 {
		return fmt.Errorf("decode point: block hash must be 32 bytes, got %d", len(fields.BlockHash))
	}
	np := Point{Slot: fields.Slot}
	copy(np.BlockHash[:], fields.BlockHash)
	*p = np
	return nil
}
