// Package chainsync implements PN=2 (node-to-node) / PN=5 (node-to-client):
// following a peer's chain, receiving roll-forwards and rollbacks, and
// finding an intersection point (§4.G). Header bytes are opaque to the
// core; callers that need a block number from a header supply their own
// era-discriminating decoder, matching the teacher's pattern of treating
// payloads as raw bytes and letting the application layer interpret them
// (network.Message.Serialize returning raw bytes verbatim).
package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// Message tags, matching the published CDDL.
const (
	TagRequestNext       uint64 = 0
	TagAwaitReply        uint64 = 1
	TagRollForward       uint64 = 2
	TagRollBackward      uint64 = 3
	TagFindIntersect     uint64 = 4
	TagIntersectFound    uint64 = 5
	TagIntersectNotFound uint64 = 6
	TagDone              uint64 = 7
)

type msgRequestNext struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgAwaitReply struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

type msgRollForward struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Header cbor.RawMessage
	Tip    protocol.Tip
}

type msgRollBackward struct {
	_     struct{} `cbor:",toarray"`
	Tag   uint64
	Point protocol.Point
	Tip   protocol.Tip
}

type msgFindIntersect struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Points []protocol.Point
}

type msgIntersectFound struct {
	_     struct{} `cbor:",toarray"`
	Tag   uint64
	Point protocol.Point
	Tip   protocol.Tip
}

// legacyIntersectFound is the historically mis-encoded shape (§9 OQ1):
// tip's fields flattened directly into the outer array instead of
// nested as [point, block_no]. The core must still accept it on decode.
type legacyIntersectFound struct {
	_           struct{} `cbor:",toarray"`
	Tag         uint64
	Point       protocol.Point
	TipPoint    protocol.Point
	BlockNumber uint64
}

type msgIntersectNotFound struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
	Tip protocol.Tip
}

type legacyIntersectNotFound struct {
	_           struct{} `cbor:",toarray"`
	Tag         uint64
	TipPoint    protocol.Point
	BlockNumber uint64
}

type msgDone struct {
	_   struct{} `cbor:",toarray"`
	Tag uint64
}

// decodeIntersectFound accepts both the current [tag, point, [tip_point,
// block_no]] encoding and the legacy flattened [tag, point, tip_point,
// block_no] one, always re-emitting the current shape once decoded.
func decodeIntersectFound(raw cbor.RawMessage) (protocol.Point, protocol.Tip, error) {
	var elems []cbor.RawMessage
	if err := cborutil.Unmarshal(raw, &elems); err != nil {
		return protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: malformed IntersectFound: %w", err)
	}
	switch len(elems) {
	case 3:
		var m msgIntersectFound
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: malformed IntersectFound: %w", err)
		}
		return m.Point, m.Tip, nil
	case 4:
		var m legacyIntersectFound
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: malformed legacy IntersectFound: %w", err)
		}
		return m.Point, protocol.Tip{Point: m.TipPoint, BlockNumber: m.BlockNumber}, nil
	default:
		return protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: IntersectFound has %d elements, want 3 or 4", len(elems))
	}
}

func decodeIntersectNotFound(raw cbor.RawMessage) (protocol.Tip, error) {
	var elems []cbor.RawMessage
	if err := cborutil.Unmarshal(raw, &elems); err != nil {
		return protocol.Tip{}, fmt.Errorf("chainsync: malformed IntersectNotFound: %w", err)
	}
	switch len(elems) {
	case 2:
		var m msgIntersectNotFound
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return protocol.Tip{}, fmt.Errorf("chainsync: malformed IntersectNotFound: %w", err)
		}
		return m.Tip, nil
	case 3:
		var m legacyIntersectNotFound
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return protocol.Tip{}, fmt.Errorf("chainsync: malformed legacy IntersectNotFound: %w", err)
		}
		return protocol.Tip{Point: m.TipPoint, BlockNumber: m.BlockNumber}, nil
	default:
		return protocol.Tip{}, fmt.Errorf("chainsync: IntersectNotFound has %d elements, want 2 or 3", len(elems))
	}
}
