// Package handshake implements PN=0, the per-bearer negotiation of a
// protocol version and its parameters that must complete before any
// other mini-protocol may send a byte on the same bearer (§3 invariant
// 3, §4.F). It is grounded in the teacher's VersionMessage/Handshake()
// pair: a typed request/response exchanged once over the connection
// before any other traffic flows, generalized from Bitcoin's fixed
// version/verack pair to a negotiated version *table* with explicit
// refusal and a query-only mode.
package handshake

import (
	"fmt"
	"sort"

	"ouroboros/internal/cborutil"
)

// Message tags, in the order §4.F lists the variants.
const (
	TagPropose    uint64 = 0
	TagAccept     uint64 = 1
	TagRefuse     uint64 = 2
	TagQueryReply uint64 = 3
)

// Params are a version's negotiated parameters. The core treats these as
// an opaque CBOR-encoded value in general, but ships the concrete
// Cardano field set described in §6.
type Params struct {
	NetworkMagic               uint32
	InitiatorOnlyDiffusionMode bool
	PeerSharingMode            uint8
	Query                      bool
}

// VersionTable maps a handshake version number to its parameters. §6
// requires the core to ship a built-in default table but accept an
// override; DefaultNodeToNodeVersions/DefaultNodeToClientVersions below
// are those defaults.
type VersionTable map[uint32]Params

// RefuseReasonKind discriminates Refuse's reason sum type.
type RefuseReasonKind uint64

const (
	RefuseVersionMismatch     RefuseReasonKind = 0
	RefuseHandshakeDecodeErr  RefuseReasonKind = 1
	RefuseRefused             RefuseReasonKind = 2
)

// RefuseReason is Refuse's payload: either the list of versions the
// refuser does support, or a version-scoped decode/refusal message.
type RefuseReason struct {
	Kind     RefuseReasonKind
	Versions []uint32 // Kind == RefuseVersionMismatch
	Version  uint32   // Kind == RefuseHandshakeDecodeErr || RefuseRefused
	Text     string   // Kind == RefuseHandshakeDecodeErr || RefuseRefused
}

type refuseReasonWire struct {
	_    struct{} `cbor:",toarray"`
	Kind uint64
	// fxamacker/cbor does not decode an array into a toarray struct with
	// fewer fields, so UnmarshalCBOR reads the kind with cborutil.Tag
	// instead of through this struct, then decodes the kind-specific
	// shape.
}

type refuseMismatchWire struct {
	_        struct{} `cbor:",toarray"`
	Kind     uint64
	Versions []uint32
}

type refuseTextWire struct {
	_       struct{} `cbor:",toarray"`
	Kind    uint64
	Version uint32
	Text    string
}

// MarshalCBOR encodes the reason as the kind-appropriate array shape.
func (r RefuseReason) MarshalCBOR() ([]byte, error) {
	switch r.Kind {
	case RefuseVersionMismatch:
		return cborutil.Marshal(refuseMismatchWire{Kind: uint64(r.Kind), Versions: r.Versions})
	case RefuseHandshakeDecodeErr, RefuseRefused:
		return cborutil.Marshal(refuseTextWire{Kind: uint64(r.Kind), Version: r.Version, Text: r.Text})
	default:
		return nil, fmt.Errorf("handshake: unknown refuse reason kind %d", r.Kind)
	}
}

// UnmarshalCBOR decodes whichever shape MarshalCBOR produced. The leading
// kind is read on its own first, since a toarray struct only decodes an
// array with exactly as many elements as it has fields.
func (r *RefuseReason) UnmarshalCBOR(data []byte) error {
	kind, err := cborutil.Tag(data)
	if err != nil {
		return fmt.Errorf("handshake: decode refuse reason: %w", err)
	}
	switch RefuseReasonKind(kind) {
	case RefuseVersionMismatch:
		var w refuseMismatchWire
		if err := cborutil.Unmarshal(data, &w); err != nil {
			return err
		}
		*r = RefuseReason{Kind: RefuseVersionMismatch, Versions: w.Versions}
	case RefuseHandshakeDecodeErr, RefuseRefused:
		var w refuseTextWire
		if err := cborutil.Unmarshal(data, &w); err != nil {
			return err
		}
		*r = RefuseReason{Kind: RefuseReasonKind(kind), Version: w.Version, Text: w.Text}
	default:
		return fmt.Errorf("handshake: unknown refuse reason kind %d", kind)
	}
	return nil
}

// MsgPropose is the client's opening message: a set of versions it is
// willing to speak, each with its proposed parameters.
type MsgPropose struct {
	_        struct{} `cbor:",toarray"`
	Tag      uint64
	Versions map[uint32]Params
}

func newPropose(versions VersionTable) MsgPropose {
	v := make(map[uint32]Params, len(versions))
	for k, p := range versions {
		v[k] = p
	}
	return MsgPropose{Tag: TagPropose, Versions: v}
}

// MsgAccept commits both ends to version with the given parameters.
type MsgAccept struct {
	_       struct{} `cbor:",toarray"`
	Tag     uint64
	Version uint32
	Params  Params
}

// MsgRefuse declines every proposed version.
type MsgRefuse struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint64
	Reason RefuseReason
}

// MsgQueryReply answers a query-mode Propose without committing to a
// version (node-to-client only, §4.F).
type MsgQueryReply struct {
	_        struct{} `cbor:",toarray"`
	Tag      uint64
	Versions map[uint32]Params
}

func sortedKeys(versions VersionTable) []uint32 {
	out := make([]uint32, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
