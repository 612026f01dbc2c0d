package handshake

import (
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// State is one of the three handshake states (§4.F): Propose (client
// agency), Confirm (server agency), Done (terminal).
type State uint8

const (
	StatePropose State = iota
	StateConfirm
	StateDone
)

// Result is the outcome of a successful negotiation.
type Result struct {
	Version uint32
	Params  Params
}

// Machine drives one side of a handshake exchange over a Framer backed
// by the handshake mini-protocol's Channel (PN=0).
type Machine struct {
	framer *cborutil.Framer
	table  VersionTable
	log    *logrus.Entry
	state  State
}

// NewMachine builds a Machine that will propose versions from table.
func NewMachine(framer *cborutil.Framer, table VersionTable, log *logrus.Entry) *Machine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Machine{framer: framer, table: table, log: log.WithField("component", "handshake"), state: StatePropose}
}

// State reports the machine's current position, letting a facade such as
// internal/peer refuse to open other mini-protocol channels until it
// sees StateDone (§3 invariant 3: no traffic before the handshake
// completes).
func (m *Machine) State() State { return m.state }

// RunInitiator sends Propose and waits for the peer's reply. If the peer
// instead sends its own Propose — a simultaneous-open race — this is
// treated as a non-fatal restart rather than a protocol violation: the
// role assigned by localAddr/remoteAddr decides which side now acts as
// responder (§4.F). When either address is nil, or both sort equal, both
// sides answer the Propose they received as responder.
func (m *Machine) RunInitiator(localAddr, remoteAddr net.Addr) (Result, error) {
	if err := m.framer.WriteMessage(newPropose(m.table)); err != nil {
		return Result{}, fmt.Errorf("handshake: send Propose: %w", err)
	}
	m.state = StateConfirm

	raw, tag, err := m.framer.ReadMessage()
	if err != nil {
		return Result{}, fmt.Errorf("handshake: read reply: %w", err)
	}

	switch tag {
	case TagAccept:
		return m.handleAccept(raw)
	case TagRefuse:
		return m.handleRefuse(raw)
	case TagQueryReply:
		return Result{}, fmt.Errorf("handshake: unexpected QueryReply to a non-query Propose")
	case TagPropose:
		// Simultaneous open: both sides proposed before either read a
		// reply. The side whose local address sorts lower stays
		// initiator and waits for the peer's answer to its own Propose;
		// the other side answers the Propose it holds as RunResponder
		// would.
		wins := localAddr != nil && remoteAddr != nil && addrSortsLower(localAddr, remoteAddr)
		m.log.WithField("wins_tiebreak", wins).
			Warn("simultaneous open: received Propose while awaiting reply")
		if !wins {
			return m.respondTo(raw)
		}
		raw, tag, err = m.framer.ReadMessage()
		if err != nil {
			return Result{}, fmt.Errorf("handshake: read reply: %w", err)
		}
		switch tag {
		case TagAccept:
			return m.handleAccept(raw)
		case TagRefuse:
			return m.handleRefuse(raw)
		}
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: fmt.Sprintf("unexpected tag %d after simultaneous open", tag)}
	default:
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: fmt.Sprintf("unexpected tag %d in Propose state", tag)}
	}
}

// RunResponder waits for the peer's Propose and replies with Accept,
// Refuse, or QueryReply.
func (m *Machine) RunResponder() (Result, error) {
	raw, tag, err := m.framer.ReadMessage()
	if err != nil {
		return Result{}, fmt.Errorf("handshake: read Propose: %w", err)
	}
	if tag != TagPropose {
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: fmt.Sprintf("expected Propose, got tag %d", tag)}
	}
	return m.respondTo(raw)
}

func (m *Machine) respondTo(raw []byte) (Result, error) {
	defer func() { m.state = StateDone }()
	var propose MsgPropose
	if err := cborutil.Unmarshal(raw, &propose); err != nil {
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: "malformed Propose", Cause: err}
	}

	// Highest mutually supported version wins.
	var best uint32
	var bestParams Params
	found := false
	query := false
	for v, p := range propose.Versions {
		if p.Query {
			query = true
		}
		if ours, ok := m.table[v]; ok && (!found || v > best) {
			best, bestParams, found = v, ours, true
		}
	}

	if query {
		reply := MsgQueryReply{Tag: TagQueryReply, Versions: cloneTable(m.table)}
		if err := m.framer.WriteMessage(reply); err != nil {
			return Result{}, fmt.Errorf("handshake: send QueryReply: %w", err)
		}
		return Result{}, fmt.Errorf("handshake: query mode, no version committed")
	}

	if !found {
		refuse := MsgRefuse{Tag: TagRefuse, Reason: RefuseReason{Kind: RefuseVersionMismatch, Versions: sortedKeys(m.table)}}
		if err := m.framer.WriteMessage(refuse); err != nil {
			return Result{}, fmt.Errorf("handshake: send Refuse: %w", err)
		}
		return Result{}, &protocol.VersionMismatch{Versions: sortedKeys(m.table)}
	}

	accept := MsgAccept{Tag: TagAccept, Version: best, Params: bestParams}
	if err := m.framer.WriteMessage(accept); err != nil {
		return Result{}, fmt.Errorf("handshake: send Accept: %w", err)
	}
	return Result{Version: best, Params: bestParams}, nil
}

func (m *Machine) handleAccept(raw []byte) (Result, error) {
	var accept MsgAccept
	if err := cborutil.Unmarshal(raw, &accept); err != nil {
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: "malformed Accept", Cause: err}
	}
	if _, ok := m.table[accept.Version]; !ok {
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: fmt.Sprintf("peer accepted version %d we did not propose", accept.Version)}
	}
	m.state = StateDone
	return Result{Version: accept.Version, Params: accept.Params}, nil
}

func (m *Machine) handleRefuse(raw []byte) (Result, error) {
	var refuse MsgRefuse
	if err := cborutil.Unmarshal(raw, &refuse); err != nil {
		return Result{}, &protocol.ProtocolViolation{Protocol: protocol.NumHandshake, Reason: "malformed Refuse", Cause: err}
	}
	switch refuse.Reason.Kind {
	case RefuseVersionMismatch:
		return Result{}, &protocol.VersionMismatch{Versions: refuse.Reason.Versions}
	default:
		return Result{}, fmt.Errorf("handshake: refused (version %d): %s", refuse.Reason.Version, refuse.Reason.Text)
	}
}

func cloneTable(t VersionTable) map[uint32]Params {
	out := make(map[uint32]Params, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// addrSortsLower reports whether local's string form sorts before
// remote's, the tie-break §4.F specifies: "the side whose local address
// sorts lower becomes initiator".
func addrSortsLower(local, remote net.Addr) bool {
	if local == nil || remote == nil {
		return true
	}
	return strings.Compare(local.String(), remote.String()) < 0
}
