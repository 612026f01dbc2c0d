package txsubmission

import (
	"fmt"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// State is one of tx-submission's states from the holder's point of
// view (§4.I): Init (holder agency, first message only), Idle
// (downloader agency), TxIdsBlocking/TxIdsNonBlocking/Txs (holder
// agency, replying), Done (terminal).
type State uint8

const (
	StateInit State = iota
	StateIdle
	StateTxIdsBlocking
	StateTxIdsNonBlocking
	StateTxs
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	case StateTxIdsBlocking:
		return "TxIdsBlocking"
	case StateTxIdsNonBlocking:
		return "TxIdsNonBlocking"
	case StateTxs:
		return "Txs"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Request is a decoded downloader request. Exactly one field is set.
type Request struct {
	TxIds *RequestTxIdsReq
	Txs   *[]TxID
}

// RequestTxIdsReq is a decoded RequestTxIds.
type RequestTxIdsReq struct {
	Blocking    bool
	Acknowledge uint16
	Request     uint16
}

// Holder drives the transaction-holder side: it owns a FIFO of announced
// identifiers and answers the downloader's requests. It is not safe for
// concurrent use by multiple goroutines.
type Holder struct {
	framer *cborutil.Framer
	state  State

	// window is the FIFO of identifiers announced but not yet
	// acknowledged by the downloader (§4.I).
	window []TxID
}

// NewHolder builds a Holder reading/writing over framer.
func NewHolder(framer *cborutil.Framer) *Holder {
	return &Holder{framer: framer, state: StateInit}
}

// State reports the holder's current protocol state.
func (h *Holder) State() State { return h.state }

// SendInit opens the mini-protocol, the one message the holder sends
// unprompted.
func (h *Holder) SendInit() error {
	if h.state != StateInit {
		return fmt.Errorf("txsubmission: Init already sent")
	}
	if err := h.framer.WriteMessage(msgInit{Tag: TagInit}); err != nil {
		return fmt.Errorf("txsubmission: send Init: %w", err)
	}
	h.state = StateIdle
	return nil
}

// ReadRequest blocks for the downloader's next request.
func (h *Holder) ReadRequest() (Request, error) {
	if h.state != StateIdle {
		return Request{}, fmt.Errorf("txsubmission: ReadRequest requires Idle, have %s", h.state)
	}
	raw, tag, err := h.framer.ReadMessage()
	if err != nil {
		return Request{}, fmt.Errorf("txsubmission: read request: %w", err)
	}
	switch tag {
	case TagRequestTxIds:
		var m msgRequestTxIds
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("txsubmission: malformed RequestTxIds: %w", err)
		}
		if int(m.Acknowledge) > len(h.window) {
			return Request{}, &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: fmt.Sprintf("acknowledge %d exceeds outstanding window %d", m.Acknowledge, len(h.window))}
		}
		h.window = h.window[m.Acknowledge:]
		if m.Blocking {
			h.state = StateTxIdsBlocking
		} else {
			h.state = StateTxIdsNonBlocking
		}
		return Request{TxIds: &RequestTxIdsReq{Blocking: m.Blocking, Acknowledge: m.Acknowledge, Request: m.Request}}, nil
	case TagRequestTxs:
		var m msgRequestTxs
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("txsubmission: malformed RequestTxs: %w", err)
		}
		h.state = StateTxs
		return Request{Txs: &m.Ids}, nil
	default:
		return Request{}, &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: fmt.Sprintf("unexpected tag %d in Idle", tag)}
	}
}

// ReplyTxIds answers a RequestTxIds with newly announced identifiers,
// appending them to the FIFO window, and returns to Idle. In blocking
// mode the caller must supply at least as many entries as were
// requested unless it instead calls Done.
func (h *Holder) ReplyTxIds(ids []TxIDAndSize) error {
	if h.state != StateTxIdsBlocking && h.state != StateTxIdsNonBlocking {
		return fmt.Errorf("txsubmission: ReplyTxIds requires TxIdsBlocking or TxIdsNonBlocking, have %s", h.state)
	}
	if err := h.framer.WriteMessage(msgReplyTxIds{Tag: TagReplyTxIds, Ids: ids}); err != nil {
		return fmt.Errorf("txsubmission: send ReplyTxIds: %w", err)
	}
	for _, id := range ids {
		h.window = append(h.window, id.ID)
	}
	h.state = StateIdle
	return nil
}

// ReplyTxs answers a RequestTxs with the requested bodies. Per §4.I, a
// transaction evicted from the mempool since being requested is not a
// protocol error: bodies may legitimately contain fewer entries than ids
// requested.
func (h *Holder) ReplyTxs(bodies [][]byte) error {
	if h.state != StateTxs {
		return fmt.Errorf("txsubmission: ReplyTxs requires Txs, have %s", h.state)
	}
	if err := h.framer.WriteMessage(msgReplyTxs{Tag: TagReplyTxs, Bodies: bodies}); err != nil {
		return fmt.Errorf("txsubmission: send ReplyTxs: %w", err)
	}
	h.state = StateIdle
	return nil
}

// Done terminates the mini-protocol. It is only valid from
// TxIdsBlocking (§4.I): a holder awaiting a non-blocking request must
// always reply, never cancel.
func (h *Holder) Done() error {
	if h.state != StateTxIdsBlocking {
		return fmt.Errorf("txsubmission: Done requires TxIdsBlocking, have %s", h.state)
	}
	if err := h.framer.WriteMessage(msgDone{Tag: TagDone}); err != nil {
		return fmt.Errorf("txsubmission: send Done: %w", err)
	}
	h.state = StateDone
	return nil
}
