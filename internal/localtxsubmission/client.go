package localtxsubmission

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// State is one of local-tx-submission's three states (§4.K): Idle
// (client), Busy (server), Done (terminal).
type State uint8

const (
	StateIdle State = iota
	StateBusy
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Client drives the client side: SubmitTx or Done. It is not safe for
// concurrent use by multiple goroutines.
type Client struct {
	framer *cborutil.Framer
	state  State
}

// NewClient builds a Client reading/writing over framer.
func NewClient(framer *cborutil.Framer) *Client {
	return &Client{framer: framer, state: StateIdle}
}

// State reports the client's current protocol state.
func (c *Client) State() State { return c.state }

// SubmitTx submits body (an era-tagged, already-serialized transaction)
// and blocks for the server's verdict. A rejection is returned as
// *protocol.TxRejected, which still carries the raw rejection bytes for
// callers that want to decode era-specific detail themselves (§4.K).
func (c *Client) SubmitTx(eraTag uint16, body []byte) error {
	if c.state != StateIdle {
		return fmt.Errorf("localtxsubmission: SubmitTx requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgSubmitTx{Tag: TagSubmitTx, EraTag: eraTag, Body: cbor.RawMessage(body)}); err != nil {
		return fmt.Errorf("localtxsubmission: send SubmitTx: %w", err)
	}
	c.state = StateBusy

	raw, tag, err := c.framer.ReadMessage()
	if err != nil {
		return fmt.Errorf("localtxsubmission: read verdict: %w", err)
	}
	c.state = StateIdle
	switch tag {
	case TagAcceptTx:
		return nil
	case TagRejectTx:
		var m msgRejectTx
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("localtxsubmission: malformed RejectTx: %w", err)
		}
		return &protocol.TxRejected{EraTag: eraTag, Raw: m.Reason}
	default:
		return &protocol.ProtocolViolation{Protocol: protocol.NumLocalTxSubmission, Reason: fmt.Sprintf("unexpected tag %d in Busy", tag)}
	}
}

// Done ends the mini-protocol. Only valid from Idle.
func (c *Client) Done() error {
	if c.state != StateIdle {
		return fmt.Errorf("localtxsubmission: Done requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgDone{Tag: TagDone}); err != nil {
		return fmt.Errorf("localtxsubmission: send Done: %w", err)
	}
	c.state = StateDone
	return nil
}
