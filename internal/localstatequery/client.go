package localstatequery

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// State is one of local-state-query's five states (§4.J): Idle (client),
// Acquiring (server), Acquired (client), Querying (server), Done
// (terminal).
type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateAcquired
	StateQuerying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAcquiring:
		return "Acquiring"
	case StateAcquired:
		return "Acquired"
	case StateQuerying:
		return "Querying"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Client drives the client side: Acquire, Query, ReAcquire, Release,
// Done. It is not safe for concurrent use by multiple goroutines.
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

// Acquire asks the peer for a ledger snapshot at target. A failure
// (§4.J: PointTooOld or PointNotOnChain) leaves the client in Idle.
func (c *Client) Acquire(target Target) error {
	if c.state != StateIdle {
		return fmt.Errorf("localstatequery: Acquire requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgAcquire{Tag: TagAcquire, Target: target}); err != nil {
		return fmt.Errorf("localstatequery: send Acquire: %w", err)
	}
	c.state = StateAcquiring
	return c.awaitAcquireReply()
}

// ReAcquire releases the current snapshot implicitly and acquires a new
// one in a single round trip, only legal from Acquired.
func (c *Client) ReAcquire(target Target) error {
	if c.state != StateAcquired {
		return fmt.Errorf("localstatequery: ReAcquire requires Acquired, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgReAcquire{Tag: TagReAcquire, Target: target}); err != nil {
		return fmt.Errorf("localstatequery: send ReAcquire: %w", err)
	}
	c.state = StateAcquiring
	return c.awaitAcquireReply()
}

func (c *Client) awaitAcquireReply() error {
	raw, tag, err := c.framer.ReadMessage()
	if err != nil {
		return fmt.Errorf("localstatequery: read acquire reply: %w", err)
	}
	switch tag {
	case TagAcquired:
		c.state = StateAcquired
		return nil
	case TagFailure:
		c.state = StateIdle
		var m msgFailure
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("localstatequery: malformed Failure: %w", err)
		}
		return &protocol.QueryFailure{Reason: m.Reason}
	default:
		return &protocol.ProtocolViolation{Protocol: protocol.NumLocalStateQuery, Reason: fmt.Sprintf("unexpected tag %d acquiring", tag)}
	}
}

// Query runs one opaque query against the acquired snapshot, returning
// its opaque result bytes verbatim (§4.J: "the core must round-trip
// them byte-for-byte").
func (c *Client) Query(query []byte) ([]byte, error) {
	if c.state != StateAcquired {
		return nil, fmt.Errorf("localstatequery: Query requires Acquired, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgQuery{Tag: TagQuery, Query: cbor.RawMessage(query)}); err != nil {
		return nil, fmt.Errorf("localstatequery: send Query: %w", err)
	}
	c.state = StateQuerying

	raw, tag, err := c.framer.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("localstatequery: read Result: %w", err)
	}
	if tag != TagResult {
		return nil, &protocol.ProtocolViolation{Protocol: protocol.NumLocalStateQuery, Reason: fmt.Sprintf("unexpected tag %d in Querying", tag)}
	}
	var m msgResult
	if err := cborutil.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("localstatequery: malformed Result: %w", err)
	}
	c.state = StateAcquired
	return []byte(m.Result), nil
}

// Release gives up the acquired snapshot, returning to Idle.
func (c *Client) Release() error {
	if c.state != StateAcquired {
		return fmt.Errorf("localstatequery: Release requires Acquired, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgRelease{Tag: TagRelease}); err != nil {
		return fmt.Errorf("localstatequery: send Release: %w", err)
	}
	c.state = StateIdle
	return nil
}

// Done ends the mini-protocol. Only valid from Idle.
func (c *Client) Done() error {
	if c.state != StateIdle {
		return fmt.Errorf("localstatequery: Done requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgDone{Tag: TagDone}); err != nil {
		return fmt.Errorf("localstatequery: send Done: %w", err)
	}
	c.state = StateDone
	return nil
}
