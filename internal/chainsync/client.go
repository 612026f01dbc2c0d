package chainsync

import (
	"fmt"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// State is one of chain-sync's five states (§4.G): Idle (client agency),
// CanAwait/MustReply (server agency), Intersect (server agency), Done
// (terminal).
type State uint8

const (
	StateIdle State = iota
	StateCanAwait
	StateMustReply
	StateIntersect
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCanAwait:
		return "CanAwait"
	case StateMustReply:
		return "MustReply"
	case StateIntersect:
		return "Intersect"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// RollForward carries an opaque block header plus the sender's tip.
type RollForward struct {
	Header []byte
	Tip    protocol.Tip
}

// RollBackward names the point the chain rolled back to, plus the
// sender's tip.
type RollBackward struct {
	Point protocol.Point
	Tip   protocol.Tip
}

// NextResult is RequestNext's outcome: exactly one of the two fields is
// set.
type NextResult struct {
	RollForward  *RollForward
	RollBackward *RollBackward
}

// Client drives the client side of chain-sync: RequestNext, FindIntersect,
// Done (§4.G). It is not safe for concurrent use by multiple goroutines.
type Client struct {
	framer *cborutil.Framer
	state  State
}

// NewClient builds a Client reading/writing over framer, which must be
// backed by the chain-sync mini-protocol's Channel.
func NewClient(framer *cborutil.Framer) *Client {
	return &Client{framer: framer, state: StateIdle}
}

// State reports the client's current protocol state.
func (c *Client) State() State { return c.state }

// RequestNext asks the peer for the next roll event. If the peer has
// nothing new it replies AwaitReply first (entering MustReply) and then
// blocks until it does; RequestNext transparently waits through that,
// matching §4.G's "client call blocks until an event is available"
// contract.
func (c *Client) RequestNext() (NextResult, error) {
	if c.state != StateIdle {
		return NextResult{}, fmt.Errorf("chainsync: RequestNext requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgRequestNext{Tag: TagRequestNext}); err != nil {
		return NextResult{}, fmt.Errorf("chainsync: send RequestNext: %w", err)
	}
	c.state = StateCanAwait

	for {
		raw, tag, err := c.framer.ReadMessage()
		if err != nil {
			return NextResult{}, fmt.Errorf("chainsync: read reply: %w", err)
		}
		switch tag {
		case TagAwaitReply:
			c.state = StateMustReply
			continue
		case TagRollForward:
			var m msgRollForward
			if err := cborutil.Unmarshal(raw, &m); err != nil {
				return NextResult{}, fmt.Errorf("chainsync: malformed RollForward: %w", err)
			}
			c.state = StateIdle
			return NextResult{RollForward: &RollForward{Header: []byte(m.Header), Tip: m.Tip}}, nil
		case TagRollBackward:
			var m msgRollBackward
			if err := cborutil.Unmarshal(raw, &m); err != nil {
				return NextResult{}, fmt.Errorf("chainsync: malformed RollBackward: %w", err)
			}
			c.state = StateIdle
			return NextResult{RollBackward: &RollBackward{Point: m.Point, Tip: m.Tip}}, nil
		default:
			return NextResult{}, &protocol.ProtocolViolation{Protocol: protocol.NumChainSync, Reason: fmt.Sprintf("unexpected tag %d awaiting next roll event", tag)}
		}
	}
}

// FindIntersect asks the peer whether any of points is on its chain,
// searched in the given order (§4.G: "the first point in the list found
// on the peer's chain wins").
func (c *Client) FindIntersect(points []protocol.Point) (found bool, point protocol.Point, tip protocol.Tip, err error) {
	if c.state != StateIdle {
		return false, protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: FindIntersect requires Idle, have %s", c.state)
	}
	if sendErr := c.framer.WriteMessage(msgFindIntersect{Tag: TagFindIntersect, Points: points}); sendErr != nil {
		return false, protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: send FindIntersect: %w", sendErr)
	}
	c.state = StateIntersect

	raw, tag, readErr := c.framer.ReadMessage()
	if readErr != nil {
		return false, protocol.Point{}, protocol.Tip{}, fmt.Errorf("chainsync: read intersect reply: %w", readErr)
	}
	c.state = StateIdle

	switch tag {
	case TagIntersectFound:
		p, t, decErr := decodeIntersectFound(raw)
		if decErr != nil {
			return false, protocol.Point{}, protocol.Tip{}, decErr
		}
		return true, p, t, nil
	case TagIntersectNotFound:
		t, decErr := decodeIntersectNotFound(raw)
		if decErr != nil {
			return false, protocol.Point{}, protocol.Tip{}, decErr
		}
		return false, protocol.Point{}, t, nil
	default:
		return false, protocol.Point{}, protocol.Tip{}, &protocol.ProtocolViolation{Protocol: protocol.NumChainSync, Reason: fmt.Sprintf("unexpected tag %d replying to FindIntersect", tag)}
	}
}

// Done ends the mini-protocol. It is only valid from Idle, matching
// §4.G: the client must not cancel mid-await or mid-intersect.
func (c *Client) Done() error {
	if c.state != StateIdle {
		return fmt.Errorf("chainsync: Done requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgDone{Tag: TagDone}); err != nil {
		return fmt.Errorf("chainsync: send Done: %w", err)
	}
	c.state = StateDone
	return nil
}
