package blockfetch

import (
	"fmt"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// State is one of block-fetch's four states (§4.H): Idle (client
// agency), Busy (server deciding whether it has the range), Streaming
// (server agency, emitting blocks), Done (terminal).
type State uint8

const (
	StateIdle State = iota
	StateBusy
	StateStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateStreaming:
		return "Streaming"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Client drives the client side of block-fetch: RequestRange followed by
// reading a batch of blocks, or ClientDone. It is not safe for concurrent
// use by multiple goroutines.
type Client struct {
	framer  *cborutil.Framer
	state   State
	pending int // outstanding RequestRange replies not yet read, §4.H pipelining
}

// NewClient builds a Client reading/writing over framer, which must be
// backed by the block-fetch mini-protocol's Channel.
func NewClient(framer *cborutil.Framer) *Client {
	return &Client{framer: framer, state: StateIdle}
}

// RequestRangePipelined sends RequestRange without waiting for the
// previous range's StartBatch/NoBlocks or BatchDone, which §4.H permits
// only when the negotiated handshake version enables pipelining; callers
// must gate use of this method on that negotiated capability themselves,
// since this package has no handshake awareness of its own. Replies are
// collected in order with CollectPipelined once the caller chooses to
// drain the pipeline.
func (c *Client) RequestRangePipelined(from, to protocol.Point) error {
	if err := c.framer.WriteMessage(msgRequestRange{Tag: TagRequestRange, From: from, To: to}); err != nil {
		return fmt.Errorf("blockfetch: send pipelined RequestRange: %w", err)
	}
	c.pending++
	c.state = StateBusy
	return nil
}

// State reports the client's current protocol state.
func (c *Client) State() State { return c.state }

// RequestRange asks for every block from `from` to `to` inclusive. It
// returns false if the peer has none of the range (NoBlocks), or true
// once the peer has agreed to stream the batch (StartBatch): call
// NextBlock repeatedly afterward until it reports done.
func (c *Client) RequestRange(from, to protocol.Point) (willStream bool, err error) {
	if c.state != StateIdle {
		return false, fmt.Errorf("blockfetch: RequestRange requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgRequestRange{Tag: TagRequestRange, From: from, To: to}); err != nil {
		return false, fmt.Errorf("blockfetch: send RequestRange: %w", err)
	}
	c.state = StateBusy
	return c.awaitRangeReply()
}

// CollectPipelined reads the next outstanding reply from a prior
// RequestRangePipelined call, in the order those requests were sent.
func (c *Client) CollectPipelined() (willStream bool, err error) {
	if c.pending == 0 {
		return false, fmt.Errorf("blockfetch: no pipelined requests outstanding")
	}
	c.pending--
	return c.awaitRangeReply()
}

func (c *Client) awaitRangeReply() (willStream bool, err error) {
	_, tag, err := c.framer.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("blockfetch: read reply: %w", err)
	}
	switch tag {
	case TagStartBatch:
		c.state = StateStreaming
		return true, nil
	case TagNoBlocks:
		if c.pending == 0 {
			c.state = StateIdle
		}
		return false, nil
	default:
		return false, &protocol.ProtocolViolation{Protocol: protocol.NumBlockFetch, Reason: fmt.Sprintf("unexpected tag %d replying to RequestRange", tag)}
	}
}

// NextBlock reads the next block of a streaming batch. ok is false once
// BatchDone arrives, at which point the client returns to Idle.
func (c *Client) NextBlock() (body []byte, ok bool, err error) {
	if c.state != StateStreaming {
		return nil, false, fmt.Errorf("blockfetch: NextBlock requires Streaming, have %s", c.state)
	}
	raw, tag, readErr := c.framer.ReadMessage()
	if readErr != nil {
		return nil, false, fmt.Errorf("blockfetch: read block: %w", readErr)
	}
	switch tag {
	case TagBlock:
		var m msgBlock
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return nil, false, fmt.Errorf("blockfetch: malformed Block: %w", err)
		}
		return []byte(m.Body), true, nil
	case TagBatchDone:
		c.state = StateIdle
		return nil, false, nil
	default:
		return nil, false, &protocol.ProtocolViolation{Protocol: protocol.NumBlockFetch, Reason: fmt.Sprintf("unexpected tag %d mid-batch", tag)}
	}
}

// Done ends the mini-protocol. It is only valid from Idle.
func (c *Client) Done() error {
	if c.state != StateIdle {
		return fmt.Errorf("blockfetch: Done requires Idle, have %s", c.state)
	}
	if err := c.framer.WriteMessage(msgClientDone{Tag: TagClientDone}); err != nil {
		return fmt.Errorf("blockfetch: send ClientDone: %w", err)
	}
	c.state = StateDone
	return nil
}
