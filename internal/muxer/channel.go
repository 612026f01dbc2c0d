package muxer

import (
	"io"
	"sync"

	"ouroboros/internal/protocol"
)

// Channel is a mini-protocol's pair of bounded byte queues: an outbound
// queue the mini-protocol enqueues and the muxer drains, and an inbound
// queue the demuxer appends to and the mini-protocol drains (§4.D). It
// implements io.Reader (inbound) and io.Writer (outbound enqueue) so
// mini-protocol code can treat it like any other stream.
type Channel struct {
	id protocol.ID

	mu         sync.Mutex
	cond       *sync.Cond
	outbound   [][]byte
	outboundSz int
	outboundCap int

	inbound      [][]byte
	inboundOff   int // read offset into inbound[0]
	inboundSz    int
	highWater    int

	closed bool
	closeErr error

	// wake is the owning Mux's doorbell: Write sends on it (non-blocking)
	// so Mux.Run can block between scheduling rounds instead of polling.
	// Nil until the channel is registered with a Mux.
	wake chan<- struct{}
}

// defaultOutboundCap and defaultHighWater are the queue-depth defaults
// used when a caller does not specify one. They are deliberately small:
// the point of per-channel bounds is to make backpressure visible
// quickly in tests, not to buffer megabytes per mini-protocol.
const (
	defaultOutboundCap = 256 * 1024
	defaultHighWater   = 256 * 1024
)

// newChannel constructs a channel for id. A zero outboundCap/highWater
// selects the defaults above.
func newChannel(id protocol.ID, outboundCap, highWater int) *Channel {
	if outboundCap <= 0 {
		outboundCap = defaultOutboundCap
	}
	if highWater <= 0 {
		highWater = defaultHighWater
	}
	c := &Channel{id: id, outboundCap: outboundCap, highWater: highWater}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ID returns the (protocol number, role) this channel was registered
// under.
func (c *Channel) ID() protocol.ID { return c.id }

// Write enqueues p onto the outbound queue, blocking (cooperatively
// yielding to the goroutine scheduler) while the queue is at capacity,
// per §4.D's backpressure rule. It never partially enqueues: the whole
// payload is appended as one chunk so the muxer can decide how to split
// it into segments.
func (c *Channel) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := append([]byte(nil), p...)
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.outboundSz > 0 && c.outboundSz+len(buf) > c.outboundCap && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return 0, c.closeErr
	}
	c.outbound = append(c.outbound, buf)
	c.outboundSz += len(buf)
	c.cond.Broadcast()
	if c.wake != nil {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// popOutbound removes and returns up to maxLen bytes of outbound data
// for the muxer to frame into a segment. It returns ok=false if the
// channel currently has nothing queued.
func (c *Channel) popOutbound(maxLen int) (data []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbound) == 0 {
		return nil, false
	}
	chunk := c.outbound[0]
	if len(chunk) <= maxLen {
		c.outbound = c.outbound[1:]
		c.outboundSz -= len(chunk)
		c.cond.Broadcast()
		return chunk, true
	}
	data = chunk[:maxLen]
	c.outbound[0] = chunk[maxLen:]
	c.outboundSz -= maxLen
	c.cond.Broadcast()
	return data, true
}

// deliver appends payload to the inbound queue on behalf of the demuxer.
// It blocks while the inbound queue is already over its high-water mark,
// which is how a slow mini-protocol consumer throttles the demuxer's
// reads from the bearer (§4.D, §4.C).
func (c *Channel) deliver(payload []byte) {
	if len(payload) == 0 {
		return
	}
	buf := append([]byte(nil), payload...)
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inboundSz > c.highWater && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return
	}
	c.inbound = append(c.inbound, buf)
	c.inboundSz += len(buf)
	c.cond.Broadcast()
}

// Read drains inbound bytes for the mini-protocol decoder, blocking
// until at least one byte is available, the channel is closed, or its
// terminal error is set.
func (c *Channel) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.inbound) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.inbound) == 0 {
		if c.closeErr != nil {
			return 0, c.closeErr
		}
		return 0, io.EOF
	}
	chunk := c.inbound[0]
	n := copy(p, chunk[c.inboundOff:])
	c.inboundOff += n
	c.inboundSz -= n
	if c.inboundOff == len(chunk) {
		c.inbound = c.inbound[1:]
		c.inboundOff = 0
	}
	c.cond.Broadcast()
	return n, nil
}

// closeWithError marks the channel closed, waking any blocked Read,
// Write, or deliver call. Subsequent Reads drain whatever was already
// queued before returning err.
func (c *Channel) closeWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	c.cond.Broadcast()
}

// Close implements io.Closer; it closes the channel with io.ErrClosedPipe.
func (c *Channel) Close() error {
	c.closeWithError(io.ErrClosedPipe)
	return nil
}

// CloseWithError closes the channel the way a bearer or keep-alive
// failure does, attributing err to any Read/Write blocked on it or
// called afterward, instead of the generic io.ErrClosedPipe. The peer
// facade uses this so a keep-alive timeout or a bearer I/O error
// surfaces as the *same* error on every mini-protocol handle (§8
// scenario 6), not just on Peer.Err().
func (c *Channel) CloseWithError(err error) error {
	c.closeWithError(err)
	return nil
}
