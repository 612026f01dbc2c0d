// Package muxer implements the segment-based multiplexer/demultiplexer
// that fans N mini-protocol channels onto one bearer (component C), and
// the per-protocol Channel (component D). It is adapted from the
// teacher's SimpleNode: readLoop/sendLoop/messageLoop become Demux's
// read loop and Mux's write loop, and channelsMap becomes the registry
// of Channel values below, generalized from Bitcoin's single envelope
// stream to per-(protocol,role) framing with true backpressure.
package muxer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/bearer"
	"ouroboros/internal/protocol"
	"ouroboros/internal/segment"
)

// ChannelOptions configures a single registered channel's queue bounds.
type ChannelOptions struct {
	OutboundCap int
	HighWater   int
}

// Mux owns a bearer's write half and fans outbound bytes from every
// registered channel onto it as segments, round-robining across
// channels that currently have data queued so no single busy
// mini-protocol starves the others (§4.C).
type Mux struct {
	bearer bearer.Bearer
	log    *logrus.Entry

	mu       sync.Mutex
	channels []*Channel
	byID     map[protocol.ID]*Channel

	done chan struct{}
	err  error
	once sync.Once

	// wake is signalled by a Channel.Write once it has something queued,
	// so Run can block between rounds instead of polling.
	wake chan struct{}

	clock func() uint32
}

// NewMux constructs a Mux writing to b's write half. log may be nil, in
// which case logrus's standard logger is used.
func NewMux(b bearer.Bearer, log *logrus.Entry) *Mux {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Mux{
		bearer: b,
		log:    log.WithField("component", "mux"),
		byID:   make(map[protocol.ID]*Channel),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		clock:  defaultClock,
	}
}

var muxEpoch = time.Now()

func defaultClock() uint32 {
	return uint32(time.Since(muxEpoch).Microseconds())
}

// Register adds a channel for id with the given options (zero value
// selects the defaults) and returns it. Registering the same id twice
// panics: it indicates a programming error in the facade wiring, not a
// recoverable runtime condition.
func (m *Mux) Register(id protocol.ID, opts ChannelOptions) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[id]; exists {
		panic(fmt.Sprintf("muxer: channel %s already registered", id))
	}
	ch := newChannel(id, opts.OutboundCap, opts.HighWater)
	ch.wake = m.wake
	m.channels = append(m.channels, ch)
	m.byID[id] = ch
	return ch
}

// Channel returns the channel registered for id, or nil if none was.
func (m *Mux) Channel(id protocol.ID) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// channelList returns a stable-ordered snapshot of registered channels
// for round-robin scanning.
func (m *Mux) channelList() []*Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Channel, len(m.channels))
	copy(out, m.channels)
	return out
}

// Run drives the outbound scheduler until the bearer fails, the done
// channel is closed by Close, or ctx-like cancellation is requested via
// Close. It is meant to run in its own goroutine, started by the peer
// facade.
func (m *Mux) Run() error {
	idx := 0
	for {
		select {
		case <-m.done:
			return m.errOrNil()
		default:
		}

		channels := m.channelList()
		if len(channels) == 0 {
			// Every peer registers at least one channel (handshake)
			// before Run starts; this is a defensive fallback, not the
			// steady-state idle path.
			select {
			case <-m.wake:
			case <-m.done:
				return m.errOrNil()
			case <-time.After(time.Millisecond):
			}
			continue
		}

		progressed := false
		for i := 0; i < len(channels); i++ {
			idx = (idx + 1) % len(channels)
			ch := channels[idx]
			data, ok := ch.popOutbound(segment.MaxPayload)
			if !ok {
				continue
			}
			progressed = true
			seg := segment.Segment{
				TimestampUs: m.clock(),
				Protocol:    ch.id.Num,
				Role:        ch.id.Role,
				Payload:     data,
			}
			wire, err := segment.Encode(seg)
			if err != nil {
				return m.fail(fmt.Errorf("mux: encode %s: %w", ch.id, err))
			}
			if _, err := m.bearer.Writer().Write(wire); err != nil {
				return m.fail(fmt.Errorf("mux: write %s: %w", ch.id, err))
			}
		}

		if !progressed {
			// Nothing queued on any channel: block until Channel.Write
			// wakes us instead of spinning.
			select {
			case <-m.wake:
			case <-m.done:
				return m.errOrNil()
			}
		}
	}
}

func (m *Mux) fail(err error) error {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
	m.broadcastFailure(err)
	return err
}

// Close stops the write loop without attributing an error (a graceful,
// caller-initiated shutdown rather than a bearer failure).
func (m *Mux) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Mux) errOrNil() error { return m.err }

// broadcastFailure propagates a single bearer error to every registered
// channel, per §4.C's failure semantics: bearer errors are fatal to the
// entire bearer.
func (m *Mux) broadcastFailure(err error) {
	for _, ch := range m.channelList() {
		ch.closeWithError(err)
	}
}

var _ io.Writer = (*Channel)(nil)
