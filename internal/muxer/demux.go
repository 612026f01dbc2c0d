package muxer

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/bearer"
	"ouroboros/internal/protocol"
	"ouroboros/internal/segment"
)

// Demux owns a bearer's read half and delivers each inbound segment's
// payload to the channel registered for (protocol, flipped role) — the
// flip because a segment's role bit names the *sender's* role, and the
// channel keyed by that role on the receiving side is the mirror (§3).
type Demux struct {
	bearer bearer.Bearer
	log    *logrus.Entry

	mu   sync.Mutex
	byID map[protocol.ID]*Channel

	done chan struct{}
	err  error
	once sync.Once
}

// NewDemux constructs a Demux reading from b's read half.
func NewDemux(b bearer.Bearer, log *logrus.Entry) *Demux {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Demux{
		bearer: b,
		log:    log.WithField("component", "demux"),
		byID:   make(map[protocol.ID]*Channel),
		done:   make(chan struct{}),
	}
}

// Register makes ch the destination for segments whose sender-role,
// once flipped, matches id. Call this with the same Channel values
// passed to the paired Mux's Register, keyed by the *local* role (the
// role this process's mini-protocol speaks).
func (d *Demux) Register(localID protocol.ID, ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// A segment arrives stamped with the sender's role; the sender of
	// messages destined for our localID channel is our peer, who holds
	// the opposite role.
	peerID := protocol.ID{Num: localID.Num, Role: localID.Role.Opposite()}
	d.byID[peerID] = ch
}

func (d *Demux) lookup(id protocol.ID) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.byID[id]
	return ch, ok
}

// Run drives the inbound loop: read a segment, deliver its payload, and
// repeat, until the bearer errors or Close is called. A segment for an
// unregistered protocol is dropped with a warning rather than treated as
// fatal (§4.C).
func (d *Demux) Run() error {
	for {
		select {
		case <-d.done:
			return d.err
		default:
		}

		seg, err := segment.Decode(d.bearer.Reader())
		if err != nil {
			return d.fail(fmt.Errorf("demux: read: %w", err))
		}

		id := protocol.ID{Num: seg.Protocol, Role: seg.Role}
		ch, ok := d.lookup(id)
		if !ok {
			d.log.Warnf("dropping segment for unregistered protocol %s (%d bytes)", id, len(seg.Payload))
			continue
		}
		ch.deliver(seg.Payload)
	}
}

func (d *Demux) fail(err error) error {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
	d.broadcastFailure(err)
	return err
}

// Close stops the read loop without attributing an error.
func (d *Demux) Close() {
	d.once.Do(func() { close(d.done) })
}

func (d *Demux) broadcastFailure(err error) {
	d.mu.Lock()
	channels := make([]*Channel, 0, len(d.byID))
	for _, ch := range d.byID {
		channels = append(channels, ch)
	}
	d.mu.Unlock()
	for _, ch := range channels {
		ch.closeWithError(err)
	}
}
