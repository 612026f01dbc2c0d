package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// DefaultPeriod is how often a Client pings the peer (§4.L).
const DefaultPeriod = 10 * time.Second

// DefaultTimeout is how long a Client waits for a KeepAliveResponse
// before declaring the peer dead (§4.L).
const DefaultTimeout = 60 * time.Second

// Client runs both halves of keep-alive over a single framer: a pinger
// that emits KeepAlive(cookie) every Period and expects a matching
// KeepAliveResponse within Timeout, and an echo responder that answers
// the peer's own pings. Every Peer runs exactly one Client, whichever
// side of the bearer it is on, so the two sides are symmetric.
//
// Both duties share one inbound stream: the peer's own pings and its
// replies to ours arrive indistinguishably except by message tag, since
// there is only one channel per (protocol, role) pair. Run therefore
// owns the framer's only reader and dispatches each inbound message by
// tag, rather than letting a separate pinger and responder goroutine
// race on ReadMessage.
type Client struct {
	framer  *cborutil.Framer
	log     *logrus.Entry
	Period  time.Duration
	Timeout time.Duration

	cookie uint16
}

// NewClient builds a Client with the package defaults; override Period
// and Timeout on the returned value before calling Run if needed.
func NewClient(framer *cborutil.Framer, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		framer:  framer,
		log:     log.WithField("component", "keepalive"),
		Period:  DefaultPeriod,
		Timeout: DefaultTimeout,
	}
}

type inboundMsg struct {
	tag uint64
	raw []byte
	err error
}

// Run blocks, pinging every Period and answering the peer's pings,
// until ctx is cancelled or a round fails. It spawns exactly one
// reader goroutine for the framer's lifetime and does everything else
// on the calling goroutine. Meant to run in its own goroutine, started
// by the peer facade.
func (c *Client) Run(ctx context.Context) error {
	msgs := make(chan inboundMsg, 1)
	go func() {
		for {
			raw, tag, err := c.framer.ReadMessage()
			select {
			case msgs <- inboundMsg{tag: tag, raw: raw, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(c.Period)
	defer ticker.Stop()

	var waiting bool
	var pendingCookie uint16
	var deadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if waiting {
				// Previous ping still outstanding; its own deadline
				// will resolve before we send another.
				continue
			}
			pendingCookie = c.cookie
			c.cookie++
			if err := c.framer.WriteMessage(msgKeepAlive{Tag: TagKeepAlive, Cookie: pendingCookie}); err != nil {
				return fmt.Errorf("keepalive: send KeepAlive: %w", err)
			}
			waiting = true
			deadline = time.After(c.Timeout)

		case <-deadline:
			if waiting {
				return &protocol.Timeout{Protocol: protocol.NumKeepAlive, Waiting: "KeepAliveResponse"}
			}

		case m := <-msgs:
			if m.err != nil {
				return fmt.Errorf("keepalive: read: %w", m.err)
			}
			switch m.tag {
			case TagKeepAlive:
				var km msgKeepAlive
				if err := cborutil.Unmarshal(m.raw, &km); err != nil {
					return fmt.Errorf("keepalive: malformed KeepAlive: %w", err)
				}
				if err := c.framer.WriteMessage(msgKeepAliveResponse{Tag: TagKeepAliveResponse, Cookie: km.Cookie}); err != nil {
					return fmt.Errorf("keepalive: send KeepAliveResponse: %w", err)
				}
				c.log.WithField("cookie", km.Cookie).Debug("answered keepalive")

			case TagKeepAliveResponse:
				if !waiting {
					return &protocol.ProtocolViolation{Protocol: protocol.NumKeepAlive, Reason: "unsolicited KeepAliveResponse"}
				}
				var km msgKeepAliveResponse
				if err := cborutil.Unmarshal(m.raw, &km); err != nil {
					return fmt.Errorf("keepalive: malformed KeepAliveResponse: %w", err)
				}
				if km.Cookie != pendingCookie {
					return &protocol.ProtocolViolation{Protocol: protocol.NumKeepAlive, Reason: fmt.Sprintf("cookie mismatch: sent %d, got %d", pendingCookie, km.Cookie)}
				}
				waiting = false
				deadline = nil
				c.log.WithField("cookie", pendingCookie).Debug("keepalive round trip ok")

			default:
				return &protocol.ProtocolViolation{Protocol: protocol.NumKeepAlive, Reason: fmt.Sprintf("unexpected tag %d", m.tag)}
			}
		}
	}
}
