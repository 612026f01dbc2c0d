package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// Request is a decoded client request, handed to the Server's caller so
// application code (a chain store, a fake peer in a test) decides how to
// answer it. Exactly one of the two fields is non-nil.
type Request struct {
	Next         *struct{}
	FindIntersect *[]protocol.Point
}

// Server reads client requests from framer and encodes the application's
// chosen reply. It holds no chain state of its own: §4.G's server states
// (CanAwait/MustReply/Intersect) are a function of which reply the caller
// sends, not anything Server tracks internally.
type Server struct {
	framer *cborutil.Framer
}

// NewServer builds a Server reading/writing over framer.
func NewServer(framer *cborutil.Framer) *Server {
	return &Server{framer: framer}
}

// ReadRequest blocks for the client's next message: RequestNext,
// FindIntersect, or Done. Done returns an empty Request with done true
// and a nil error, signaling the caller to tear down.
func (s *Server) ReadRequest() (req Request, done bool, err error) {
	raw, tag, err := s.framer.ReadMessage()
	if err != nil {
		return Request{}, false, fmt.Errorf("chainsync: read request: %w", err)
	}
	switch tag {
	case TagRequestNext:
		return Request{Next: &struct{}{}}, false, nil
	case TagFindIntersect:
		var m msgFindIntersect
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, false, fmt.Errorf("chainsync: malformed FindIntersect: %w", err)
		}
		return Request{FindIntersect: &m.Points}, false, nil
	case TagDone:
		return Request{}, true, nil
	default:
		return Request{}, false, &protocol.ProtocolViolation{Protocol: protocol.NumChainSync, Reason: fmt.Sprintf("unexpected tag %d from client", tag)}
	}
}

// SendAwaitReply tells the client no new roll event is available yet
// (entering MustReply); the client blocks for a subsequent
// SendRollForward/SendRollBackward.
func (s *Server) SendAwaitReply() error {
	return s.framer.WriteMessage(msgAwaitReply{Tag: TagAwaitReply})
}

// SendRollForward answers a pending RequestNext with a new header.
// header must already be a complete, well-formed CBOR item: this package
// treats headers as opaque (§4.G) and splices the bytes in verbatim
// rather than re-encoding them.
func (s *Server) SendRollForward(header []byte, tip protocol.Tip) error {
	return s.framer.WriteMessage(msgRollForward{Tag: TagRollForward, Header: cbor.RawMessage(header), Tip: tip})
}

// SendRollBackward answers a pending RequestNext with a rollback to point.
func (s *Server) SendRollBackward(point protocol.Point, tip protocol.Tip) error {
	return s.framer.WriteMessage(msgRollBackward{Tag: TagRollBackward, Point: point, Tip: tip})
}

// SendIntersectFound answers FindIntersect: point is on the peer's chain.
func (s *Server) SendIntersectFound(point protocol.Point, tip protocol.Tip) error {
	return s.framer.WriteMessage(msgIntersectFound{Tag: TagIntersectFound, Point: point, Tip: tip})
}

// SendIntersectNotFound answers FindIntersect: none of the requested
// points are on the peer's chain.
func (s *Server) SendIntersectNotFound(tip protocol.Tip) error {
	return s.framer.WriteMessage(msgIntersectNotFound{Tag: TagIntersectNotFound, Tip: tip})
}
