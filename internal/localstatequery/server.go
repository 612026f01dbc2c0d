package localstatequery

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// Request is a decoded client message for the server to act on. Exactly
// one field is set.
type Request struct {
	Acquire *Target // Acquire or ReAcquire; the server can't tell apart and needn't
	Query   []byte
	Release bool
	Done    bool
}

// Server reads client requests from framer and encodes the application's
// chosen reply; it holds no ledger state of its own.
type Server struct {
	framer *cborutil.Framer
}

// NewServer builds a Server reading/writing over framer.
func NewServer(framer *cborutil.Framer) *Server {
	return &Server{framer: framer}
}

// ReadRequest blocks for the client's next message.
func (s *Server) ReadRequest() (Request, error) {
	raw, tag, err := s.framer.ReadMessage()
	if err != nil {
		return Request{}, fmt.Errorf("localstatequery: read request: %w", err)
	}
	switch tag {
	case TagAcquire:
		var m msgAcquire
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("localstatequery: malformed Acquire: %w", err)
		}
		return Request{Acquire: &m.Target}, nil
	case TagReAcquire:
		var m msgReAcquire
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("localstatequery: malformed ReAcquire: %w", err)
		}
		return Request{Acquire: &m.Target}, nil
	case TagQuery:
		var m msgQuery
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("localstatequery: malformed Query: %w", err)
		}
		return Request{Query: []byte(m.Query)}, nil
	case TagRelease:
		return Request{Release: true}, nil
	case TagDone:
		return Request{Done: true}, nil
	default:
		return Request{}, &protocol.ProtocolViolation{Protocol: protocol.NumLocalStateQuery, Reason: fmt.Sprintf("unexpected tag %d from client", tag)}
	}
}

// SendAcquired confirms a snapshot was acquired.
func (s *Server) SendAcquired() error {
	return s.framer.WriteMessage(msgAcquired{Tag: TagAcquired})
}

// SendFailure declines an Acquire/ReAcquire with reason, one of
// protocol.ReasonPointTooOld or protocol.ReasonPointNotOnChain.
func (s *Server) SendFailure(reason string) error {
	return s.framer.WriteMessage(msgFailure{Tag: TagFailure, Reason: reason})
}

// SendResult answers a Query with result, which must already be a
// complete, well-formed CBOR item (opaque to this package, §4.J).
func (s *Server) SendResult(result []byte) error {
	return s.framer.WriteMessage(msgResult{Tag: TagResult, Result: cbor.RawMessage(result)})
}
