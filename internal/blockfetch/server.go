package blockfetch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// Request is a decoded client request. Exactly one field is non-nil.
type Request struct {
	Range *RangeRequest
	Done  bool
}

// RangeRequest is a decoded RequestRange.
type RangeRequest struct {
	From, To protocol.Point
}

// Server reads client requests from framer and encodes the application's
// chosen reply; it holds no block-store state of its own.
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
		return Request{}, fmt.Errorf("blockfetch: read request: %w", err)
	}
	switch tag {
	case TagRequestRange:
		var m msgRequestRange
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("blockfetch: malformed RequestRange: %w", err)
		}
		return Request{Range: &RangeRequest{From: m.From, To: m.To}}, nil
	case TagClientDone:
		return Request{Done: true}, nil
	default:
		return Request{}, &protocol.ProtocolViolation{Protocol: protocol.NumBlockFetch, Reason: fmt.Sprintf("unexpected tag %d from client", tag)}
	}
}

// SendStartBatch agrees to stream the requested range.
func (s *Server) SendStartBatch() error {
	return s.framer.WriteMessage(msgStartBatch{Tag: TagStartBatch})
}

// SendNoBlocks declines: the server has none of the requested range.
func (s *Server) SendNoBlocks() error {
	return s.framer.WriteMessage(msgNoBlocks{Tag: TagNoBlocks})
}

// SendBlock streams one block body. body must already be a complete,
// well-formed CBOR item (opaque to this package, §4.H).
func (s *Server) SendBlock(body []byte) error {
	return s.framer.WriteMessage(msgBlock{Tag: TagBlock, Body: cbor.RawMessage(body)})
}

// SendBatchDone ends the current streaming batch.
func (s *Server) SendBatchDone() error {
	return s.framer.WriteMessage(msgBatchDone{Tag: TagBatchDone})
}
