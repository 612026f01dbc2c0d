package localtxsubmission

import (
	"fmt"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// Request is a decoded client message. Exactly one field is set.
type Request struct {
	Submit *SubmitRequest
	Done   bool
}

// SubmitRequest is a decoded SubmitTx.
type SubmitRequest struct {
	EraTag uint16
	Body   []byte
}

// Server reads client requests from framer and encodes the application's
// chosen verdict; it holds no mempool state of its own.
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
		return Request{}, fmt.Errorf("localtxsubmission: read request: %w", err)
	}
	switch tag {
	case TagSubmitTx:
		var m msgSubmitTx
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return Request{}, fmt.Errorf("localtxsubmission: malformed SubmitTx: %w", err)
		}
		return Request{Submit: &SubmitRequest{EraTag: m.EraTag, Body: []byte(m.Body)}}, nil
	case TagDone:
		return Request{Done: true}, nil
	default:
		return Request{}, &protocol.ProtocolViolation{Protocol: protocol.NumLocalTxSubmission, Reason: fmt.Sprintf("unexpected tag %d from client", tag)}
	}
}

// SendAccept accepts the submitted transaction.
func (s *Server) SendAccept() error {
	return s.framer.WriteMessage(msgAcceptTx{Tag: TagAcceptTx})
}

// SendReject rejects the submitted transaction with an opaque,
// era-tagged reason payload.
func (s *Server) SendReject(reason []byte) error {
	return s.framer.WriteMessage(msgRejectTx{Tag: TagRejectTx, Reason: reason})
}
