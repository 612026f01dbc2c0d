package protocol

import "fmt"

// BearerFailure is an I/O error on the underlying bearer. It is fatal to
// the whole bearer and is broadcast to every registered channel.
type BearerFailure struct {
	Cause error
}

func (e *BearerFailure) Error() string { return fmt.Sprintf("bearer failure: %v", e.Cause) }
func (e *BearerFailure) Unwrap() error { return e.Cause }

// ProtocolViolation is a message received out-of-state, ill-formed CBOR,
// an oversize segment, or a mismatched keep-alive cookie. Fatal to the
// bearer, since it implies the peer's view of the protocol has diverged
// from ours.
type ProtocolViolation struct {
	Protocol Num
	Reason   string
	Cause    error
}

func (e *ProtocolViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol violation on %d: %s: %v", e.Protocol, e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol violation on %d: %s", e.Protocol, e.Reason)
}
func (e *ProtocolViolation) Unwrap() error { return e.Cause }

// VersionMismatch is returned when the handshake's peer refused every
// proposed version. Fatal to the bearer but reported cleanly to the
// caller rather than surfacing as a generic protocol violation.
type VersionMismatch struct {
	Versions []uint32
}

func (e *VersionMismatch) Error() string {
	return fmt.Sprintf("handshake version mismatch, peer supports: %v", e.Versions)
}

// QueryFailure is returned by local-state-query when the server replies
// Failure(reason) to an Acquire/ReAcquire. Recoverable: the caller may
// retry with a different point.
type QueryFailure struct {
	Reason string
}

func (e *QueryFailure) Error() string { return fmt.Sprintf("query failure: %s", e.Reason) }

// TxRejected is returned by local-tx-submission when the server replies
// RejectTx. Recoverable at the application layer.
type TxRejected struct {
	EraTag uint16
	Raw    []byte
}

func (e *TxRejected) Error() string {
	return fmt.Sprintf("tx rejected (era %d): %d bytes of rejection detail", e.EraTag, len(e.Raw))
}

// Timeout is raised when a peer fails to meet a response deadline,
// including keep-alive's liveness window. Fatal to the bearer.
type Timeout struct {
	Protocol Num
	Waiting  string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("timeout on %d waiting for %s", e.Protocol, e.Waiting)
}

// Cancelled indicates local cancellation. Fatal to the bearer.
type Cancelled struct {
	Protocol Num
}

func (e *Cancelled) Error() string { return fmt.Sprintf("cancelled on %d", e.Protocol) }

// Reasons for local-state-query's Failure message (§4.J).
const (
	ReasonPointTooOld     = "PointTooOld"
	ReasonPointNotOnChain = "PointNotOnChain"
)
