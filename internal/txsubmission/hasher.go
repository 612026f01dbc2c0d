package txsubmission

import "ouroboros/internal/protocolhash"

// Hasher derives a transaction's identifier from its serialized body.
// §6 lists "opaque transaction identifier hasher" among the callbacks
// the core consumes from collaborators: the core never interprets
// transaction bytes itself, but something has to turn a body into the
// fixed-size digest the wire protocol carries, and this is that seam.
type Hasher func(body []byte) TxID

// DefaultHasher computes identifiers as Blake2b-256 digests of the raw
// body, the same construction the core uses for chain points
// (protocol.NewPointFromHeader).
func DefaultHasher(body []byte) TxID {
	return TxID(protocolhash.Sum256(body))
}

// AnnounceBodies hashes each body with hasher (DefaultHasher if nil),
// builds the matching TxIDAndSize list, and announces them via
// ReplyTxIds in one call. It's the holder-side convenience for mempools
// that key transactions by content rather than by a precomputed ID.
func (h *Holder) AnnounceBodies(bodies [][]byte, hasher Hasher) ([]TxIDAndSize, error) {
	if hasher == nil {
		hasher = DefaultHasher
	}
	ids := make([]TxIDAndSize, len(bodies))
	for i, body := range bodies {
		ids[i] = TxIDAndSize{ID: hasher(body), Size: uint32(len(body))}
	}
	if err := h.ReplyTxIds(ids); err != nil {
		return nil, err
	}
	return ids, nil
}
