package txsubmission

import (
	"fmt"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// Downloader drives the transaction-downloader side: it waits for the
// holder's Init, then decides what to request. Acknowledge/window
// bookkeeping is the caller's policy — this type only enforces the wire
// protocol's legal message sequencing. It is not safe for concurrent use
// by multiple goroutines.
type Downloader struct {
	framer *cborutil.Framer
	ready  bool
}

// NewDownloader builds a Downloader reading/writing over framer.
func NewDownloader(framer *cborutil.Framer) *Downloader {
	return &Downloader{framer: framer}
}

// AwaitInit blocks for the holder's opening Init message.
func (d *Downloader) AwaitInit() error {
	_, tag, err := d.framer.ReadMessage()
	if err != nil {
		return fmt.Errorf("txsubmission: read Init: %w", err)
	}
	if tag != TagInit {
		return &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: fmt.Sprintf("expected Init, got tag %d", tag)}
	}
	d.ready = true
	return nil
}

// RequestTxIds asks for up to `request` new identifiers, acknowledging
// that `acknowledge` previously announced ones may be dropped from the
// holder's window. If blocking is true, this call does not return until
// the holder has at least `request` entries ready or sends Done.
func (d *Downloader) RequestTxIds(blocking bool, acknowledge, request uint16) (ids []TxIDAndSize, done bool, err error) {
	if !d.ready {
		return nil, false, fmt.Errorf("txsubmission: RequestTxIds before AwaitInit")
	}
	if err := d.framer.WriteMessage(msgRequestTxIds{Tag: TagRequestTxIds, Blocking: blocking, Acknowledge: acknowledge, Request: request}); err != nil {
		return nil, false, fmt.Errorf("txsubmission: send RequestTxIds: %w", err)
	}
	raw, tag, err := d.framer.ReadMessage()
	if err != nil {
		return nil, false, fmt.Errorf("txsubmission: read reply: %w", err)
	}
	switch tag {
	case TagReplyTxIds:
		var m msgReplyTxIds
		if err := cborutil.Unmarshal(raw, &m); err != nil {
			return nil, false, fmt.Errorf("txsubmission: malformed ReplyTxIds: %w", err)
		}
		if !blocking && len(m.Ids) == 0 {
			return nil, false, nil
		}
		if blocking && len(m.Ids) < int(request) {
			return nil, false, &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: fmt.Sprintf("blocking request for %d got only %d ids", request, len(m.Ids))}
		}
		return m.Ids, false, nil
	case TagDone:
		if !blocking {
			return nil, false, &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: "Done received answering a non-blocking request"}
		}
		return nil, true, nil
	default:
		return nil, false, &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: fmt.Sprintf("unexpected tag %d replying to RequestTxIds", tag)}
	}
}

// RequestTxs asks for the bodies of ids. The holder may legitimately
// return fewer bodies than ids requested if one has since been evicted
// from its mempool (§4.I); the caller correlates by position.
func (d *Downloader) RequestTxs(ids []TxID) ([][]byte, error) {
	if !d.ready {
		return nil, fmt.Errorf("txsubmission: RequestTxs before AwaitInit")
	}
	if err := d.framer.WriteMessage(msgRequestTxs{Tag: TagRequestTxs, Ids: ids}); err != nil {
		return nil, fmt.Errorf("txsubmission: send RequestTxs: %w", err)
	}
	raw, tag, err := d.framer.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("txsubmission: read ReplyTxs: %w", err)
	}
	if tag != TagReplyTxs {
		return nil, &protocol.ProtocolViolation{Protocol: protocol.NumTxSubmission, Reason: fmt.Sprintf("unexpected tag %d replying to RequestTxs", tag)}
	}
	var m msgReplyTxs
	if err := cborutil.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("txsubmission: malformed ReplyTxs: %w", err)
	}
	return m.Bodies, nil
}
