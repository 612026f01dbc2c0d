// Package cborutil is the minimal CBOR value model the core needs to
// frame and parse mini-protocol messages (component E): canonical
// encoding of definite-length arrays, and a streaming Framer that reads
// one complete top-level CBOR item per call, blocking for more bytes
// rather than erroring when a message spans several segments.
//
// It is grounded in how blinklabs-io/gouroboros's node-to-client query
// helpers build nested CBOR arrays (see other_examples'
// localstatequery-queries.go): github.com/fxamacker/cbor/v2 underneath,
// a tagged-sum-type convention (first array element is a small integer
// naming the message variant), and struct tags of `cbor:",toarray"` for
// definite-length array encoding.
package cborutil

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborutil: build encode mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborutil: build decode mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v — typically a struct tagged `cbor:",toarray"` so it
// serializes as a definite-length CBOR array — using canonical (minimal
// integer, definite length) encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Tag returns the leading integer of a top-level CBOR array, which every
// mini-protocol message uses to name its variant (§3's Message
// definition).
func Tag(data cbor.RawMessage) (uint64, error) {
	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(data, &elems); err != nil {
		return 0, fmt.Errorf("cborutil: not a CBOR array: %w", err)
	}
	if len(elems) == 0 {
		return 0, fmt.Errorf("cborutil: empty message array")
	}
	var tag uint64
	if err := decMode.Unmarshal(elems[0], &tag); err != nil {
		return 0, fmt.Errorf("cborutil: leading element is not a small integer: %w", err)
	}
	return tag, nil
}

// Framer reads one complete top-level CBOR item per ReadMessage call
// from the same underlying reader, and writes one complete item per
// WriteMessage call to the same underlying writer. A single Framer must
// be reused for every message on a given direction: fxamacker/cbor's
// Decoder may read ahead past one item's boundary, and that look-ahead
// is only preserved across calls on the *same* Decoder.
type Framer struct {
	dec *cbor.Decoder
	w   io.Writer
}

// NewFramer wraps r and w — typically the two halves of a mini-protocol's
// Channel — as a message-oriented reader/writer pair.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{dec: decMode.NewDecoder(r), w: w}
}

// ReadMessage blocks until one complete top-level CBOR array has
// arrived (possibly spanning several segments, since the underlying
// reader is a Channel whose Read blocks until bytes arrive rather than
// reporting end of stream), then
// returns its raw bytes and leading tag. A decode error here is always
// a fatal protocol violation for the caller's mini-protocol (§4.E).
func (f *Framer) ReadMessage() (raw cbor.RawMessage, tag uint64, err error) {
	if err := f.dec.Decode(&raw); err != nil {
		return nil, 0, err
	}
	tag, err = Tag(raw)
	if err != nil {
		return nil, 0, err
	}
	return raw, tag, nil
}

// WriteMessage encodes v and writes it whole to the underlying writer.
func (f *Framer) WriteMessage(v any) error {
	wire, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("cborutil: encode message: %w", err)
	}
	_, err = f.w.Write(wire)
	return err
}
