package cborutil

import (
	"bytes"
	"io"
	"testing"
)

type msgPing struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint64
	Data uint64
}

func TestFramerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf, &buf)

	if err := f.WriteMessage(msgPing{Tag: 7, Data: 42}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	raw, tag, err := f.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if tag != 7 {
		t.Fatalf("got tag %d, want 7", tag)
	}
	var decoded msgPing
	if err := Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Data != 42 {
		t.Fatalf("got data %d, want 42", decoded.Data)
	}
}

// TestFramerBlocksForMoreBytes exercises the "NeedMore" behavior required
// by §4.E: a message split across writes must still decode once the
// remaining bytes arrive, rather than erroring on the first short read.
func TestFramerBlocksForMoreBytes(t *testing.T) {
	pr, pw := io.Pipe()
	f := NewFramer(pr, nil)

	wire, err := Marshal(msgPing{Tag: 1, Data: 9})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	done := make(chan struct{})
	var raw []byte
	var readErr error
	go func() {
		var rawMsg = func() {
			r, _, e := f.ReadMessage()
			raw, readErr = r, e
		}
		rawMsg()
		close(done)
	}()

	for i, b := range wire {
		pw.Write([]byte{b})
		if i < len(wire)-1 {
			select {
			case <-done:
				t.Fatal("ReadMessage returned before the full message arrived")
			default:
			}
		}
	}
	<-done
	if readErr != nil {
		t.Fatalf("ReadMessage: %v", readErr)
	}
	var decoded msgPing
	if err := Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Data != 9 {
		t.Fatalf("got data %d, want 9", decoded.Data)
	}
}
