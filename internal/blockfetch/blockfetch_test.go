package blockfetch

import (
	"sync"
	"testing"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

type bufPipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
}

func newBufPipe() *bufPipe {
	p := &bufPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *bufPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 {
		p.cond.Wait()
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func pipePair() (client, server *cborutil.Framer) {
	c2s := newBufPipe()
	s2c := newBufPipe()
	return cborutil.NewFramer(s2c, c2s), cborutil.NewFramer(c2s, s2c)
}

func samplePoint(slot uint64, fill byte) protocol.Point {
	var h [32]byte
	for i := range h {
		h[i] = fill
	}
	return protocol.NewPoint(slot, h)
}

// TestRequestRangeStreamsBlocks covers the Busy->Streaming->Idle path: a
// range request followed by two blocks and BatchDone.
func TestRequestRangeStreamsBlocks(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	from := samplePoint(1, 0x01)
	to := samplePoint(3, 0x03)
	bodies := [][]byte{{0x82, 0x01, 0x02}, {0x82, 0x03, 0x04}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, err := server.ReadRequest()
		if err != nil || req.Range == nil {
			t.Errorf("server: unexpected request %+v %v", req, err)
			return
		}
		if req.Range.From != from || req.Range.To != to {
			t.Errorf("server: got range %s..%s, want %s..%s", req.Range.From, req.Range.To, from, to)
		}
		if err := server.SendStartBatch(); err != nil {
			t.Errorf("SendStartBatch: %v", err)
			return
		}
		for _, b := range bodies {
			if err := server.SendBlock(b); err != nil {
				t.Errorf("SendBlock: %v", err)
				return
			}
		}
		if err := server.SendBatchDone(); err != nil {
			t.Errorf("SendBatchDone: %v", err)
		}
	}()

	willStream, err := client.RequestRange(from, to)
	if err != nil {
		t.Fatalf("RequestRange: %v", err)
	}
	if !willStream {
		t.Fatal("expected willStream=true")
	}

	var got [][]byte
	for {
		body, ok, err := client.NextBlock()
		if err != nil {
			t.Fatalf("NextBlock: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, body)
	}
	wg.Wait()

	if len(got) != len(bodies) {
		t.Fatalf("got %d blocks, want %d", len(got), len(bodies))
	}
	if client.State() != StateIdle {
		t.Fatalf("client left in state %s, want Idle", client.State())
	}
}

// TestRequestRangeNoBlocks covers Busy->Idle when the server has none of
// the requested range.
func TestRequestRangeNoBlocks(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := server.ReadRequest(); err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if err := server.SendNoBlocks(); err != nil {
			t.Errorf("SendNoBlocks: %v", err)
		}
	}()

	willStream, err := client.RequestRange(samplePoint(1, 0x01), samplePoint(2, 0x02))
	wg.Wait()
	if err != nil {
		t.Fatalf("RequestRange: %v", err)
	}
	if willStream {
		t.Fatal("expected willStream=false")
	}
	if client.State() != StateIdle {
		t.Fatalf("client left in state %s, want Idle", client.State())
	}
}

// TestNextBlockRequiresStreaming is an agency-safety check: calling
// NextBlock outside Streaming must error rather than read.
func TestNextBlockRequiresStreaming(t *testing.T) {
	clientFramer, _ := pipePair()
	client := NewClient(clientFramer)
	if _, _, err := client.NextBlock(); err == nil {
		t.Fatal("expected NextBlock to reject a non-Streaming state")
	}
}
