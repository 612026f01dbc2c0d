package chainsync

import (
	"sync"
	"testing"

	"ouroboros/internal/cborutil"
	"ouroboros/internal/protocol"
)

// bufPipe mirrors handshake's test helper: an unbounded byte pipe so both
// ends can write before either reads.
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

// TestIntersectFound is §8 scenario 3's positive counterpart: the server
// finds one of the requested points on its chain.
func TestIntersectFound(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	want := samplePoint(100, 0xAB)
	tip := protocol.Tip{Point: samplePoint(200, 0xCD), BlockNumber: 200}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, done, err := server.ReadRequest()
		if err != nil || done || req.FindIntersect == nil {
			t.Errorf("server: unexpected request: req=%+v done=%v err=%v", req, done, err)
			return
		}
		if err := server.SendIntersectFound(want, tip); err != nil {
			t.Errorf("server: %v", err)
		}
	}()

	found, point, gotTip, err := client.FindIntersect([]protocol.Point{want, samplePoint(1, 0x01)})
	wg.Wait()
	if err != nil {
		t.Fatalf("FindIntersect: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if point != want {
		t.Fatalf("got point %s, want %s", point, want)
	}
	if gotTip.BlockNumber != tip.BlockNumber {
		t.Fatalf("got tip block %d, want %d", gotTip.BlockNumber, tip.BlockNumber)
	}
	if client.State() != StateIdle {
		t.Fatalf("client left in state %s, want Idle", client.State())
	}
}

// TestIntersectNotFound is §8 scenario 3: none of the client's points are
// on the server's chain.
func TestIntersectNotFound(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	tip := protocol.Tip{Point: samplePoint(50, 0xEF), BlockNumber: 50}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, _, err := server.ReadRequest()
		if err != nil || req.FindIntersect == nil {
			t.Errorf("server: unexpected request: %+v %v", req, err)
			return
		}
		if err := server.SendIntersectNotFound(tip); err != nil {
			t.Errorf("server: %v", err)
		}
	}()

	found, _, gotTip, err := client.FindIntersect([]protocol.Point{samplePoint(999, 0x99)})
	wg.Wait()
	if err != nil {
		t.Fatalf("FindIntersect: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
	if gotTip.BlockNumber != tip.BlockNumber {
		t.Fatalf("got tip block %d, want %d", gotTip.BlockNumber, tip.BlockNumber)
	}
}

// TestRequestNextAwaitsThenRolls exercises the AwaitReply/MustReply path:
// the server has nothing ready, tells the client to wait, and only later
// sends the actual roll event.
func TestRequestNextAwaitsThenRolls(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	header := []byte{0x82, 0x01, 0x02} // arbitrary well-formed CBOR array
	tip := protocol.Tip{Point: samplePoint(10, 0x11), BlockNumber: 10}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, _, err := server.ReadRequest(); err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if err := server.SendAwaitReply(); err != nil {
			t.Errorf("server await: %v", err)
			return
		}
		if err := server.SendRollForward(header, tip); err != nil {
			t.Errorf("server roll: %v", err)
		}
	}()

	result, err := client.RequestNext()
	wg.Wait()
	if err != nil {
		t.Fatalf("RequestNext: %v", err)
	}
	if result.RollForward == nil {
		t.Fatal("expected a RollForward result")
	}
	if result.RollForward.Tip.BlockNumber != tip.BlockNumber {
		t.Fatalf("got tip block %d, want %d", result.RollForward.Tip.BlockNumber, tip.BlockNumber)
	}
	if client.State() != StateIdle {
		t.Fatalf("client left in state %s, want Idle", client.State())
	}
}

// TestDoneOnlyFromIdle checks the agency-safety property that a client
// cannot cancel mid-intersect.
func TestDoneOnlyFromIdle(t *testing.T) {
	clientFramer, _ := pipePair()
	client := NewClient(clientFramer)
	client.state = StateIntersect
	if err := client.Done(); err == nil {
		t.Fatal("expected Done to reject a non-Idle state")
	}
}

// TestLegacyIntersectFoundDecode checks the §9 OQ1 dual-encoding
// tolerance: a flattened legacy wire shape still decodes correctly.
func TestLegacyIntersectFoundDecode(t *testing.T) {
	want := samplePoint(7, 0x77)
	wantTip := samplePoint(8, 0x88)
	raw, err := cborutil.Marshal(legacyIntersectFound{
		Tag:         TagIntersectFound,
		Point:       want,
		TipPoint:    wantTip,
		BlockNumber: 8,
	})
	if err != nil {
		t.Fatalf("marshal legacy: %v", err)
	}
	point, tip, err := decodeIntersectFound(raw)
	if err != nil {
		t.Fatalf("decodeIntersectFound: %v", err)
	}
	if point != want {
		t.Fatalf("got point %s, want %s", point, want)
	}
	if tip.Point != wantTip || tip.BlockNumber != 8 {
		t.Fatalf("got tip %s, want point=%s block=8", tip, wantTip)
	}
}
