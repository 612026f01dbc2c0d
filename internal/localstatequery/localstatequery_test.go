package localstatequery

import (
	"bytes"
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

// TestAcquireQueryRelease covers the full Idle->Acquiring->Acquired->
// Querying->Acquired->Idle path with a byte-for-byte round trip.
func TestAcquireQueryRelease(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	query := []byte{0x82, 0x01, 0x02}
	result := []byte{0x83, 0x05, 0x06, 0x07}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, err := server.ReadRequest()
		if err != nil || req.Acquire == nil {
			t.Errorf("server acquire: %+v %v", req, err)
			return
		}
		if !req.Acquire.CurrentTip {
			t.Errorf("expected CurrentTip target, got %+v", req.Acquire)
		}
		if err := server.SendAcquired(); err != nil {
			t.Errorf("SendAcquired: %v", err)
			return
		}
		req2, err := server.ReadRequest()
		if err != nil || !bytes.Equal(req2.Query, query) {
			t.Errorf("server query: %+v %v", req2, err)
			return
		}
		if err := server.SendResult(result); err != nil {
			t.Errorf("SendResult: %v", err)
			return
		}
		req3, err := server.ReadRequest()
		if err != nil || !req3.Release {
			t.Errorf("server release: %+v %v", req3, err)
		}
	}()

	if err := client.Acquire(CurrentTipTarget); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	got, err := client.Query(query)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !bytes.Equal(got, result) {
		t.Fatalf("got result %x, want %x", got, result)
	}
	if err := client.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	wg.Wait()
	if client.State() != StateIdle {
		t.Fatalf("client left in state %s, want Idle", client.State())
	}
}

// TestAcquireFailure covers Acquiring->Idle on PointTooOld.
func TestAcquireFailure(t *testing.T) {
	clientFramer, serverFramer := pipePair()
	client := NewClient(clientFramer)
	server := NewServer(serverFramer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := server.ReadRequest(); err != nil {
			t.Errorf("server: %v", err)
			return
		}
		if err := server.SendFailure(protocol.ReasonPointTooOld); err != nil {
			t.Errorf("SendFailure: %v", err)
		}
	}()

	var hash [32]byte
	err := client.Acquire(AtPoint(protocol.NewPoint(5, hash)))
	wg.Wait()
	if err == nil {
		t.Fatal("expected a QueryFailure error")
	}
	if qf, ok := err.(*protocol.QueryFailure); !ok || qf.Reason != protocol.ReasonPointTooOld {
		t.Fatalf("got error %v, want QueryFailure{PointTooOld}", err)
	}
	if client.State() != StateIdle {
		t.Fatalf("client left in state %s, want Idle", client.State())
	}
}

// TestQueryRequiresAcquired is an agency-safety check.
func TestQueryRequiresAcquired(t *testing.T) {
	clientFramer, _ := pipePair()
	client := NewClient(clientFramer)
	if _, err := client.Query([]byte{0x01}); err == nil {
		t.Fatal("expected Query to reject a non-Acquired state")
	}
}
