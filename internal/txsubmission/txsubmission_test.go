package txsubmission

import (
	"sync"
	"testing"

	"ouroboros/internal/cborutil"
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

func pipePair() (holder, downloader *cborutil.Framer) {
	h2d := newBufPipe()
	d2h := newBufPipe()
	return cborutil.NewFramer(d2h, h2d), cborutil.NewFramer(h2d, d2h)
}

func fakeID(b byte) TxID {
	var id TxID
	id[0] = b
	return id
}

// TestWindowAcknowledgeDropsFIFOHead checks §4.I's FIFO window
// invariant: acknowledging N entries removes exactly the oldest N.
func TestWindowAcknowledgeDropsFIFOHead(t *testing.T) {
	holderFramer, downloaderFramer := pipePair()
	holder := NewHolder(holderFramer)
	downloader := NewDownloader(downloaderFramer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := downloader.AwaitInit(); err != nil {
			t.Errorf("AwaitInit: %v", err)
			return
		}
		ids, done, err := downloader.RequestTxIds(true, 0, 3)
		if err != nil || done || len(ids) != 3 {
			t.Errorf("first RequestTxIds: ids=%v done=%v err=%v", ids, done, err)
			return
		}
		// Acknowledge the first 2; the holder's window should now hold
		// only the third announced id.
		ids2, done, err := downloader.RequestTxIds(true, 2, 1)
		if err != nil || done || len(ids2) != 1 {
			t.Errorf("second RequestTxIds: ids=%v done=%v err=%v", ids2, done, err)
			return
		}
	}()

	if err := holder.SendInit(); err != nil {
		t.Fatalf("SendInit: %v", err)
	}
	req, err := holder.ReadRequest()
	if err != nil || req.TxIds == nil {
		t.Fatalf("first ReadRequest: %+v %v", req, err)
	}
	if err := holder.ReplyTxIds([]TxIDAndSize{
		{ID: fakeID(1), Size: 100},
		{ID: fakeID(2), Size: 100},
		{ID: fakeID(3), Size: 100},
	}); err != nil {
		t.Fatalf("ReplyTxIds: %v", err)
	}
	if len(holder.window) != 3 {
		t.Fatalf("window has %d entries, want 3", len(holder.window))
	}

	req2, err := holder.ReadRequest()
	if err != nil || req2.TxIds == nil {
		t.Fatalf("second ReadRequest: %+v %v", req2, err)
	}
	if len(holder.window) != 1 || holder.window[0] != fakeID(3) {
		t.Fatalf("after acknowledging 2, window = %v, want [fakeID(3)]", holder.window)
	}
	if err := holder.ReplyTxIds([]TxIDAndSize{{ID: fakeID(4), Size: 50}}); err != nil {
		t.Fatalf("ReplyTxIds: %v", err)
	}
	wg.Wait()
}

// TestDoneOnlyFromBlocking covers the resolved Open Question: Done is
// only legal answering a blocking request.
func TestDoneOnlyFromBlocking(t *testing.T) {
	holderFramer, _ := pipePair()
	holder := NewHolder(holderFramer)
	holder.state = StateTxIdsNonBlocking
	if err := holder.Done(); err == nil {
		t.Fatal("expected Done to reject TxIdsNonBlocking")
	}
}

// TestNonBlockingReplyMayBeEmpty checks that an empty, immediate reply
// is legal for a non-blocking request.
func TestNonBlockingReplyMayBeEmpty(t *testing.T) {
	holderFramer, downloaderFramer := pipePair()
	holder := NewHolder(holderFramer)
	downloader := NewDownloader(downloaderFramer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := downloader.AwaitInit(); err != nil {
			t.Errorf("AwaitInit: %v", err)
			return
		}
		ids, done, err := downloader.RequestTxIds(false, 0, 5)
		if err != nil || done || len(ids) != 0 {
			t.Errorf("RequestTxIds: ids=%v done=%v err=%v", ids, done, err)
		}
	}()

	if err := holder.SendInit(); err != nil {
		t.Fatalf("SendInit: %v", err)
	}
	req, err := holder.ReadRequest()
	if err != nil || req.TxIds == nil || req.TxIds.Blocking {
		t.Fatalf("ReadRequest: %+v %v", req, err)
	}
	if err := holder.ReplyTxIds(nil); err != nil {
		t.Fatalf("ReplyTxIds: %v", err)
	}
	wg.Wait()
}

// TestRequestTxsToleratesFewerBodies covers §4.I's eviction tolerance:
// the holder may legitimately reply with fewer bodies than ids
// requested.
func TestRequestTxsToleratesFewerBodies(t *testing.T) {
	holderFramer, downloaderFramer := pipePair()
	holder := NewHolder(holderFramer)
	downloader := NewDownloader(downloaderFramer)
	holder.state = StateIdle
	downloader.ready = true

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, err := holder.ReadRequest()
		if err != nil || req.Txs == nil || len(*req.Txs) != 2 {
			t.Errorf("ReadRequest: %+v %v", req, err)
			return
		}
		if err := holder.ReplyTxs([][]byte{{0x41, 0x01}}); err != nil {
			t.Errorf("ReplyTxs: %v", err)
		}
	}()

	bodies, err := downloader.RequestTxs([]TxID{fakeID(1), fakeID(2)})
	wg.Wait()
	if err != nil {
		t.Fatalf("RequestTxs: %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("got %d bodies, want 1", len(bodies))
	}
}
