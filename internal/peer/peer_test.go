package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"ouroboros/internal/bearer"
	"ouroboros/internal/cborutil"
	"ouroboros/internal/handshake"
	"ouroboros/internal/muxer"
	"ouroboros/internal/protocol"
)

func testOptions() Options {
	return Options{
		VersionTable:     handshake.DefaultNodeToNodeVersions(764824073),
		HandshakeTimeout: time.Second,
		KeepAlivePeriod:  20 * time.Millisecond,
		KeepAliveTimeout: 200 * time.Millisecond,
	}
}

// openPair builds a dialer/acceptor pair over an in-memory bearer,
// running both sides of Open/Accept concurrently since the handshake
// needs both ends live at once.
func openPair(t *testing.T) (dialer, acceptor *Peer) {
	t.Helper()
	clientBearer, serverBearer := bearer.NewPipe()

	// Open dials a real TCP address, which the in-memory bearer pair
	// can't stand in for, so drive the initiator side directly through
	// newPeer instead of Open.
	var wg sync.WaitGroup
	var dialErr, acceptErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		p, err := newPeer(context.Background(), clientBearer, protocol.RoleInitiator, testOptions())
		dialer, dialErr = p, err
	}()
	go func() {
		defer wg.Done()
		p, err := Accept(context.Background(), serverBearer, testOptions())
		acceptor, acceptErr = p, err
	}()
	wg.Wait()

	if dialErr != nil {
		t.Fatalf("dialer: %v", dialErr)
	}
	if acceptErr != nil {
		t.Fatalf("acceptor: %v", acceptErr)
	}
	return dialer, acceptor
}

func TestOpenAcceptHandshakeAndWiring(t *testing.T) {
	dialer, acceptor := openPair(t)
	defer dialer.Close()
	defer acceptor.Close()

	if dialer.ChainSyncClient == nil || dialer.BlockFetchClient == nil || dialer.TxSubmissionHolder == nil {
		t.Fatal("dialer missing node-to-node client/holder handles")
	}
	if acceptor.ChainSyncServer == nil || acceptor.BlockFetchServer == nil || acceptor.TxSubmissionDownload == nil {
		t.Fatal("acceptor missing node-to-node server/downloader handles")
	}
	if dialer.HandshakeResult.Version == 0 || acceptor.HandshakeResult.Version == 0 {
		t.Fatal("handshake did not negotiate a version")
	}
}

// TestChainSyncRoundTrip exercises one FindIntersect request/reply over
// the fully wired peer pair, confirming the registered channels and
// muxer/demuxer plumbing actually carry mini-protocol traffic end to
// end, not just the handshake.
func TestChainSyncRoundTrip(t *testing.T) {
	dialer, acceptor := openPair(t)
	defer dialer.Close()
	defer acceptor.Close()

	point := protocol.NewPoint(100, [32]byte{1, 2, 3})
	tip := protocol.Tip{Point: point, BlockNumber: 42}

	serverDone := make(chan error, 1)
	go func() {
		req, _, err := acceptor.ChainSyncServer.ReadRequest()
		if err != nil {
			serverDone <- err
			return
		}
		if req.FindIntersect == nil {
			serverDone <- errString("expected FindIntersect request")
			return
		}
		serverDone <- acceptor.ChainSyncServer.SendIntersectFound(point, tip)
	}()

	found, gotPoint, gotTip, err := dialer.ChainSyncClient.FindIntersect([]protocol.Point{point})
	if err != nil {
		t.Fatalf("FindIntersect: %v", err)
	}
	if !found || gotPoint != point || gotTip != tip {
		t.Fatalf("got found=%v point=%+v tip=%+v, want %+v/%+v", found, gotPoint, gotTip, point, tip)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server: %v", err)
	}
}

// TestCloseDoesNotHang confirms a peer whose background tasks are
// blocked in Read (nothing more to say) still tears down promptly.
func TestCloseDoesNotHang(t *testing.T) {
	dialer, acceptor := openPair(t)

	done := make(chan struct{})
	go func() {
		dialer.Close()
		acceptor.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return in time")
	}
}

// TestKeepAliveTimeoutPropagatesToEveryHandle covers §8 scenario 6: a
// peer that goes silent after the handshake causes the local side's
// keep-alive ping to time out, and that failure must surface on both
// Peer.Err() and any mini-protocol handle blocked waiting for traffic,
// not just kill the keep-alive goroutine quietly.
func TestKeepAliveTimeoutPropagatesToEveryHandle(t *testing.T) {
	clientBearer, silentBearer := bearer.NewPipe()

	opts := testOptions()
	opts.KeepAliveTimeout = 30 * time.Millisecond
	opts.KeepAlivePeriod = 5 * time.Millisecond

	// The "silent" side only completes the handshake over its own
	// muxer/demuxer, then answers nothing else (its demuxer drops every
	// later segment) — standing in for a peer that has stopped
	// responding.
	go func() {
		silentMux := muxer.NewMux(silentBearer, nil)
		silentDemux := muxer.NewDemux(silentBearer, nil)
		hsID := protocol.ID{Num: protocol.NumHandshake, Role: protocol.RoleResponder}
		hsChannel := silentMux.Register(hsID, muxer.ChannelOptions{})
		silentDemux.Register(hsID, hsChannel)
		go silentMux.Run()
		go silentDemux.Run()
		silentFramer := cborutil.NewFramer(hsChannel, hsChannel)
		machine := handshake.NewMachine(silentFramer, opts.VersionTable, nil)
		machine.RunResponder()
	}()

	dialer, err := newPeer(context.Background(), clientBearer, protocol.RoleInitiator, opts)
	if err != nil {
		t.Fatalf("newPeer: %v", err)
	}
	defer dialer.Close()

	deadline := time.After(2 * time.Second)
	for dialer.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("keep-alive never timed out")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, ok := dialer.Err().(*protocol.Timeout); !ok {
		t.Fatalf("got error %v (%T), want *protocol.Timeout", dialer.Err(), dialer.Err())
	}

	_, err = dialer.ChainSyncClient.RequestNext()
	if err == nil {
		t.Fatal("expected RequestNext to surface the keep-alive timeout")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
