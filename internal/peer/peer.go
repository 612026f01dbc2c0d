// Package peer is the facade (component M): it opens a bearer, runs the
// handshake, registers one channel per enabled mini-protocol, and spawns
// the muxer/demuxer as background tasks. It is grounded in the teacher's
// NewSimpleNode/Start pair, generalized from a single fixed protocol set
// to the negotiated, role-dependent set §4.M describes.
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/bearer"
	"ouroboros/internal/blockfetch"
	"ouroboros/internal/cborutil"
	"ouroboros/internal/chainsync"
	"ouroboros/internal/handshake"
	"ouroboros/internal/keepalive"
	"ouroboros/internal/localstatequery"
	"ouroboros/internal/localtxsubmission"
	"ouroboros/internal/muxer"
	"ouroboros/internal/protocol"
	"ouroboros/internal/txsubmission"
)

// DefaultHandshakeTimeout is how long Open waits for version negotiation
// before giving up (§5: "explicit timeout on handshake, 30s default").
const DefaultHandshakeTimeout = 30 * time.Second

// Options configures which mini-protocols a Peer activates and how.
type Options struct {
	VersionTable handshake.VersionTable
	// NodeToClient selects the local-state-query/local-tx-submission set
	// instead of the node-to-node chain-sync/block-fetch/tx-submission
	// set.
	NodeToClient     bool
	HandshakeTimeout time.Duration
	KeepAlivePeriod  time.Duration
	KeepAliveTimeout time.Duration
	ChannelOptions   muxer.ChannelOptions
	Log              *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.KeepAlivePeriod <= 0 {
		o.KeepAlivePeriod = keepalive.DefaultPeriod
	}
	if o.KeepAliveTimeout <= 0 {
		o.KeepAliveTimeout = keepalive.DefaultTimeout
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Peer is an open bearer with its mini-protocols wired up (§4.M). The
// connecting (dialing) side is the Initiator and, for the node-to-node
// set, also plays the tx-submission holder role — the conventional
// Cardano relay topology where the side that reaches out offers its own
// mempool. Exactly one of the two handle groups below is populated,
// matching NodeToClient.
type Peer struct {
	b      bearer.Bearer
	mux    *muxer.Mux
	demux  *muxer.Demux
	cancel context.CancelFunc

	wg       sync.WaitGroup
	errMu    sync.Mutex
	err      error
	failOnce sync.Once
	channels []*muxer.Channel

	HandshakeResult handshake.Result

	// Node-to-node handles. The dialing side (Initiator) gets the Client
	// half of chain-sync/block-fetch and the Holder half of
	// tx-submission; the accepting side (Responder) gets the Server/
	// Downloader halves. Exactly one of each pair is populated.
	ChainSyncClient      *chainsync.Client
	ChainSyncServer      *chainsync.Server
	BlockFetchClient     *blockfetch.Client
	BlockFetchServer     *blockfetch.Server
	TxSubmissionHolder   *txsubmission.Holder
	TxSubmissionDownload *txsubmission.Downloader

	// Node-to-client handles. The dialing side gets the Client half;
	// the accepting side (the node being queried) gets the Server half.
	LocalStateQueryClient   *localstatequery.Client
	LocalStateQueryServer   *localstatequery.Server
	LocalTxSubmissionClient *localtxsubmission.Client
	LocalTxSubmissionServer *localtxsubmission.Server

	KeepAlive *keepalive.Client
}

// Open dials addr over TCP, runs the handshake as initiator, and wires
// up every mini-protocol Options selects.
func Open(ctx context.Context, addr string, opts Options) (*Peer, error) {
	opts.setDefaults()
	b, err := bearer.DialTCP(addr, opts.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	return newPeer(ctx, b, protocol.RoleInitiator, opts)
}

// Accept wraps an already-accepted bearer, runs the handshake as
// responder, and wires up every mini-protocol Options selects.
func Accept(ctx context.Context, b bearer.Bearer, opts Options) (*Peer, error) {
	opts.setDefaults()
	return newPeer(ctx, b, protocol.RoleResponder, opts)
}

func newPeer(ctx context.Context, b bearer.Bearer, role protocol.Role, opts Options) (*Peer, error) {
	log := opts.Log
	mux := muxer.NewMux(b, log)
	demux := muxer.NewDemux(b, log)

	pctx, cancel := context.WithCancel(ctx)
	p := &Peer{b: b, mux: mux, demux: demux, cancel: cancel}

	hsID := protocol.ID{Num: protocol.NumHandshake, Role: role}
	hsChannel := mux.Register(hsID, opts.ChannelOptions)
	demux.Register(hsID, hsChannel)
	p.channels = append(p.channels, hsChannel)

	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.fail(mux.Run()) }()
	go func() { defer p.wg.Done(); p.fail(demux.Run()) }()

	hsFramer := cborutil.NewFramer(hsChannel, hsChannel)
	machine := handshake.NewMachine(hsFramer, opts.VersionTable, log)

	hctx, hcancel := context.WithTimeout(pctx, opts.HandshakeTimeout)
	result, err := runHandshake(hctx, machine, role, b)
	hcancel()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.HandshakeResult = result

	if opts.NodeToClient {
		p.wireNodeToClient(mux, demux, role)
	} else {
		p.wireNodeToNode(mux, demux, role)
	}

	// Keep-alive is symmetric (every Peer pings and answers pings), but
	// there is only one channel per (protocol, role) pair, so both
	// directions share this one framer. keepalive.Client.Run owns that
	// framer's only reader and dispatches inbound messages by tag
	// instead of running a separate pinger and echoer against it.
	pingChannel := p.registerChannel(mux, demux, protocol.NumKeepAlive, role, opts.ChannelOptions)
	pingFramer := cborutil.NewFramer(pingChannel, pingChannel)
	p.KeepAlive = keepalive.NewClient(pingFramer, log)
	p.KeepAlive.Period = opts.KeepAlivePeriod
	p.KeepAlive.Timeout = opts.KeepAliveTimeout

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.fail(p.KeepAlive.Run(pctx)) }()

	return p, nil
}

func runHandshake(ctx context.Context, m *handshake.Machine, role protocol.Role, b bearer.Bearer) (handshake.Result, error) {
	type outcome struct {
		result handshake.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		if role == protocol.RoleInitiator {
			o.result, o.err = m.RunInitiator(b.LocalAddr(), b.RemoteAddr())
		} else {
			o.result, o.err = m.RunResponder()
		}
		done <- o
	}()
	select {
	case <-ctx.Done():
		return handshake.Result{}, fmt.Errorf("peer: handshake: %w", ctx.Err())
	case o := <-done:
		return o.result, o.err
	}
}

func (p *Peer) registerChannel(mux *muxer.Mux, demux *muxer.Demux, num protocol.Num, role protocol.Role, opts muxer.ChannelOptions) *muxer.Channel {
	id := protocol.ID{Num: num, Role: role}
	ch := mux.Register(id, opts)
	demux.Register(id, ch)
	p.channels = append(p.channels, ch)
	return ch
}

func (p *Peer) wireNodeToNode(mux *muxer.Mux, demux *muxer.Demux, role protocol.Role) {
	opts := muxer.ChannelOptions{}

	csCh := p.registerChannel(mux, demux, protocol.NumChainSync, role, opts)
	csFramer := cborutil.NewFramer(csCh, csCh)
	if role == protocol.RoleInitiator {
		p.ChainSyncClient = chainsync.NewClient(csFramer)
	} else {
		p.ChainSyncServer = chainsync.NewServer(csFramer)
	}

	bfCh := p.registerChannel(mux, demux, protocol.NumBlockFetch, role, opts)
	bfFramer := cborutil.NewFramer(bfCh, bfCh)
	if role == protocol.RoleInitiator {
		p.BlockFetchClient = blockfetch.NewClient(bfFramer)
	} else {
		p.BlockFetchServer = blockfetch.NewServer(bfFramer)
	}

	// Tx-submission's agency is inverted relative to the other two:
	// the dialing side holds the mempool (Holder), the accepting side
	// decides what to pull (Downloader) — see the package doc.
	txCh := p.registerChannel(mux, demux, protocol.NumTxSubmission, role, opts)
	txFramer := cborutil.NewFramer(txCh, txCh)
	if role == protocol.RoleInitiator {
		p.TxSubmissionHolder = txsubmission.NewHolder(txFramer)
	} else {
		p.TxSubmissionDownload = txsubmission.NewDownloader(txFramer)
	}
}

func (p *Peer) wireNodeToClient(mux *muxer.Mux, demux *muxer.Demux, role protocol.Role) {
	opts := muxer.ChannelOptions{}

	lsqCh := p.registerChannel(mux, demux, protocol.NumLocalStateQuery, role, opts)
	lsqFramer := cborutil.NewFramer(lsqCh, lsqCh)
	if role == protocol.RoleInitiator {
		p.LocalStateQueryClient = localstatequery.NewClient(lsqFramer)
	} else {
		p.LocalStateQueryServer = localstatequery.NewServer(lsqFramer)
	}

	ltxCh := p.registerChannel(mux, demux, protocol.NumLocalTxSubmission, role, opts)
	ltxFramer := cborutil.NewFramer(ltxCh, ltxCh)
	if role == protocol.RoleInitiator {
		p.LocalTxSubmissionClient = localtxsubmission.NewClient(ltxFramer)
	} else {
		p.LocalTxSubmissionServer = localtxsubmission.NewServer(ltxFramer)
	}
}

// fail records the first background-task error (mux, demux, or
// keep-alive — the only three always-fatal tasks, §7) and tears the
// peer down exactly once: cancelling the context, stopping the
// muxer/demuxer, closing the bearer, and closing every registered
// channel with err so every mini-protocol handle blocked on it
// surfaces the same failure (§8 scenario 6) instead of hanging.
func (p *Peer) fail(err error) {
	if err == nil {
		return
	}
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()

	p.failOnce.Do(func() {
		p.cancel()
		p.mux.Close()
		p.demux.Close()
		p.b.Close()
		for _, ch := range p.channels {
			ch.CloseWithError(err)
		}
	})
}

// Err returns the first background task error observed, if any.
func (p *Peer) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Close tears down every background task and the underlying bearer
// (§4.M: "dropping the peer facade closes the bearer and tears down all
// tasks").
func (p *Peer) Close() error {
	p.cancel()
	p.mux.Close()
	p.demux.Close()
	err := p.b.Close()
	for _, ch := range p.channels {
		ch.Close()
	}
	p.wg.Wait()
	return err
}
