package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
)

// errKeepaliveTimeout is the runKeepalive error raised when a peer hasn't
// ACKed the previous keepalive PING by the time the next one falls due,
// per SPEC_FULL.md §9 "Keepalive PING".
var errKeepaliveTimeout = errors.New("keepalive: peer did not ACK the previous PING")

// maxStreamID is the largest value a 31-bit HTTP/2 stream identifier can
// hold; a client that would need to assign past it must instead shut the
// connection down and let the caller redial, per spec.md §4.2's stream-id
// exhaustion edge case.
const maxStreamID = 0x7fffffff

// initialStreamID is the first id a client-initiated stream is assigned,
// per spec.md §3's data model ("nextStreamId... initially 3"). Client
// streams are always odd; 1 is reserved for the (unused, in this core)
// HTTP Upgrade-initiated stream.
const initialStreamID = 3

// keepAllStreams tells enterGoAwayLocked not to force-fail any currently
// registered stream — used for a graceful local Stop and for stream-id
// exhaustion, where every already-admitted stream is still allowed to run
// to completion.
const keepAllStreams = ^uint32(0)

// phase is the Transport.phase enum of spec.md §5: NEW -> RUNNING ->
// STOPPING -> STOPPED, with a parallel FAILED terminal reached from any
// state on an unrecoverable I/O or protocol error.
type phase int32

const (
	phaseNew phase = iota
	phaseRunning
	phaseStopping
	phaseStopped
	phaseFailed
)

// Transport multiplexes many concurrent logical RPC calls over a single
// HTTP/2 connection. It owns stream-id assignment, the Stream Registry, the
// outbound write serializer, and the inbound dispatch loop; see doc.go.
//
// Grounded on the teacher's Conn/Client (client.go, conn.go): one connection,
// one reader goroutine, one writer goroutine, a registry of in-flight
// streams keyed by id. Generalized so the registry is a concurrent map
// rather than a single goroutine's private sorted slice, since multiple
// application goroutines now create and cancel streams directly.
type Transport struct {
	conn   net.Conn
	logger Logger
	opts   *options

	authority string

	writer *writeSerializer
	reader *codecReader

	mu           sync.Mutex
	phaseState   phase
	nextStreamID uint32
	registry     *streamRegistry
	failCause    *Status

	stopOnce sync.Once
	done     chan struct{}

	keepaliveCancel context.CancelFunc
	pingOutstanding int32
}

// New dials addr, performs the HTTP/2 connection preface, and starts the
// Transport's background goroutines.
func New(ctx context.Context, d *Dialer, opts ...Option) (*Transport, error) {
	conn, err := d.dial()
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	host, _, splitErr := net.SplitHostPort(d.Addr)
	if splitErr != nil {
		host = d.Addr
	}

	t := newTransport(conn, host, initialStreamID, o)
	if err := t.start(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return t, nil
}

// NewTestTransport wraps an already-connected net.Conn (typically one half
// of a net.Pipe) without dialing or negotiating TLS, so tests can drive the
// frame-level state machine directly against a fake peer. streamIDSeed
// seeds nextStreamID the way spec.md §6's test-mode constructor requires,
// so tests can exercise the stream-id-exhaustion path (DESIGN NOTES §9)
// without allocating two billion streams first.
func NewTestTransport(ctx context.Context, conn net.Conn, authority string, streamIDSeed uint32, opts ...Option) (*Transport, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	t := newTransport(conn, authority, streamIDSeed, o)
	if err := t.start(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func newTransport(conn net.Conn, authority string, streamIDSeed uint32, o *options) *Transport {
	t := &Transport{
		conn:         conn,
		logger:       o.logger,
		opts:         o,
		authority:    authority,
		reader:       newCodecReader(conn),
		registry:     newStreamRegistry(),
		nextStreamID: streamIDSeed,
		done:         make(chan struct{}),
	}
	cw := newCodecWriter(conn, conn)
	cw.setMaxDataLength(o.maxFrameSize)
	t.writer = newWriteSerializer(cw, t.onWriterFatal)
	return t
}

// start sends the connection preface and initial SETTINGS/WINDOW_UPDATE,
// then launches the inbound dispatcher and keepalive loops.
func (t *Transport) start(ctx context.Context) error {
	t.mu.Lock()
	t.phaseState = phaseRunning
	t.mu.Unlock()

	t.writer.connectionPreface()
	t.writer.settings(http2.Setting{
		ID:  http2.SettingEnablePush,
		Val: 0,
	}, http2.Setting{
		ID:  http2.SettingInitialWindowSize,
		Val: t.opts.initialWindowSize,
	})
	if t.opts.initialWindowSize > defaultInitialWindowSize {
		t.writer.windowUpdate(0, t.opts.initialWindowSize-defaultInitialWindowSize)
	}
	t.writer.flush()

	kaCtx, cancel := context.WithCancel(ctx)
	t.keepaliveCancel = cancel

	// Both background loops are supervised by one errgroup, grounded on the
	// pack's own use of errgroup for exactly this kind of "first fatal error
	// among sibling goroutines wins" client lifecycle (ngrok-ngrok-go's
	// indirect golang.org/x/sync dependency). Either loop returning an error
	// is fatal to the connection, so each loop aborts the transport as soon
	// as it fails rather than waiting for its sibling; abort acts only on
	// the first cause.
	var g errgroup.Group
	g.Go(func() error {
		err := t.runInboundDispatcher()
		t.abort(err)
		return err
	})
	g.Go(func() error {
		err := t.runKeepalive(kaCtx)
		if err != nil {
			t.abort(err)
		}
		return err
	})
	go func() {
		if err := g.Wait(); err != nil {
			t.abort(err)
		}
	}()

	return nil
}

// assignStreamIDLocked allocates the next odd stream id, or reports
// exhaustion. Caller holds t.mu.
func (t *Transport) assignStreamIDLocked() (uint32, bool) {
	if t.nextStreamID > maxStreamID {
		return 0, false
	}
	id := t.nextStreamID
	t.nextStreamID += 2
	return id, true
}

// NewStream admits a new logical RPC call, sends its HEADERS frame, and
// returns the Stream handle the caller uses to send DATA and observe
// Listener callbacks. It fails if the Transport is not RUNNING or stream ids
// are exhausted.
func (t *Transport) NewStream(req RequestHeaders, l Listener) (*Stream, error) {
	t.mu.Lock()
	if t.phaseState != phaseRunning {
		status := t.failCause
		t.mu.Unlock()
		if status == nil {
			status = newStatus(CodeUnavailable, "transport not running")
		}
		return nil, status
	}

	id, ok := t.assignStreamIDLocked()
	if !ok {
		t.mu.Unlock()
		t.Stop()
		return nil, newStatus(CodeUnavailable, "stream ids exhausted")
	}

	s := newStream(l)
	s.id = id
	s.transport = t
	t.registry.insert(s)
	t.mu.Unlock()

	fields := buildHeaderFields(t.authority, req)
	t.writer.headers(id, fields, false)
	t.writer.flush()

	return s, nil
}

// finalizeStream removes s from the registry if still present and delivers
// its terminal status exactly once. It is the single convergence point for
// every stream-ending path: local Cancel, peer RST_STREAM, end-of-stream,
// and GOAWAY.
//
// Lock order: t.mu is acquired and released before s.deliverTerminal ever
// touches s.mu, so the two monitors are never held at once by the same
// call.
func (t *Transport) finalizeStream(s *Stream, status *Status, trailers Metadata) bool {
	t.mu.Lock()
	_, present := t.registry.remove(s.id)
	if present {
		t.checkQuiescenceLocked()
	}
	t.mu.Unlock()

	if present {
		s.deliverTerminal(status, trailers)
	}
	return present
}

// checkQuiescenceLocked finishes a graceful Stop once the last stream has
// drained. Caller holds t.mu.
func (t *Transport) checkQuiescenceLocked() {
	if t.phaseState == phaseStopping && t.registry.len() == 0 {
		t.phaseState = phaseStopped
		t.finishLocked()
	}
}

// finishLocked closes done and tears down the connection. Caller holds
// t.mu; safe to call more than once since shutdownIO and close(t.done) are
// each idempotent through stopOnce/net.Conn's own semantics — callers
// (checkQuiescenceLocked, handleGoAway and abort) set phaseState to STOPPED
// or FAILED before calling it.
func (t *Transport) finishLocked() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	go t.shutdownIO()
}

// enterGoAwayLocked marks the transport STOPPING (or FAILED, chosen by the
// caller via newPhase) and returns the set of streams that must be force
// failed: every stream whose id is greater than failAboveID, or none at all
// when failAboveID is keepAllStreams. Caller holds t.mu.
func (t *Transport) enterGoAwayLocked(newPhase phase, failAboveID uint32) []*Stream {
	t.phaseState = newPhase

	if failAboveID == keepAllStreams {
		return nil
	}

	var toFail []*Stream
	for _, s := range t.registry.snapshot() {
		if s.id > failAboveID {
			if _, ok := t.registry.remove(s.id); ok {
				toFail = append(toFail, s)
			}
		}
	}
	return toFail
}

// Stop initiates a graceful shutdown: a GOAWAY(NO_ERROR) is sent immediately
// and no new streams are admitted, but already-open streams are left to run
// to completion. Stop returns once every stream has drained; the connection
// itself is then closed in the background.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.phaseState == phaseStopping || t.phaseState == phaseStopped || t.phaseState == phaseFailed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.enterGoAwayLocked(phaseStopping, keepAllStreams)
	// GOAWAY is enqueued while t.mu is still held, before any path can finish
	// the transport and close the write serializer, so it is never dropped.
	t.writer.goAway(maxStreamID, http2.ErrCodeNo, nil)
	t.writer.flush()
	t.checkQuiescenceLocked()
	t.mu.Unlock()

	<-t.done
}

// abort tears the transport down immediately on an unrecoverable cause: every
// open stream is failed with an INTERNAL/UNAVAILABLE status and the
// underlying connection is closed. Safe to call more than once; only the
// first call's cause is recorded and acted on.
func (t *Transport) abort(cause error) {
	t.mu.Lock()
	if t.phaseState == phaseStopped || t.phaseState == phaseFailed {
		t.mu.Unlock()
		return
	}
	status := statusFromCause(cause)
	t.failCause = status
	toFail := t.enterGoAwayLocked(phaseFailed, 0)
	t.finishLocked()
	t.mu.Unlock()

	t.logger.Warn("transport aborted", "cause", cause)

	for _, s := range toFail {
		s.deliverTerminal(status, nil)
	}
}

// onWriterFatal is the write serializer's onFatal callback: any I/O error
// writing to the socket is treated as fatal to the whole connection, per
// spec.md §4.1.
func (t *Transport) onWriterFatal(err error) {
	t.abort(err)
}

// shutdownIO closes the write serializer (which flushes nothing further,
// drains in-flight ops, and closes the underlying writer) and the raw
// connection, stops the keepalive loop, and unblocks the inbound dispatcher
// goroutine, which observes the resulting read error and returns.
func (t *Transport) shutdownIO() {
	if t.keepaliveCancel != nil {
		t.keepaliveCancel()
	}
	err := multierr.Combine(t.writer.close(), t.conn.Close())
	if err != nil {
		t.logger.Debug("shutdown IO", "err", err)
	}
}

// runKeepalive pings the peer every opts.pingInterval, whether or not other
// traffic is flowing, to detect a dead connection, grounded on the teacher's
// own ping-timer in Conn.writeLoop. If a previous keepalive PING is still
// unacknowledged when the next one falls due, the peer is presumed
// unresponsive and this returns an error that start turns into a transport
// abort, per SPEC_FULL.md §9.
func (t *Transport) runKeepalive(ctx context.Context) error {
	ticker := time.NewTicker(t.opts.pingInterval)
	defer ticker.Stop()

	var data [8]byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&t.pingOutstanding, 0, 1) {
				return errKeepaliveTimeout
			}
			t.writer.ping(false, data)
			t.writer.flush()
		}
	}
}

// onPingAck clears the outstanding-keepalive-ping flag; invoked by the
// inbound dispatcher whenever a PING ACK arrives, whether or not it is the
// keepalive loop's own ping (any ACK is evidence the peer is alive).
func (t *Transport) onPingAck() {
	atomic.StoreInt32(&t.pingOutstanding, 0)
}

// runInboundDispatcher is the Transport's single reader goroutine: it pulls
// frames off the wire and dispatches each to its handler in dispatcher.go,
// returning (and so triggering abort) the first time the read side fails.
func (t *Transport) runInboundDispatcher() error {
	for {
		fr, err := t.reader.nextFrame()
		if err != nil {
			return err
		}
		t.handleFrame(fr)
	}
}
