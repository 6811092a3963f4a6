package transport

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// writeQueueCapacity bounds the write serializer's queue. A slow peer that
// lets this queue fill is treated as a fatal write error rather than let the
// queue, and the goroutines behind it, grow without bound — see DESIGN NOTES
// §9 "Async write fan-in".
const writeQueueCapacity = 256

// writeQueueBackpressureTimeout is how long a caller will wait for room in
// the write queue before the serializer gives up and aborts the transport.
const writeQueueBackpressureTimeout = 10 * time.Second

var errWriteQueueSaturated = errors.New("write queue saturated: peer not draining")

type writeOp func(cw *codecWriter) error

// writeSerializer is the Write Serializer of spec.md §4.1: a
// single-producer-per-call, single-consumer sink that applies every outbound
// frame to the codec writer in FIFO submission order, on one goroutine. No
// caller of its public methods ever blocks on the socket; at worst they
// block briefly on queue capacity (see writeQueueBackpressureTimeout).
//
// HPACK encoding is stateful across the whole connection, so header blocks
// are not pre-encoded by callers: headers() instead submits the raw field
// list and lets the single writer goroutine encode *and* write it, keeping
// HPACK's encoder state changes in the same order as the frames that carry
// them onto the wire.
type writeSerializer struct {
	cw *codecWriter

	// sendMu is held for read by every in-flight submit() and for write by
	// close(), so close() can never race a concurrent send on ops with its
	// own close(ops) — the two are mutually exclusive.
	sendMu        sync.RWMutex
	closedForSend bool

	ops     chan writeOp
	drained chan struct{}

	closeOnce sync.Once
	aborted   bool
	abortMu   sync.Mutex

	onFatal func(error)
}

func newWriteSerializer(cw *codecWriter, onFatal func(error)) *writeSerializer {
	ws := &writeSerializer{
		cw:      cw,
		ops:     make(chan writeOp, writeQueueCapacity),
		drained: make(chan struct{}),
		onFatal: onFatal,
	}
	go ws.run()
	return ws
}

func (ws *writeSerializer) run() {
	defer close(ws.drained)
	for op := range ws.ops {
		if ws.isAborted() {
			continue
		}
		if err := op(ws.cw); err != nil {
			ws.fail(err)
		}
	}
}

func (ws *writeSerializer) isAborted() bool {
	ws.abortMu.Lock()
	defer ws.abortMu.Unlock()
	return ws.aborted
}

// fail marks the serializer aborted and invokes onFatal exactly once. Per
// spec.md §4.1, an I/O failure during writing triggers transport abort and
// the serializer stops accepting further writes.
func (ws *writeSerializer) fail(err error) {
	ws.abortMu.Lock()
	already := ws.aborted
	ws.aborted = true
	ws.abortMu.Unlock()
	if !already {
		ws.onFatal(err)
	}
}

// submit enqueues op. It blocks only on queue capacity, never on the socket.
func (ws *writeSerializer) submit(op writeOp) {
	ws.sendMu.RLock()
	defer ws.sendMu.RUnlock()

	if ws.closedForSend {
		return
	}

	select {
	case ws.ops <- op:
		return
	default:
	}

	timer := time.NewTimer(writeQueueBackpressureTimeout)
	defer timer.Stop()

	select {
	case ws.ops <- op:
	case <-timer.C:
		ws.fail(errWriteQueueSaturated)
	}
}

func (ws *writeSerializer) connectionPreface() {
	ws.submit(func(cw *codecWriter) error { return cw.connectionPreface() })
}

func (ws *writeSerializer) headers(streamID uint32, fields []hpack.HeaderField, endStream bool) {
	ws.submit(func(cw *codecWriter) error {
		block, err := cw.encodeHeaders(fields)
		if err != nil {
			return err
		}
		return cw.headers(streamID, block, true, endStream)
	})
}

func (ws *writeSerializer) data(streamID uint32, payload []byte, endStream bool) {
	ws.submit(func(cw *codecWriter) error { return cw.data(streamID, payload, endStream) })
}

func (ws *writeSerializer) rstStream(streamID uint32, code http2.ErrCode) {
	ws.submit(func(cw *codecWriter) error { return cw.rstStream(streamID, code) })
}

func (ws *writeSerializer) settings(settings ...http2.Setting) {
	ws.submit(func(cw *codecWriter) error { return cw.settings(settings...) })
}

func (ws *writeSerializer) ackSettings() {
	ws.submit(func(cw *codecWriter) error { return cw.ackSettings() })
}

func (ws *writeSerializer) ping(ack bool, data [8]byte) {
	ws.submit(func(cw *codecWriter) error { return cw.ping(ack, data) })
}

func (ws *writeSerializer) goAway(lastStreamID uint32, code http2.ErrCode, debug []byte) {
	ws.submit(func(cw *codecWriter) error { return cw.goAway(lastStreamID, code, debug) })
}

func (ws *writeSerializer) windowUpdate(streamID uint32, delta uint32) {
	if delta == 0 {
		return
	}
	ws.submit(func(cw *codecWriter) error { return cw.windowUpdate(streamID, delta) })
}

func (ws *writeSerializer) flush() {
	ws.submit(func(cw *codecWriter) error { return cw.flush() })
}

func (ws *writeSerializer) maxDataLength() uint32 {
	return ws.cw.maxDataLength()
}

// close drains outstanding writes then releases the underlying writer. It is
// idempotent.
func (ws *writeSerializer) close() error {
	ws.closeOnce.Do(func() {
		ws.sendMu.Lock()
		ws.closedForSend = true
		close(ws.ops)
		ws.sendMu.Unlock()
	})
	<-ws.drained
	return ws.cw.close()
}
