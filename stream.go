package transport

import (
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// streamInboundPhase is the Stream.inboundPhase enum of spec.md §3.
type streamInboundPhase int8

const (
	inboundHeaders streamInboundPhase = iota
	inboundMessage
	inboundStatus
	inboundClosed
)

// streamOutboundPhase is the Stream.outboundPhase enum of spec.md §3.
type streamOutboundPhase int8

const (
	outboundHeaders streamOutboundPhase = iota
	outboundMessage
	outboundStatus
)

// Stream is one logical RPC call multiplexed over the Transport's single
// HTTP/2 connection, identified once assigned by a 31-bit odd id. All
// inbound delivery (deliverData, deliverHeaders) and flow-control state
// changes are serialized on mu, the stream's own monitor — per spec.md
// §4.4/§5, no two callbacks for the same stream ever run concurrently.
type Stream struct {
	// id is 0 until the Transport admits this stream under its own lock; it
	// is immutable for the rest of the Stream's life after that point, so it
	// is read without mu once the constructor has returned the Stream.
	id        uint32
	transport *Transport

	mu            sync.Mutex
	inboundPhase  streamInboundPhase
	outboundPhase streamOutboundPhase

	deframer   *deframer
	headersSeq *sequencer
	trailers   Metadata

	recvUnacked            uint32
	windowUpdateSuppressed bool
	pendingWindowUpdate    bool

	terminal bool
	listener Listener
}

func newStream(listener Listener) *Stream {
	s := &Stream{
		listener:   listener,
		headersSeq: newSequencer(),
	}
	s.deframer = newDeframer(func(msg []byte) {
		s.headersSeq.wait()
		s.listener.OnMessage(msg)
	})
	return s
}

// ID returns the stream's assigned identifier, or 0 if it was never
// admitted (the constructor observed GOAWAY).
func (s *Stream) ID() uint32 { return s.id }

// deliverData is invoked by the inbound dispatcher for every DATA frame
// addressed to this stream (spec.md §4.3/§4.4).
func (s *Stream) deliverData(payload []byte, endOfStream bool) {
	s.mu.Lock()
	if s.inboundPhase == inboundClosed {
		s.mu.Unlock()
		return
	}

	if s.inboundPhase == inboundHeaders {
		// DATA arrived before any response HEADERS: no header delivery will
		// precede these messages, so release the sequencing token now rather
		// than have the deframer wait on it forever.
		s.inboundPhase = inboundMessage
		s.headersSeq.resolve()
	}

	if err := s.deframer.write(payload); err != nil {
		s.mu.Unlock()
		s.finalizeProtocolError(err)
		return
	}

	s.recvUnacked += uint32(len(payload))
	s.maybeSendWindowUpdateLocked()

	if !endOfStream {
		s.mu.Unlock()
		return
	}

	if err := s.deframer.finish(); err != nil {
		s.mu.Unlock()
		s.finalizeProtocolError(err)
		return
	}
	s.inboundPhase = inboundStatus
	s.headersSeq.resolve()
	s.mu.Unlock()

	s.remoteEndClosed(nil)
}

// deliverHeaders is invoked by the inbound dispatcher for the HEADERS frame
// (and any CONTINUATIONs the codec reassembled into it) addressed to this
// stream.
func (s *Stream) deliverHeaders(fields []hpack.HeaderField, endOfStream bool) {
	s.mu.Lock()
	if s.inboundPhase == inboundStatus || s.inboundPhase == inboundClosed {
		s.mu.Unlock()
		return
	}

	_, md := convertHeaders(fields)

	if endOfStream {
		s.trailers = md
		s.inboundPhase = inboundStatus
		s.headersSeq.resolve()
		// Feed the deframer an end-of-stream signal so it flushes its
		// pipeline per spec.md §4.4.
		if err := s.deframer.finish(); err != nil {
			s.mu.Unlock()
			s.finalizeProtocolError(err)
			return
		}
		trailers := s.trailers
		s.mu.Unlock()
		s.remoteEndClosed(trailers)
		return
	}

	if s.inboundPhase != inboundHeaders {
		// Only the first non-final header block is delivered to the listener.
		s.mu.Unlock()
		return
	}
	s.inboundPhase = inboundMessage
	s.mu.Unlock()

	// Delivered through the sequencing token so any message already queued
	// behind it (there never is one, in this synchronous design, but the
	// token makes that invariant explicit rather than assumed) is ordered
	// after headers — see sequencer.go.
	s.listener.OnHeaders(md)
	s.headersSeq.resolve()
}

// maybeSendWindowUpdateLocked implements the per-stream half of spec.md
// §8's flow-control invariant. Caller holds mu.
func (s *Stream) maybeSendWindowUpdateLocked() {
	if s.recvUnacked < defaultInitialWindowSize/2 {
		return
	}
	if s.windowUpdateSuppressed {
		s.pendingWindowUpdate = true
		return
	}
	s.transport.writer.windowUpdate(s.id, s.recvUnacked)
	s.recvUnacked = 0
	s.pendingWindowUpdate = false
}

// disableWindowUpdate suppresses per-stream WINDOW_UPDATE emission until
// done fires, at which point any WINDOW_UPDATE that threshold-qualified
// while suppressed is flushed. This lets application-side backpressure
// pause receive-side flow-control credit while messages are still queued
// for consumption (spec.md §4.4).
func (s *Stream) disableWindowUpdate(done <-chan struct{}) {
	s.mu.Lock()
	s.windowUpdateSuppressed = true
	s.mu.Unlock()

	go func() {
		<-done
		s.mu.Lock()
		s.windowUpdateSuppressed = false
		pending := s.pendingWindowUpdate
		unacked := s.recvUnacked
		s.pendingWindowUpdate = false
		if pending {
			s.recvUnacked = 0
		}
		s.mu.Unlock()

		if pending {
			s.transport.writer.windowUpdate(s.id, unacked)
		}
	}()
}

// sendFrame writes payload as a DATA frame. Precondition: the stream has
// been assigned an id; payload must be smaller than the write serializer's
// advertised maxDataLength, violation of which is a programming error per
// spec.md §4.4.
func (s *Stream) sendFrame(payload []byte, endOfStream bool) {
	if s.id == 0 {
		panic("transport: sendFrame called before the stream was assigned an id")
	}
	if uint32(len(payload)) >= s.transport.writer.maxDataLength() {
		panic("transport: sendFrame payload exceeds maxDataLength")
	}

	s.mu.Lock()
	if endOfStream {
		s.outboundPhase = outboundStatus
	} else {
		s.outboundPhase = outboundMessage
	}
	s.mu.Unlock()

	s.transport.writer.data(s.id, payload, endOfStream)
	s.transport.writer.flush()
}

// Cancel advances the outbound phase to STATUS and removes the stream from
// the registry; if it was still present there it enqueues RST_STREAM(CANCEL)
// and delivers CANCELLED to the listener exactly once. Idempotent.
func (s *Stream) Cancel() {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	id := s.id
	s.outboundPhase = outboundStatus
	s.mu.Unlock()

	if id == 0 {
		// The only legitimate path to id==0 is the constructor observing
		// GOAWAY, which leaves the stream already terminal — caught above.
		panic("transport: cancel on a stream with id==0 that was not already closed")
	}

	status := newStatus(CodeCancelled, "Cancelled")
	if s.transport.finalizeStream(s, status, nil) {
		s.transport.writer.rstStream(id, http2.ErrCodeCancel)
		s.transport.writer.flush()
	}
}

// remoteEndClosed removes the stream from the registry (no RST needed) and
// delivers OK with the given trailers. Called once all inbound bytes for
// the stream have been consumed and the peer has signalled end-of-stream,
// whether via a DATA frame's END_STREAM flag or a trailers-bearing HEADERS
// frame.
func (s *Stream) remoteEndClosed(trailers Metadata) {
	s.transport.finalizeStream(s, statusOK, trailers)
}

// finalizeProtocolError tears the stream down with an INTERNAL status after
// a locally-observed protocol violation (e.g. a truncated message).
func (s *Stream) finalizeProtocolError(err error) {
	s.transport.finalizeStream(s, newStatus(CodeInternal, err.Error()), nil)
}

// deliverTerminal delivers the stream's terminal status exactly once. It is
// the only place OnClose is invoked.
func (s *Stream) deliverTerminal(status *Status, trailers Metadata) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	s.inboundPhase = inboundClosed
	s.headersSeq.resolve()
	s.mu.Unlock()

	s.listener.OnClose(status, trailers)
}
