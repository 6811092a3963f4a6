package transport

import (
	"errors"

	"golang.org/x/net/http2"
)

var errHeaderListTooLarge = errors.New("header list exceeded the configured size limit")

// handleFrame is the Inbound Dispatcher of spec.md §4.3: it routes each
// frame the codec reader hands back to the Transport or Stream method that
// owns that frame type's semantics. Grounded on the teacher's own
// readLoop switch (client.go), generalized from a sync.Map stream lookup to
// the streamRegistry.
func (t *Transport) handleFrame(fr http2.Frame) {
	switch f := fr.(type) {
	case *http2.DataFrame:
		t.handleData(f)
	case *http2.MetaHeadersFrame:
		t.handleHeaders(f)
	case *http2.RSTStreamFrame:
		t.handleRSTStream(f)
	case *http2.SettingsFrame:
		t.handleSettings(f)
	case *http2.PingFrame:
		t.handlePing(f)
	case *http2.GoAwayFrame:
		t.handleGoAway(f)
	case *http2.WindowUpdateFrame:
		// Outbound flow control is out of scope (spec.md Non-goals); the
		// transport never throttles writes on a peer-advertised window, so
		// WINDOW_UPDATE frames are observed and discarded.
	case *http2.PriorityFrame, *http2.PushPromiseFrame:
		// PRIORITY carries no semantics this client acts on; PUSH_PROMISE is
		// refused implicitly by never advertising server push support via
		// SETTINGS_ENABLE_PUSH=0, but a peer that sends one anyway is simply
		// ignored rather than treated as a protocol error, matching the
		// teacher's own default-case tolerance in readLoop.
	default:
		// Unrecognized or extension frames (e.g. ALT_SVC) are ignored, per
		// HTTP/2's own forward-compatibility rule that unknown frame types
		// must be ignored by implementations that don't understand them.
	}
}

func (t *Transport) handleData(f *http2.DataFrame) {
	s := t.registry.get(f.StreamID)
	if s == nil {
		// No such stream: either it was already finalized locally or the
		// peer is misbehaving. Either way this client does not know what
		// bytes it owed flow-control credit for, so it resets rather than
		// silently drop-and-forget.
		t.writer.rstStream(f.StreamID, http2.ErrCodeStreamClosed)
		t.writer.flush()
		return
	}
	s.deliverData(f.Data(), f.StreamEnded())
}

func (t *Transport) handleHeaders(f *http2.MetaHeadersFrame) {
	s := t.registry.get(f.StreamID)
	if s == nil {
		t.writer.rstStream(f.StreamID, http2.ErrCodeStreamClosed)
		t.writer.flush()
		return
	}
	if f.Truncated {
		s.finalizeProtocolError(errHeaderListTooLarge)
		return
	}
	s.deliverHeaders(f.Fields, f.StreamEnded())
}

func (t *Transport) handleRSTStream(f *http2.RSTStreamFrame) {
	s := t.registry.get(f.StreamID)
	if s == nil {
		return
	}
	t.finalizeStream(s, statusFromErrCode(f.ErrCode), nil)
}

func (t *Transport) handleSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	t.writer.ackSettings()
	t.writer.flush()
}

func (t *Transport) handlePing(f *http2.PingFrame) {
	if f.IsAck() {
		t.onPingAck()
		return
	}
	t.writer.ping(true, f.Data)
	t.writer.flush()
}

// handleGoAway implements spec.md §4.7: every stream with id greater than
// the peer's LastStreamID is force-failed UNAVAILABLE (it was never and
// never will be processed), the transport stops admitting new streams, and
// once the remaining (already-acknowledged) streams drain naturally the
// connection closes.
func (t *Transport) handleGoAway(f *http2.GoAwayFrame) {
	status := newStatus(CodeUnavailable, "received GOAWAY from peer")

	t.mu.Lock()
	toFail := t.enterGoAwayLocked(phaseStopping, f.LastStreamID)
	quiescent := t.registry.len() == 0
	if quiescent {
		t.phaseState = phaseStopped
		t.finishLocked()
	}
	t.mu.Unlock()

	for _, s := range toFail {
		s.deliverTerminal(status, nil)
	}
}
