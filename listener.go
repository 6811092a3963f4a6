package transport

// Listener is the application-visible callback surface for one Stream. The
// core guarantees listener callbacks for a given stream are totally ordered,
// never run concurrently with each other, and end with exactly one OnClose
// call after which no further callback occurs — see spec.md §4.4 and §8's
// ordering invariant.
type Listener interface {
	// OnHeaders is called at most once, before any OnMessage call, with the
	// peer's response headers (pseudo-headers already stripped).
	OnHeaders(md Metadata)

	// OnMessage is called once per reassembled application message, in wire
	// order.
	OnMessage(msg []byte)

	// OnClose is called exactly once, last, with the stream's terminal
	// status and any trailers the peer sent.
	OnClose(status *Status, trailers Metadata)
}
