// Package transport multiplexes many concurrent logical RPC calls over a
// single HTTP/2 connection.
//
// It owns one bidirectional byte stream to a peer and the set of currently
// open Streams, translating each Stream into HTTP/2 frames on the way out and
// demultiplexing inbound frames back to the owning Stream on the way in.
// Message (de)serialization, TLS negotiation, and the HPACK/frame codec
// itself are external collaborators; this package only implements the
// multiplexing, flow control, and lifecycle state machine on top of them.
package transport
