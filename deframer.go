package transport

import "fmt"

// messagePrefixLen is the fixed header every application message carries on
// the wire: 1 compression-flag byte followed by a 4-byte big-endian length,
// the same framing grpc-go's own deframer (and the pack's other HTTP/2 RPC
// transports, e.g. connect-go) use inside HTTP/2 DATA frames.
const messagePrefixLen = 5

// deframer is the Deframer collaborator of spec.md §3/§4.4/§6: it recovers
// application message boundaries out of the opaque byte buffers DATA frames
// deliver and invokes onMessage once per complete message, in arrival order.
// It holds no lock of its own — callers serialize access to it via the
// owning Stream's monitor.
type deframer struct {
	buf       []byte
	haveLen   bool
	wantLen   uint32
	onMessage func([]byte)
}

func newDeframer(onMessage func([]byte)) *deframer {
	return &deframer{onMessage: onMessage}
}

// write feeds newly-arrived bytes into the deframer, synchronously invoking
// onMessage for every message the accumulated buffer now completes.
func (d *deframer) write(p []byte) error {
	d.buf = append(d.buf, p...)

	for {
		if !d.haveLen {
			if len(d.buf) < messagePrefixLen {
				return nil
			}
			d.wantLen = beUint32(d.buf[1:messagePrefixLen])
			d.buf = d.buf[messagePrefixLen:]
			d.haveLen = true
		}

		if uint32(len(d.buf)) < d.wantLen {
			return nil
		}

		msg := make([]byte, d.wantLen)
		copy(msg, d.buf[:d.wantLen])
		d.buf = d.buf[d.wantLen:]
		d.haveLen = false

		d.onMessage(msg)
	}
}

// finish reports a protocol error if end-of-stream arrived mid-message.
func (d *deframer) finish() error {
	if d.haveLen || len(d.buf) != 0 {
		return fmt.Errorf("truncated message at end of stream (%d bytes pending)", len(d.buf))
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
