package transport

import (
	"bufio"
	"bytes"
	"io"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// defaultMaxDataLength is the outbound DATA-frame chunk size this transport
// uses. It is a safety margin comfortably below HTTP/2's 16 KiB frame-size
// floor; spec.md DESIGN NOTES §9 flags this as tunable by SETTINGS, which a
// future revision of the domain stack can wire through codecWriter.
const defaultMaxDataLength = 4096

// defaultInitialWindowSize is the per-stream/per-connection receive window
// this transport advertises and the unit §4.3/§4.4's "½ default window"
// WINDOW_UPDATE threshold is measured against.
const defaultInitialWindowSize = 64 * 1024

// codecWriter is the Codec Writer collaborator of spec.md §6: a thin,
// single-threaded-callable wrapper around golang.org/x/net/http2.Framer and
// its HPACK encoder. Every method that touches the Framer, the buffered
// writer or the HPACK encoder is only ever called from the write
// serializer's single goroutine (writer.go), so it carries no locking of its
// own; maxLen is set before the serializer starts and only read afterwards.
type codecWriter struct {
	fr     *http2.Framer
	bw     *bufio.Writer
	closer io.Closer

	enc    *hpack.Encoder
	encBuf bytes.Buffer

	maxLen uint32
}

func newCodecWriter(w io.Writer, closer io.Closer) *codecWriter {
	cw := &codecWriter{
		bw:     bufio.NewWriter(w),
		closer: closer,
		maxLen: defaultMaxDataLength,
	}
	cw.fr = http2.NewFramer(cw.bw, nil)
	cw.enc = hpack.NewEncoder(&cw.encBuf)
	return cw
}

func (cw *codecWriter) maxDataLength() uint32 { return cw.maxLen }

func (cw *codecWriter) setMaxDataLength(n uint32) { cw.maxLen = n }

func (cw *codecWriter) connectionPreface() error {
	_, err := cw.bw.WriteString(http2.ClientPreface)
	return err
}

// encodeHeaders HPACK-encodes fields into a fresh block; it is only safe to
// call from the same goroutine that drives the rest of codecWriter, which
// the write serializer guarantees.
func (cw *codecWriter) encodeHeaders(fields []hpack.HeaderField) ([]byte, error) {
	cw.encBuf.Reset()
	for _, f := range fields {
		if err := cw.enc.WriteField(f); err != nil {
			return nil, err
		}
	}
	block := make([]byte, cw.encBuf.Len())
	copy(block, cw.encBuf.Bytes())
	return block, nil
}

func (cw *codecWriter) headers(streamID uint32, block []byte, endHeaders, endStream bool) error {
	return cw.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndHeaders:    endHeaders,
		EndStream:     endStream,
	})
}

func (cw *codecWriter) data(streamID uint32, payload []byte, endStream bool) error {
	return cw.fr.WriteData(streamID, endStream, payload)
}

func (cw *codecWriter) rstStream(streamID uint32, code http2.ErrCode) error {
	return cw.fr.WriteRSTStream(streamID, code)
}

func (cw *codecWriter) settings(settings ...http2.Setting) error {
	return cw.fr.WriteSettings(settings...)
}

func (cw *codecWriter) ackSettings() error {
	return cw.fr.WriteSettingsAck()
}

func (cw *codecWriter) ping(ack bool, data [8]byte) error {
	return cw.fr.WritePing(ack, data)
}

func (cw *codecWriter) goAway(lastStreamID uint32, code http2.ErrCode, debug []byte) error {
	return cw.fr.WriteGoAway(lastStreamID, code, debug)
}

func (cw *codecWriter) windowUpdate(streamID uint32, delta uint32) error {
	if delta == 0 {
		return nil
	}
	return cw.fr.WriteWindowUpdate(streamID, delta)
}

func (cw *codecWriter) flush() error {
	return cw.bw.Flush()
}

func (cw *codecWriter) close() error {
	if cw.closer == nil {
		return nil
	}
	return cw.closer.Close()
}

// codecReader is the Codec Reader collaborator of spec.md §6: it pulls
// frames off the wire and reassembles header blocks (including CONTINUATION)
// into http2.MetaHeadersFrame via the Framer's built-in ReadMetaHeaders
// hook. Only the inbound dispatcher goroutine ever calls nextFrame.
type codecReader struct {
	fr  *http2.Framer
	dec *hpack.Decoder
}

func newCodecReader(r io.Reader) *codecReader {
	dec := hpack.NewDecoder(4096, nil)
	fr := http2.NewFramer(nil, r)
	fr.ReadMetaHeaders = dec
	fr.MaxHeaderListSize = 16 << 20
	return &codecReader{fr: fr, dec: dec}
}

func (cr *codecReader) nextFrame() (http2.Frame, error) {
	return cr.fr.ReadFrame()
}
