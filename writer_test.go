package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestWriteSerializerOrdersFramesFIFO(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cw := newCodecWriter(clientConn, clientConn)
	ws := newWriteSerializer(cw, func(error) {})
	defer ws.close()

	readerDone := make(chan []uint32, 1)
	go func() {
		fr := http2.NewFramer(nil, serverConn)
		var ids []uint32
		for i := 0; i < 3; i++ {
			f, err := fr.ReadFrame()
			if err != nil {
				break
			}
			ids = append(ids, f.Header().StreamID)
		}
		readerDone <- ids
	}()

	for i := uint32(1); i <= 5; i += 2 {
		id := i
		ws.data(id, []byte("x"), false)
	}
	ws.flush()

	select {
	case ids := <-readerDone:
		require.Equal(t, []uint32{1, 3, 5}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
}

func TestWriteSerializerCloseIsIdempotent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	cw := newCodecWriter(clientConn, clientConn)
	ws := newWriteSerializer(cw, func(error) {})

	go func() {
		fr := http2.NewFramer(nil, serverConn)
		for {
			if _, err := fr.ReadFrame(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, ws.close())
	require.NoError(t, ws.close())
}

func TestWriteSerializerFailsSubmitAfterClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	cw := newCodecWriter(clientConn, clientConn)
	var failed error
	ws := newWriteSerializer(cw, func(err error) { failed = err })

	go func() {
		fr := http2.NewFramer(nil, serverConn)
		for {
			if _, err := fr.ReadFrame(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, ws.close())

	// submit after close must not panic and must not deliver to onFatal.
	ws.data(1, []byte("late"), true)
	require.Nil(t, failed)
}
