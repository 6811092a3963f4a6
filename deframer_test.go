package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeMessage(payload []byte) []byte {
	out := make([]byte, messagePrefixLen+len(payload))
	out[0] = 0
	out[1] = byte(len(payload) >> 24)
	out[2] = byte(len(payload) >> 16)
	out[3] = byte(len(payload) >> 8)
	out[4] = byte(len(payload))
	copy(out[messagePrefixLen:], payload)
	return out
}

func TestDeframerSingleMessage(t *testing.T) {
	var got [][]byte
	d := newDeframer(func(msg []byte) { got = append(got, msg) })

	require.NoError(t, d.write(encodeMessage([]byte("hello"))))
	require.Equal(t, [][]byte{[]byte("hello")}, got)
	require.NoError(t, d.finish())
}

func TestDeframerSplitAcrossWrites(t *testing.T) {
	var got [][]byte
	d := newDeframer(func(msg []byte) { got = append(got, msg) })

	encoded := encodeMessage([]byte("split message"))
	require.NoError(t, d.write(encoded[:3]))
	require.Empty(t, got)
	require.NoError(t, d.write(encoded[3:]))
	require.Equal(t, [][]byte{[]byte("split message")}, got)
}

func TestDeframerMultipleMessagesInOneWrite(t *testing.T) {
	var got [][]byte
	d := newDeframer(func(msg []byte) { got = append(got, msg) })

	buf := append(encodeMessage([]byte("one")), encodeMessage([]byte("two"))...)
	require.NoError(t, d.write(buf))
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
}

func TestDeframerFinishWithTruncatedMessage(t *testing.T) {
	d := newDeframer(func([]byte) {})
	encoded := encodeMessage([]byte("truncated"))
	require.NoError(t, d.write(encoded[:len(encoded)-2]))
	require.Error(t, d.finish())
}
