package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestStatusFromErrCode(t *testing.T) {
	cases := []struct {
		code http2.ErrCode
		want Code
	}{
		{http2.ErrCodeNo, CodeOK},
		{http2.ErrCodeCancel, CodeCancelled},
		{errCodeInvalidCredentials, CodePermissionDenied},
		{http2.ErrCodeProtocol, CodeInternal},
		{http2.ErrCode(0xffff), CodeInternal},
	}

	for _, c := range cases {
		got := statusFromErrCode(c.code)
		require.Equal(t, c.want, got.Code)
	}
}

func TestStatusOKHelper(t *testing.T) {
	require.True(t, (*Status)(nil).OK())
	require.True(t, statusOK.OK())
	require.False(t, newStatus(CodeInternal, "boom").OK())
}

func TestStatusFromCausePassesThroughStatus(t *testing.T) {
	orig := newStatus(CodeCancelled, "already a status")
	require.Same(t, orig, statusFromCause(orig))

	wrapped := statusFromCause(errors.New("plain io failure"))
	require.Equal(t, CodeInternal, wrapped.Code)
	require.Equal(t, "plain io failure", wrapped.Message)

	require.Equal(t, CodeInternal, statusFromCause(nil).Code)
}
