package transport

import (
	"fmt"

	"golang.org/x/net/http2"
)

// Code is the logical status taxonomy a Stream's terminal callback is
// reported with. It intentionally mirrors the small set of outcomes spec'd
// for this core rather than a full RPC status-code space.
type Code int

const (
	// CodeOK means the stream ended normally.
	CodeOK Code = iota
	// CodeCancelled means a local cancel() or a peer RST_STREAM(CANCEL).
	CodeCancelled
	// CodePermissionDenied means a peer RST_STREAM(INVALID_CREDENTIALS).
	CodePermissionDenied
	// CodeUnavailable means the stream was rejected or aborted by GOAWAY.
	CodeUnavailable
	// CodeInternal covers protocol violations, unknown error codes,
	// stream-id exhaustion, and unclassified I/O failure.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeCancelled:
		return "CANCELLED"
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodeUnavailable:
		return "UNAVAILABLE"
	case CodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Status is the terminal outcome delivered to a Stream's Listener exactly
// once. It implements error so it can also be returned from lifecycle calls
// that fail synchronously (e.g. newStream after GOAWAY).
type Status struct {
	Code    Code
	Message string
}

func newStatus(code Code, msg string) *Status {
	return &Status{Code: code, Message: msg}
}

func (s *Status) Error() string {
	if s == nil {
		return "<nil status>"
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// OK reports whether the status represents a successful stream completion.
func (s *Status) OK() bool {
	return s == nil || s.Code == CodeOK
}

var statusOK = newStatus(CodeOK, "")

// knownErrCodeNames gives a human-readable name for HTTP/2 error codes the
// Framer already enumerates, used to build the generic INTERNAL message for
// codes that don't map to a more specific Status per spec.md §4.6.
var knownErrCodeNames = map[http2.ErrCode]string{
	http2.ErrCodeNo:                 "no error",
	http2.ErrCodeProtocol:           "protocol error",
	http2.ErrCodeInternal:           "internal error",
	http2.ErrCodeFlowControl:        "flow control error",
	http2.ErrCodeSettingsTimeout:    "settings timeout",
	http2.ErrCodeStreamClosed:       "stream closed",
	http2.ErrCodeFrameSize:          "frame size error",
	http2.ErrCodeRefusedStream:      "refused stream",
	http2.ErrCodeCancel:             "cancel",
	http2.ErrCodeCompression:        "compression error",
	http2.ErrCodeConnect:            "connect error",
	http2.ErrCodeEnhanceYourCalm:    "enhance your calm",
	http2.ErrCodeInadequateSecurity: "inadequate security",
	http2.ErrCodeHTTP11Required:     "HTTP/1.1 required",
}

// errCodeInvalidCredentials is not one of golang.org/x/net/http2's standard
// error codes; gRPC-style transports reserve it for authentication failure
// signaled over RST_STREAM. It is defined locally since the Framer has no
// symbol for it.
const errCodeInvalidCredentials http2.ErrCode = 0xf

// statusFromErrCode implements the §4.6 error-code mapping table.
func statusFromErrCode(code http2.ErrCode) *Status {
	switch code {
	case http2.ErrCodeNo:
		return statusOK
	case http2.ErrCodeCancel:
		return newStatus(CodeCancelled, "Cancelled")
	case errCodeInvalidCredentials:
		return newStatus(CodePermissionDenied, "Invalid credentials")
	}
	if name, ok := knownErrCodeNames[code]; ok {
		return newStatus(CodeInternal, name)
	}
	return newStatus(CodeInternal, "unknown error code")
}

// statusFromCause converts an arbitrary abort cause into a Status, used by
// Transport.abort.
func statusFromCause(cause error) *Status {
	if cause == nil {
		return newStatus(CodeInternal, "transport aborted")
	}
	if st, ok := cause.(*Status); ok {
		return st
	}
	return newStatus(CodeInternal, cause.Error())
}
