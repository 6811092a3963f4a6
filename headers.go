package transport

import (
	"strings"

	"golang.org/x/net/http2/hpack"
)

// RequestHeaders is the caller-supplied request metadata NewStream takes,
// before the Header Builder (spec.md §6) adds HTTP/2 pseudo-headers and
// connection defaults to it.
type RequestHeaders struct {
	// Method is the RPC method name; the outbound ":path" pseudo-header is
	// "/" + Method, per spec.md §4.4.
	Method string

	// Extra carries any additional application metadata to send as regular
	// (non-pseudo) header fields.
	Extra Metadata
}

const (
	userAgent   = "h2transport/1.0"
	contentType = "application/h2transport+proto"
)

// buildHeaderFields implements the Header Builder collaborator: it produces
// the outbound HEADERS field list carrying the HTTP/2 pseudo-headers plus
// whatever the request metadata builder adds, the way the teacher's
// writeRequest assembles ":authority", ":method", ":path", ":scheme" ahead
// of the caller's own header set.
func buildHeaderFields(authority string, req RequestHeaders) []hpack.HeaderField {
	fields := make([]hpack.HeaderField, 0, 8+len(req.Extra))

	fields = append(fields,
		hpack.HeaderField{Name: ":method", Value: "POST"},
		hpack.HeaderField{Name: ":scheme", Value: "https"},
		hpack.HeaderField{Name: ":path", Value: "/" + req.Method},
		hpack.HeaderField{Name: ":authority", Value: authority},
		hpack.HeaderField{Name: "te", Value: "trailers"},
		hpack.HeaderField{Name: "content-type", Value: contentType},
		hpack.HeaderField{Name: "user-agent", Value: userAgent},
	)

	for k, vs := range req.Extra {
		k = strings.ToLower(k)
		for _, v := range vs {
			fields = append(fields, hpack.HeaderField{Name: k, Value: v})
		}
	}

	return fields
}

// convertHeaders implements the Header Converter collaborator: it splits an
// inbound decoded header block into the ":status" pseudo-header (if present)
// and the listener-visible Metadata, stripping all other pseudo-headers.
func convertHeaders(fields []hpack.HeaderField) (status string, md Metadata) {
	md = newMetadata()
	for _, f := range fields {
		if strings.HasPrefix(f.Name, ":") {
			if f.Name == ":status" {
				status = f.Value
			}
			continue
		}
		md.Add(f.Name, f.Value)
	}
	return status, md
}
