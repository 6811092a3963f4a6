package transport

import (
	"crypto/tls"
	"net"
	"time"
)

// DefaultPingInterval is how often a Transport pings its peer, whether or
// not other traffic is flowing, to detect a dead connection, grounded on the
// teacher's own
// DefaultPingInterval constant.
const DefaultPingInterval = 15 * time.Second

// Dialer establishes the raw, already-negotiated-for-h2 connection a
// Transport runs over. It is adapted from the teacher's own Dialer
// (configure.go/conn.go): same Addr/TLSConfig shape, generalized so a test
// can substitute net.Pipe() without going through crypto/tls at all.
type Dialer struct {
	// Addr is the server's address in the form "host:port".
	Addr string

	// TLSConfig is the TLS configuration used to dial. If nil, a default
	// config with NextProtos including "h2" is constructed.
	TLSConfig *tls.Config
}

// errServerSupport is returned by Dialer.dial (and so by New) when the peer
// completes a TLS handshake but does not negotiate "h2".
var errServerSupport = newStatus(CodeUnavailable, "server doesn't support HTTP/2")

func (d *Dialer) dial() (net.Conn, error) {
	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(d.Addr)
		if err != nil {
			host = d.Addr
		}
		cfg.ServerName = host
	}
	hasH2 := false
	for _, p := range cfg.NextProtos {
		if p == "h2" {
			hasH2 = true
			break
		}
	}
	if !hasH2 {
		cfg.NextProtos = append(cfg.NextProtos, "h2")
	}

	rawConn, err := net.Dial("tcp", d.Addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(rawConn, cfg)
	if err := conn.Handshake(); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	if conn.ConnectionState().NegotiatedProtocol != "h2" {
		_ = conn.Close()
		return nil, errServerSupport
	}
	return conn, nil
}

// options holds the Transport's tunables, assembled by Option functions
// passed to New. Defaults mirror the teacher's own ConnOpts/Dialer defaults.
type options struct {
	logger            Logger
	pingInterval      time.Duration
	initialWindowSize uint32
	maxFrameSize      uint32
}

func defaultOptions() *options {
	return &options{
		logger:            newLogger(),
		pingInterval:      DefaultPingInterval,
		initialWindowSize: defaultInitialWindowSize,
		maxFrameSize:      defaultMaxDataLength,
	}
}

// Option configures a Transport constructed by New.
type Option func(*options)

// WithLogger overrides the default log15-backed Logger.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPingInterval overrides DefaultPingInterval. An interval <= 0 restores
// the default rather than disabling keepalive, matching the teacher's own
// "can't be disabled" policy for its ping loop.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d <= 0 {
			d = DefaultPingInterval
		}
		o.pingInterval = d
	}
}

// WithInitialWindowSize overrides the per-stream/per-connection receive
// window this Transport advertises in its initial SETTINGS frame.
func WithInitialWindowSize(n uint32) Option {
	return func(o *options) { o.initialWindowSize = n }
}

// WithMaxFrameSize overrides the outbound DATA chunk size.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}
