package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const (
	// The default value set for http.Transport.MaxIdleConnsPerHost.
	DefaultIdleConnsPerHost = 64

	// The default period at which the idle connections are forcibly
	// closed.
	DefaultIdleConnTimeout = 20 * time.Second

	// DefaultDialTimeout, the default TCP dial timeout towards the
	// downstream services.
	DefaultDialTimeout = 30 * time.Second

	// DefaultTLSHandshakeTimeout, the default TLS handshake timeout
	// towards the downstream services.
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// TransportOptions configure the process wide connection pools.
type TransportOptions struct {
	// Insecure causes the transports to skip the verification of
	// the TLS certificates of the downstream services.
	Insecure bool

	// ClientTLS is the TLS configuration used towards the
	// downstream services.
	ClientTLS *tls.Config

	// Same as net/http.Transport.MaxIdleConnsPerHost, but the
	// default is 64.
	IdleConnsPerHost int

	// IdleConnTimeout is the period after which pooled idle
	// connections are closed.
	IdleConnTimeout time.Duration

	// DialTimeout is the TCP connection timeout towards the
	// downstream services.
	DialTimeout time.Duration

	// KeepAlive is the TCP keepalive of the downstream
	// connections.
	KeepAlive time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake towards the
	// downstream services.
	TLSHandshakeTimeout time.Duration
}

// Transports holds the four long-lived connection pools of the
// gateway: plain and TLS, each in a pooling and a non-reusing variant.
// They are created once during process initialization and shared,
// read-only, by all requests. Event stream exchanges use the
// non-reusing variants so that a connection bound to a long-lived
// stream is never returned to a shared pool.
type Transports struct {
	pooled    *http.Transport
	pooledTLS *http.Transport
	single    *http.Transport
	singleTLS *http.Transport
}

// NewTransports builds the four connection pools.
func NewTransports(o TransportOptions) *Transports {
	if o.IdleConnsPerHost <= 0 {
		o.IdleConnsPerHost = DefaultIdleConnsPerHost
	}

	if o.IdleConnTimeout == 0 {
		o.IdleConnTimeout = DefaultIdleConnTimeout
	}

	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.TLSHandshakeTimeout == 0 {
		o.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}

	tlsConfig := o.ClientTLS
	if o.Insecure {
		if tlsConfig == nil {
			/* #nosec */
			tlsConfig = &tls.Config{InsecureSkipVerify: true}
		} else {
			/* #nosec */
			tlsConfig.InsecureSkipVerify = true
		}
	}

	newTransport := func(useTLS, reuse bool) *http.Transport {
		tr := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   o.DialTimeout,
				KeepAlive: o.KeepAlive,
			}).DialContext,
			TLSHandshakeTimeout: o.TLSHandshakeTimeout,
			MaxIdleConnsPerHost: o.IdleConnsPerHost,
			IdleConnTimeout:     o.IdleConnTimeout,
			DisableKeepAlives:   !reuse,
		}

		if useTLS && tlsConfig != nil {
			tr.TLSClientConfig = tlsConfig
		}

		return tr
	}

	return &Transports{
		pooled:    newTransport(false, true),
		pooledTLS: newTransport(true, true),
		single:    newTransport(false, false),
		singleTLS: newTransport(true, false),
	}
}

// Get returns the transport for the given URL scheme and connection
// reuse policy.
func (t *Transports) Get(scheme string, reuse bool) *http.Transport {
	switch {
	case scheme == "https" && reuse:
		return t.pooledTLS
	case scheme == "https":
		return t.singleTLS
	case reuse:
		return t.pooled
	default:
		return t.single
	}
}

// CloseIdleConnections releases the idle connections of all four
// pools.
func (t *Transports) CloseIdleConnections() {
	t.pooled.CloseIdleConnections()
	t.pooledTLS.CloseIdleConnections()
	t.single.CloseIdleConnections()
	t.singleTLS.CloseIdleConnections()
}
