package smtp

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"
)

func clientTLSConfig(e Endpoint) *tls.Config {
	if e.TLSConfig != nil {
		cfg := e.TLSConfig.Clone()
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			cfg.ServerName = e.Host
		}
		return cfg
	}

	return &tls.Config{
		ServerName: e.Host,
		MinVersion: tls.VersionTLS12,
	}
}

// upgrade replaces the plaintext connection with a TLS client connection
// over the same socket. Anything the server sent ahead of the handshake is
// rejected rather than read as if it had been encrypted.
func (c *conn) upgrade(cfg *tls.Config) error {
	if c.closed {
		return &ConnectionError{Op: "tls handshake", Err: net.ErrClosed}
	}

	if c.r.Buffered() > 0 {
		return &ProtocolError{Msg: "server sent data before TLS handshake"}
	}

	tlsConn := tls.Client(c.netConn, cfg)
	if err := tlsConn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return &ConnectionError{Op: "tls handshake", Err: err}
	}
	if err := tlsConn.Handshake(); err != nil {
		return classify("tls handshake", err)
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return &ConnectionError{Op: "tls handshake", Err: err}
	}

	c.netConn = tlsConn
	c.r = bufio.NewReader(tlsConn)
	c.w = bufio.NewWriter(tlsConn)

	c.logger.Debug("TLS connection established", "version", tls.VersionName(tlsConn.ConnectionState().Version))

	return nil
}
