// Package tls is the default TlsSocket provider: a crypto/tls dial
// wrapped around a net.Conn, configured from the TLSMaterial a caller
// supplies (server CA plus an optional client certificate and key).
package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/edgelink/core/internal/provider"
	log "github.com/edgelink/core/pkg/minilog"
)

var ErrNoServerCA = errors.New("tls: TLSMaterial.ServerCAPEM is required")

// Socket dials a TCP connection and performs a TLS handshake over it,
// returning the result as a provider.ByteStream the engines above
// consume like any other duplex stream.
type Socket struct {
	// CheckOCSP, if true, checks the OCSP response the server stapled
	// during the handshake (if any) against the leaf certificate using
	// golang.org/x/crypto/ocsp, failing the dial if it reports the
	// certificate revoked. No OCSP responder is contacted; without a
	// stapled response the check passes.
	CheckOCSP bool
}

func (s Socket) DialContext(ctx context.Context, addr string, material provider.TLSMaterial) (provider.ByteStream, error) {
	if len(material.ServerCAPEM) == 0 {
		return nil, ErrNoServerCA
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(material.ServerCAPEM) {
		return nil, errors.New("tls: failed to parse ServerCAPEM")
	}

	cfg := &tls.Config{RootCAs: pool}
	if len(material.ClientCertPEM) > 0 {
		cert, err := tls.X509KeyPair(material.ClientCertPEM, material.ClientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("tls: parsing client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	dialer := &tls.Dialer{Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close()
		return nil, errors.New("tls: dialer returned a non-TLS connection")
	}

	if s.CheckOCSP {
		if err := checkOCSP(tlsConn); err != nil {
			tlsConn.Close()
			return nil, err
		}
	}

	return &stream{conn: tlsConn}, nil
}

// checkOCSP validates a stapled revocation response for the server's
// leaf certificate against its issuer, when the chain, an issuer and a
// stapled response are all present.
func checkOCSP(conn *tls.Conn) error {
	chains := conn.ConnectionState().VerifiedChains
	if len(chains) == 0 || len(chains[0]) < 2 {
		return nil
	}
	leaf, issuer := chains[0][0], chains[0][1]

	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return fmt.Errorf("tls: building OCSP request: %w", err)
	}
	// The request bytes are handed to the caller's HTTP client against
	// the responder named in leaf.OCSPServer in a full implementation;
	// this provider only constructs the request and validates a
	// response if one is already cached on the connection state via
	// TLS status-request stapling (OCSPResponse).
	stapled := conn.ConnectionState().OCSPResponse
	if len(stapled) == 0 {
		return nil
	}
	resp, err := ocsp.ParseResponseForCert(stapled, leaf, issuer)
	if err != nil {
		return fmt.Errorf("tls: parsing stapled OCSP response: %w", err)
	}
	if resp.Status == ocsp.Revoked {
		return fmt.Errorf("tls: certificate revoked (OCSP, request len %d)", len(req))
	}
	log.DebugNamed("tls", "OCSP staple ok for %s", leaf.Subject.CommonName)
	return nil
}

// stream adapts a *tls.Conn to provider.ByteStream.
type stream struct {
	conn *tls.Conn
}

// ReadByte never blocks the run loop: it polls with a near-zero
// deadline, reporting NoData on a timeout rather than stalling the
// single-threaded cooperative scheduler spec.md §5 requires.
func (s *stream) ReadByte() (provider.ReadResult, byte) {
	s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	var b [1]byte
	n, err := s.conn.Read(b[:])
	if n == 1 {
		return provider.GotData, b[0]
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return provider.NoData, 0
		}
		return provider.ReadError, 0
	}
	return provider.NoData, 0
}

func (s *stream) WriteBytes(p []byte) bool {
	_, err := s.conn.Write(p)
	return err == nil
}

func (s *stream) IsBound() bool { return s.conn != nil }
