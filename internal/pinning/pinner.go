// Package pinning hardens the outbound TLS channel to AI providers.
//
// Pinning is opt-in reinforcement on top of baseline certificate and
// hostname verification, never a replacement for it: hosts without
// configured fingerprints pass on standard verification alone.
package pinning

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/deckward/deckward/internal/errors"
)

// Pinner holds the per-host allow-list of SHA-256 leaf fingerprints.
type Pinner struct {
	pins map[string][]string

	// DialTimeout bounds the diagnostic fingerprint fetch. Default 10s.
	DialTimeout time.Duration
}

// New returns a pinner for the given host → fingerprint allow-list.
// Fingerprints are normalized to lowercase hex without separators.
func New(pins map[string][]string) *Pinner {
	normalized := make(map[string][]string, len(pins))
	for host, fingerprints := range pins {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		for _, fp := range fingerprints {
			fp = normalizeFingerprint(fp)
			if fp == "" {
				continue
			}
			normalized[host] = append(normalized[host], fp)
		}
	}
	return &Pinner{pins: normalized}
}

// ConfigureTransport enables strict verification and a TLS 1.2 floor on the
// transport, adding the pin check for hosts present in the allow-list.
func (p *Pinner) ConfigureTransport(transport *http.Transport, host string) {
	if transport == nil {
		return
	}

	tlsConfig := transport.TLSClientConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
		transport.TLSClientConfig = tlsConfig
	}

	tlsConfig.MinVersion = tls.VersionTLS12
	tlsConfig.InsecureSkipVerify = false

	// VerifyConnection runs after standard chain verification, so the pin
	// check only ever tightens the baseline.
	tlsConfig.VerifyConnection = func(state tls.ConnectionState) error {
		return p.VerifyCertificate(host, state)
	}
}

// VerifyCertificate compares the presented leaf certificate against the
// host's pinned fingerprints. Hosts absent from the allow-list pass.
func (p *Pinner) VerifyCertificate(host string, state tls.ConnectionState) error {
	pins := p.pinsFor(host)
	if len(pins) == 0 {
		return nil
	}

	if len(state.PeerCertificates) == 0 {
		return apperrors.NewCertificateMismatch(host)
	}

	presented := Fingerprint(state.PeerCertificates[0])
	for _, pin := range pins {
		if pin == presented {
			return nil
		}
	}
	return apperrors.NewCertificateMismatch(host)
}

// IsPinned reports whether the host has configured fingerprints.
func (p *Pinner) IsPinned(host string) bool {
	return len(p.pinsFor(host)) > 0
}

// FetchFingerprint connects to the host and reports the live leaf
// fingerprint, supporting allow-list rotation. Standard verification still
// applies; the pin check does not.
func (p *Pinner) FetchFingerprint(ctx context.Context, host string) (string, error) {
	address := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		address = net.JoinHostPort(host, "443")
	}

	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{MinVersion: tls.VersionTLS12},
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", address, err)
	}
	defer conn.Close() // nolint:errcheck // best-effort cleanup

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return "", fmt.Errorf("unexpected connection type for %s", address)
	}

	certificates := tlsConn.ConnectionState().PeerCertificates
	if len(certificates) == 0 {
		return "", fmt.Errorf("no certificate presented by %s", address)
	}

	return Fingerprint(certificates[0]), nil
}

// Fingerprint returns the lowercase hex SHA-256 digest of the certificate.
func Fingerprint(cert *x509.Certificate) string {
	digest := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(digest[:])
}

func (p *Pinner) pinsFor(host string) []string {
	if p == nil || len(p.pins) == 0 {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return p.pins[strings.ToLower(strings.TrimSpace(host))]
}

func normalizeFingerprint(fp string) string {
	fp = strings.ToLower(strings.TrimSpace(fp))
	fp = strings.ReplaceAll(fp, ":", "")
	fp = strings.ReplaceAll(fp, " ", "")
	return fp
}
