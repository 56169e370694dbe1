package pinning

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func testCertificate(t *testing.T, commonName string) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestVerifyCertificateAcceptsPinnedFingerprint(t *testing.T) {
	cert := testCertificate(t, "api.openai.com")
	pinner := New(map[string][]string{
		"api.openai.com": {Fingerprint(cert)},
	})

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	require.NoError(t, pinner.VerifyCertificate("api.openai.com", state))
	require.NoError(t, pinner.VerifyCertificate("api.openai.com:443", state))
}

func TestVerifyCertificateRejectsMismatch(t *testing.T) {
	pinned := testCertificate(t, "api.openai.com")
	rotated := testCertificate(t, "api.openai.com")
	pinner := New(map[string][]string{
		"api.openai.com": {Fingerprint(pinned)},
	})

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{rotated}}
	err := pinner.VerifyCertificate("api.openai.com", state)
	require.Error(t, err)

	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, "CERTIFICATE_MISMATCH", envelope.Code)
}

func TestVerifyCertificatePassesUnpinnedHost(t *testing.T) {
	pinner := New(map[string][]string{
		"api.openai.com": {Fingerprint(testCertificate(t, "api.openai.com"))},
	})

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{testCertificate(t, "api.anthropic.com")}}
	require.NoError(t, pinner.VerifyCertificate("api.anthropic.com", state))
	require.False(t, pinner.IsPinned("api.anthropic.com"))
	require.True(t, pinner.IsPinned("api.openai.com"))
}

func TestVerifyCertificateRejectsEmptyChainWhenPinned(t *testing.T) {
	pinner := New(map[string][]string{
		"api.openai.com": {Fingerprint(testCertificate(t, "api.openai.com"))},
	})

	err := pinner.VerifyCertificate("api.openai.com", tls.ConnectionState{})
	require.Error(t, err)
}

func TestNewNormalizesFingerprints(t *testing.T) {
	cert := testCertificate(t, "api.openai.com")
	colonized := strings.ToUpper(Fingerprint(cert))
	var parts []string
	for i := 0; i < len(colonized); i += 2 {
		parts = append(parts, colonized[i:i+2])
	}

	pinner := New(map[string][]string{
		"API.OpenAI.com ": {strings.Join(parts, ":")},
	})

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	require.NoError(t, pinner.VerifyCertificate("api.openai.com", state))
}

func TestConfigureTransportSetsTLSFloor(t *testing.T) {
	transport := &http.Transport{}
	pinner := New(map[string][]string{
		"api.openai.com": {Fingerprint(testCertificate(t, "api.openai.com"))},
	})

	pinner.ConfigureTransport(transport, "api.openai.com")
	require.NotNil(t, transport.TLSClientConfig)
	require.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	require.False(t, transport.TLSClientConfig.InsecureSkipVerify)
	require.NotNil(t, transport.TLSClientConfig.VerifyConnection)
}
