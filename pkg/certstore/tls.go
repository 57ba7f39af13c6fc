package certstore

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// PeerVerifier inspects the peer's leaf certificate (DER) during the TLS
// handshake. Returning an error aborts the handshake.
type PeerVerifier func(der []byte) error

// ServerTLSConfig builds a server-side TLS config presenting our identity.
// Peers authenticate with self-signed certificates, so chain verification is
// disabled and replaced with the caller's fingerprint pinning.
func (s *Store) ServerTLSConfig(verify PeerVerifier) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{s.tlsCert},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyLeaf(rawCerts, verify)
		},
	}
}

// ClientTLSConfig builds a client-side TLS config presenting our identity.
func (s *Store) ClientTLSConfig(verify PeerVerifier) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{s.tlsCert},
		InsecureSkipVerify: true, // self-signed peers; pinned by fingerprint instead
		MinVersion:         tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyLeaf(rawCerts, verify)
		},
	}
}

func verifyLeaf(rawCerts [][]byte, verify PeerVerifier) error {
	if len(rawCerts) == 0 {
		return cerr.New(cerr.CodeUntrustedPeer, "peer presented no certificate")
	}
	if verify == nil {
		return nil
	}
	return verify(rawCerts[0])
}

// PinVerifier returns a PeerVerifier that requires an exact fingerprint
// match.
func PinVerifier(expected string) PeerVerifier {
	return func(der []byte) error {
		fp, err := fingerprintDER(der)
		if err != nil {
			return err
		}
		if fp != expected {
			return cerr.Newf(cerr.CodeUntrustedPeer, "fingerprint %s does not match pinned %s", fp, expected)
		}
		return nil
	}
}
