// Package certstore manages the daemon's TLS identity and the certificates of
// paired peers.
//
// Layout (relative to the configured data root):
//
//	cert/device.crt        our certificate (PEM)
//	cert/device.key        our private key (PEM, 0600)
//	cert/peers/<id>.crt    a paired peer's certificate (PEM)
//
// The identity is generated once on first run and kept stable so that the
// SHA-256 public-key fingerprint, the trust anchor for pairing, never changes.
package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
)

const (
	certFile = "device.crt"
	keyFile  = "device.key"
	peersDir = "peers"

	certValidity = 10 * 365 * 24 * time.Hour
)

// Store holds the daemon's identity certificate and the trust material of
// paired peers. The identity is immutable after Load; peer operations are
// plain filesystem reads and writes guarded by the pairing service's own
// serialization.
type Store struct {
	dir         string
	tlsCert     tls.Certificate
	certDER     []byte
	fingerprint string
}

// Load reads the identity from dir, generating and persisting a fresh
// self-signed pair bound to deviceID if none exists yet.
func Load(dir, deviceID string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, peersDir), 0700); err != nil {
		return nil, cerr.Wrap(cerr.CodeCertIO, "creating certificate directory", err)
	}

	certPath := filepath.Join(dir, certFile)
	keyPath := filepath.Join(dir, keyFile)

	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		if err := generate(certPath, keyPath, deviceID); err != nil {
			return nil, err
		}
		logger.Info("Generated device identity certificate", logger.KeyPath, certPath)
	}

	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeCertIO, "loading identity key pair", err)
	}
	if len(tlsCert.Certificate) == 0 {
		return nil, cerr.New(cerr.CodeCertIO, "identity certificate file holds no certificate")
	}

	der := tlsCert.Certificate[0]
	fp, err := fingerprintDER(der)
	if err != nil {
		return nil, err
	}

	return &Store{
		dir:         dir,
		tlsCert:     tlsCert,
		certDER:     der,
		fingerprint: fp,
	}, nil
}

// TLSCertificate returns the identity for tls.Config use.
func (s *Store) TLSCertificate() tls.Certificate {
	return s.tlsCert
}

// CertificateDER returns the raw DER bytes of our certificate, as exchanged
// inside pair packets.
func (s *Store) CertificateDER() []byte {
	return s.certDER
}

// Fingerprint returns the SHA-256 public-key fingerprint of our identity,
// formatted as colon-separated hex pairs.
func (s *Store) Fingerprint() string {
	return s.fingerprint
}

// SavePeerCert persists a paired peer's certificate and returns its
// fingerprint.
func (s *Store) SavePeerCert(deviceID string, der []byte) (string, error) {
	fp, err := fingerprintDER(der)
	if err != nil {
		return "", err
	}

	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	path := s.peerPath(deviceID)
	if err := writeFileAtomic(path, block, 0644); err != nil {
		return "", cerr.Wrap(cerr.CodeCertIO, fmt.Sprintf("writing peer certificate for %s", deviceID), err)
	}
	return fp, nil
}

// LoadPeerCert reads a paired peer's certificate, returning its DER bytes.
func (s *Store) LoadPeerCert(deviceID string) ([]byte, error) {
	data, err := os.ReadFile(s.peerPath(deviceID))
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeCertIO, fmt.Sprintf("reading peer certificate for %s", deviceID), err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, cerr.Newf(cerr.CodeCertIO, "peer certificate for %s is not PEM", deviceID)
	}
	return block.Bytes, nil
}

// HasPeerCert reports whether trust material exists for the device.
func (s *Store) HasPeerCert(deviceID string) bool {
	_, err := os.Stat(s.peerPath(deviceID))
	return err == nil
}

// RemovePeerCert discards the trust material for an unpaired device.
// Removing a certificate that does not exist is not an error.
func (s *Store) RemovePeerCert(deviceID string) error {
	err := os.Remove(s.peerPath(deviceID))
	if err != nil && !os.IsNotExist(err) {
		return cerr.Wrap(cerr.CodeCertIO, fmt.Sprintf("removing peer certificate for %s", deviceID), err)
	}
	return nil
}

// PeerFingerprint returns the fingerprint of a stored peer certificate.
func (s *Store) PeerFingerprint(deviceID string) (string, error) {
	der, err := s.LoadPeerCert(deviceID)
	if err != nil {
		return "", err
	}
	return fingerprintDER(der)
}

func (s *Store) peerPath(deviceID string) string {
	// Device ids are peer-chosen; never let one escape the peers directory.
	safe := strings.ReplaceAll(filepath.Base(deviceID), string(os.PathSeparator), "_")
	return filepath.Join(s.dir, peersDir, safe+".crt")
}

// FingerprintDER computes the SHA-256 public-key fingerprint of a DER
// certificate, formatted as colon-separated hex pairs.
func FingerprintDER(der []byte) (string, error) {
	return fingerprintDER(der)
}

func fingerprintDER(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", cerr.Wrap(cerr.CodeCertIO, "parsing certificate", err)
	}
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return formatFingerprint(sum[:]), nil
}

func formatFingerprint(sum []byte) string {
	h := hex.EncodeToString(sum)
	parts := make([]string, 0, len(h)/2)
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, ":")
}

// generate creates a fresh EC P-256 self-signed pair bound to deviceID and
// writes both files before returning.
func generate(certPath, keyPath, deviceID string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return cerr.Wrap(cerr.CodeCertIO, "generating private key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return cerr.Wrap(cerr.CodeCertIO, "generating serial number", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         deviceID,
			Organization:       []string{"cconnect"},
			OrganizationalUnit: []string{"cconnect"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return cerr.Wrap(cerr.CodeCertIO, "creating certificate", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return cerr.Wrap(cerr.CodeCertIO, "marshalling private key", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := writeFileAtomic(certPath, certPEM, 0644); err != nil {
		return cerr.Wrap(cerr.CodeCertIO, "writing certificate", err)
	}
	if err := writeFileAtomic(keyPath, keyPEM, 0600); err != nil {
		return cerr.Wrap(cerr.CodeCertIO, "writing private key", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
