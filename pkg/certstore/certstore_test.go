package certstore

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	store, err := Load(dir, "desk-abc123")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "device.crt"))
	assert.FileExists(t, filepath.Join(dir, "device.key"))
	assert.NotEmpty(t, store.CertificateDER())

	info, err := os.Stat(filepath.Join(dir, "device.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFingerprintFormat(t *testing.T) {
	store, err := Load(t.TempDir(), "desk-abc123")
	require.NoError(t, err)

	// 32 hex pairs separated by colons.
	matched, err := regexp.MatchString(`^([0-9a-f]{2}:){31}[0-9a-f]{2}$`, store.Fingerprint())
	require.NoError(t, err)
	assert.True(t, matched, "fingerprint %q has unexpected format", store.Fingerprint())
}

func TestIdentityStableAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir, "desk-abc123")
	require.NoError(t, err)
	second, err := Load(dir, "desk-abc123")
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.Equal(t, first.CertificateDER(), second.CertificateDER())
}

func TestPeerCertRoundTrip(t *testing.T) {
	local, err := Load(t.TempDir(), "local")
	require.NoError(t, err)
	peer, err := Load(t.TempDir(), "peer-device")
	require.NoError(t, err)

	fp, err := local.SavePeerCert("peer-device", peer.CertificateDER())
	require.NoError(t, err)
	assert.Equal(t, peer.Fingerprint(), fp)
	assert.True(t, local.HasPeerCert("peer-device"))

	der, err := local.LoadPeerCert("peer-device")
	require.NoError(t, err)
	assert.Equal(t, peer.CertificateDER(), der)

	got, err := local.PeerFingerprint("peer-device")
	require.NoError(t, err)
	assert.Equal(t, peer.Fingerprint(), got)
}

func TestRemovePeerCert(t *testing.T) {
	local, err := Load(t.TempDir(), "local")
	require.NoError(t, err)
	peer, err := Load(t.TempDir(), "gone")
	require.NoError(t, err)

	_, err = local.SavePeerCert("gone", peer.CertificateDER())
	require.NoError(t, err)
	require.NoError(t, local.RemovePeerCert("gone"))
	assert.False(t, local.HasPeerCert("gone"))

	// Removing twice is not an error.
	assert.NoError(t, local.RemovePeerCert("gone"))
}

func TestLoadPeerCertMissing(t *testing.T) {
	local, err := Load(t.TempDir(), "local")
	require.NoError(t, err)

	_, err = local.LoadPeerCert("never-paired")
	assert.Equal(t, cerr.CodeCertIO, cerr.CodeOf(err))
}

func TestSavePeerCertRejectsGarbage(t *testing.T) {
	local, err := Load(t.TempDir(), "local")
	require.NoError(t, err)

	_, err = local.SavePeerCert("bad", []byte("not a certificate"))
	assert.Equal(t, cerr.CodeCertIO, cerr.CodeOf(err))
}

func TestPeerPathSanitized(t *testing.T) {
	local, err := Load(t.TempDir(), "local")
	require.NoError(t, err)
	peer, err := Load(t.TempDir(), "sneaky")
	require.NoError(t, err)

	_, err = local.SavePeerCert("../../escape", peer.CertificateDER())
	require.NoError(t, err)

	// The file must land inside the peers directory.
	assert.True(t, local.HasPeerCert("../../escape"))
	entries, err := os.ReadDir(filepath.Join(local.dir, "peers"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
