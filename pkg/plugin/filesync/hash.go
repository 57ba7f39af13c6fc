package filesync

import (
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// hashKey keys the content fingerprint so plain file digests computed
// elsewhere never collide with sync hashes.
var hashKey = []byte("cconnect-filesync-v1")

const hashBlockSize = 64 * 1024

// HashFile streams a file through keyed BLAKE2b-256 and returns the hex
// fingerprint.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", cerr.Wrap(cerr.CodePayloadIO, "opening file for hashing", err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader is HashFile over an arbitrary stream.
func HashReader(r io.Reader) (string, error) {
	h, err := blake2b.New256(hashKey)
	if err != nil {
		return "", err
	}
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", cerr.Wrap(cerr.CodePayloadIO, "hashing file contents", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
