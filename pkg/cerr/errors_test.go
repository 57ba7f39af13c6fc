package cerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeUnknownDevice, "no such device \"x\"")
	assert.Equal(t, `UnknownDevice: no such device "x"`, err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(CodePayloadIO, "writing payload", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "PayloadIo")
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestIsMatchesByCode(t *testing.T) {
	a := Newf(CodeIdle, "no bytes for %ds", 60)
	b := New(CodeIdle, "")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(CodeFrameTooLarge, "")))
}

func TestCodeOfThroughWrapping(t *testing.T) {
	inner := New(CodeUntrustedPeer, "fingerprint mismatch")
	outer := fmt.Errorf("session closed: %w", inner)
	assert.Equal(t, CodeUntrustedPeer, CodeOf(outer))
	assert.True(t, HasCode(outer, CodeUntrustedPeer))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, Code(0), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(0), CodeOf(nil))
}

func TestCodeNames(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeRegistryIO, "RegistryIo"},
		{CodeCertIO, "CertIo"},
		{CodeNotPaired, "NotPaired"},
		{CodePathTraversal, "PathTraversal"},
		{CodeCancelled, "Cancelled"},
		{Code(999), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String())
	}
}
