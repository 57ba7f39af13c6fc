package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("session established", KeyDeviceID, "phone-1", KeyRemoteAddr, "10.0.0.2:1716")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "session established")
	assert.Contains(t, out, "device_id=phone-1")
	assert.Contains(t, out, "remote_addr=10.0.0.2:1716")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("packet received", KeyPacketType, "cconnect.ping")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "packet received", entry["msg"])
	assert.Equal(t, "cconnect.ping", entry["packet_type"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("not shown")
	Info("not shown either")
	Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "shown")
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("LOUD") // invalid; level stays INFO
	Info("still logged")
	assert.Contains(t, buf.String(), "still logged")
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	lc := NewLogContext("tablet-7", "192.168.1.30:40212").WithPacketType("cconnect.battery")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "battery update")

	out := buf.String()
	assert.Contains(t, out, "device_id=tablet-7")
	assert.Contains(t, out, "remote_addr=192.168.1.30:40212")
	assert.Contains(t, out, "packet_type=cconnect.battery")
}

func TestFromContextMissing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil)) //nolint:staticcheck
}

func TestWithPluginClones(t *testing.T) {
	lc := NewLogContext("a", "addr")
	lc2 := lc.WithPlugin("share")
	assert.Empty(t, lc.Plugin)
	assert.Equal(t, "share", lc2.Plugin)
}

func TestColorOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", true)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("colorful")
	assert.True(t, strings.Contains(buf.String(), "\033["), "expected ANSI escapes in color mode")
}
