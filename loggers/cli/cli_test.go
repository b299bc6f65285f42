package cli

import (
	"bytes"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func newTestHandler(buf *bytes.Buffer) *Handler {
	h := New(buf, false)
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestHandleLog(t *testing.T) {
	var buf bytes.Buffer
	logger := &log.Logger{Handler: newTestHandler(&buf), Level: log.DebugLevel}

	logger.WithField("server", "vps1").WithField("source", "ignored").Info("recorded sample")

	out := buf.String()
	assert.Contains(t, out, " INFO: [May  1 12:00:00.000] recorded sample")
	assert.Contains(t, out, "server=vps1")
	assert.NotContains(t, out, "source=")
	assert.NotContains(t, out, "Stacktrace")
}

func TestHandleLog_Stacktrace(t *testing.T) {
	var buf bytes.Buffer
	logger := &log.Logger{Handler: newTestHandler(&buf), Level: log.DebugLevel}

	err := errors.New("connection refused")
	logger.WithField("error", err).Warn("sample skipped")
	assert.NotContains(t, buf.String(), "Stacktrace")

	buf.Reset()
	logger.WithField("error", err).Error("tick failed")
	assert.Contains(t, buf.String(), "Stacktrace")
	assert.Contains(t, buf.String(), "connection refused")
}
