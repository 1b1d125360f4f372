package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerDropsTimeAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo)

	logger.Info("batch.process.start", "batch_id", "b1")
	logger.Debug("batch.process.debug")

	assert.Equal(t, "msg=batch.process.start batch_id=b1\n", buf.String())
}
