package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niclabs/p11nethsm/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p11nethsm.log")
	logger, err := New(config.LogConfig{File: path, Level: "warn"})
	require.NoError(t, err)

	logger.Infow("dropped", "slot", 0)
	logger.Warnw("kept", "slot", 1)
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "dropped")
	assert.Contains(t, string(content), `"msg":"kept"`)
	assert.Contains(t, string(content), `"module":"p11nethsm"`)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty"})
	assert.Error(t, err)
}
