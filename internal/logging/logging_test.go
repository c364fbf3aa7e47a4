package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"fatal", logrus.FatalLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNew_WritesRotatedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "monitor.log")
	logger := New(Options{Level: "debug", File: file})

	logger.WithField("address", "wallet1").Debug("hello")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"address":"wallet1"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestSetLevel(t *testing.T) {
	logger := New(Options{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	SetLevel(logger, "error")
	assert.Equal(t, logrus.ErrorLevel, logger.GetLevel())
}
