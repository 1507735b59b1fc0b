package pionlogger

import (
	"strings"
	"testing"

	"github.com/soundmap/soundmap/engine/logger"
	"github.com/stretchr/testify/assert"
)

func TestPionLogger(t *testing.T) {
	t.Parallel()

	var b strings.Builder

	log := logger.New().WithWriter(&b).WithConfig(
		logger.ConfigMap{
			"ice": logger.LevelInfo,
		},
	).WithFormatter(logger.NewStringFormatter(logger.StringFormatterParams{
		DateLayout: "-",
	}))

	pionLogger := NewFactory(log).NewLogger("ice")

	pionLogger.Infof("connection %s", "checking")
	assert.Contains(t, b.String(), "connection checking")
	assert.Contains(t, b.String(), "pion:ice")

	b.Reset()

	// Below the configured level: formatting is skipped entirely.
	pionLogger.Debugf("handshake %d", 1)
	assert.Empty(t, b.String())
}
