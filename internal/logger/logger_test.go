package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			log, err := New(Config{Level: "info", Format: format})
			require.NoError(t, err)
			assert.Equal(t, "info", log.Level())
		})
	}

	_, err := New(Config{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestSetLevelPropagates(t *testing.T) {
	log, err := New(Config{Level: "info", Format: "json"})
	require.NoError(t, err)

	child := log.WithComponent("privacy").WithRequestID("req-1")
	assert.False(t, child.Core().Enabled(-1)) // debug

	require.NoError(t, log.SetLevel("debug"))
	assert.True(t, child.Core().Enabled(-1))
	assert.Equal(t, "debug", child.Level())

	require.Error(t, log.SetLevel("verbose"))
}

func TestSafeHeaders(t *testing.T) {
	safe := safeHeaders(map[string][]string{
		"Authorization": {"Bearer secret"},
		"X-Api-Key":     {"k"},
		"Accept":        {"application/json", "text/plain"},
	})

	assert.Equal(t, "[REDACTED]", safe["Authorization"])
	assert.Equal(t, "[REDACTED]", safe["X-Api-Key"])
	assert.Equal(t, "application/json", safe["Accept"])
}
