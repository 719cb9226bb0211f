package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grass_farm/internal/shared/types"
)

func TestInitWithWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(types.LogConf{Level: "warn"}, &buf))
	t.Cleanup(func() { _ = InitWithWriter(types.LogConf{Level: "info"}, &bytes.Buffer{}) })

	l := WithComponent("Session")
	l.Info().Msg("hidden")
	l.Warn().Str("email", "a@x.io").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "Session")
	assert.Contains(t, out, "a@x.io")
}

func TestInitUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(types.LogConf{Level: "chatty"}, &buf))
	assert.Equal(t, zerolog.InfoLevel, WithComponent("x").GetLevel())
}
