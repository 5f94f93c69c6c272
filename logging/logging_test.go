package logging

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DefaultContextLogger(t *testing.T) {
	defer func() {
		zerolog.DefaultContextLogger = nil
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}()

	var buf bytes.Buffer
	_, err := Setup(&buf, "info", false)
	require.NoError(t, err)

	zerolog.Ctx(context.Background()).Info().Str("k", "v").Msg("hello")
	zerolog.Ctx(context.Background()).Debug().Msg("hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)
	assert.NotContains(t, buf.String(), "hidden")

	_, err = Setup(&buf, "loud", false)
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	defer func() { zerolog.DefaultContextLogger = nil }()
	path := filepath.Join(t.TempDir(), "run.log")
	logger, closer, err := ToFile(path, "debug")
	require.NoError(t, err)
	logger.Debug().Msg("to file")
	require.NoError(t, closer.Close())
}
