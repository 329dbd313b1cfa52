package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "serve", cmd.Use)
	assert.Contains(t, cmd.Aliases, "s")
	assert.Equal(t, "Start the slackrelay gateway and delivery engine", cmd.Short)

	assert.Nil(t, cmd.Run)
	assert.NotNil(t, cmd.RunE)

	assert.NotNil(t, cmd.Flags().Lookup("debug"))
}
