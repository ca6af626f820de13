package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefsync/internal/app/client"
)

func TestFromCommand(t *testing.T) {
	_, err := FromCommand(&cobra.Command{})
	assert.ErrorIs(t, err, ErrNotInitialized)

	cmd := &cobra.Command{}
	cmd.SetContext(WithEnv(context.Background(), &Env{}))
	_, err = FromCommand(cmd)
	assert.ErrorIs(t, err, ErrNotInitialized)

	want := &Env{App: &client.App{}}
	cmd.SetContext(WithEnv(context.Background(), want))
	got, err := FromCommand(cmd)
	require.NoError(t, err)
	assert.Same(t, want, got)
}
