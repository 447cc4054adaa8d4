package dbbadger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
)

func newTestRepoManager(t *testing.T, dir string) ports.RepoManager {
	repoManager, err := NewRepoManager(dir, nil)
	require.NoError(t, err)
	return repoManager
}
