package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tiltwatch-sync/internal/session"
)

func TestStore_InMemory(t *testing.T) {
	s, err := session.NewStore("", zap.NewNop())
	require.NoError(t, err)

	require.False(t, s.Current().IsAuthenticated)

	require.NoError(t, s.Login("admin"))
	require.True(t, s.Current().IsAuthenticated)
	require.Equal(t, "admin", s.Current().Username)

	require.NoError(t, s.Logout())
	require.False(t, s.Current().IsAuthenticated)
	require.Empty(t, s.Current().Username)
}

func TestStore_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := session.NewStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Login("admin"))

	// 重新加载后状态保留
	reloaded, err := session.NewStore(path, zap.NewNop())
	require.NoError(t, err)
	require.True(t, reloaded.Current().IsAuthenticated)
	require.Equal(t, "admin", reloaded.Current().Username)
}

func TestStore_CorruptedFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not-json"), 0o600))

	s, err := session.NewStore(path, zap.NewNop())
	require.NoError(t, err)
	require.False(t, s.Current().IsAuthenticated)
}
