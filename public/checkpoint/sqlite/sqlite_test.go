package sqlite

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/checkpoint"
	"github.com/fujin-io/evstore/public/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	s, err := Open(context.Background(), Config{Path: path}, slog.Default())
	require.NoError(t, err)
	return s, path
}

func TestStore_SaveLoad_Upserts(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	n := int64(3)
	require.NoError(t, s.Save(ctx, "orders", checkpoint.Checkpoint{EventNumber: &n}))
	n = 9
	require.NoError(t, s.Save(ctx, "orders", checkpoint.Checkpoint{EventNumber: &n}))

	cp, ok, err := s.Load(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), *cp.EventNumber)
	assert.Nil(t, cp.Position)
}

func TestStore_Position_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	pos := types.Position{CommitPosition: 512, PreparePosition: 256}
	require.NoError(t, s.Save(ctx, "all", checkpoint.Checkpoint{Position: &pos}))
	require.NoError(t, s.Close())

	s, err := Open(ctx, Config{Path: path}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cp, ok, err := s.Load(ctx, "all")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, cp.Position)
	assert.Equal(t, pos, *cp.Position)
	assert.Nil(t, cp.EventNumber)
}

func TestOpen_MissingPath(t *testing.T) {
	_, err := Open(context.Background(), Config{}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)
}

func TestRegistered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.db")
	s, err := checkpoint.New(checkpoint.Config{Type: "sqlite", Settings: map[string]any{"path": path}}, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
