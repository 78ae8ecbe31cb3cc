package env

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fujin-io/evstore/public/plugins/configurator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, cfg any) error {
	t.Helper()
	factory, ok := configurator.Get("env")
	require.True(t, ok)
	c, err := factory(slog.Default())
	require.NoError(t, err)
	return c.Load(context.Background(), cfg)
}

func TestEnvLoader_Load(t *testing.T) {
	t.Setenv(Var, "name: from-env\n")

	var cfg struct {
		Name string `yaml:"name"`
	}
	require.NoError(t, load(t, &cfg))
	assert.Equal(t, "from-env", cfg.Name)
}

func TestEnvLoader_Load_Unset(t *testing.T) {
	t.Setenv(Var, "")
	assert.ErrorContains(t, load(t, &struct{}{}), "not set")
}
