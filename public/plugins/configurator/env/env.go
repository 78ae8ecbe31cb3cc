// Package env loads the whole config document from an environment
// variable, for deployments that inject config rather than mount files.
package env

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fujin-io/evstore/public/plugins/configurator"
	"gopkg.in/yaml.v3"
)

const Var = "EVSTORE_CONFIG"

type envLoader struct {
	l *slog.Logger
}

func init() {
	if err := configurator.Register("env", func(l *slog.Logger) (configurator.Configurator, error) {
		return &envLoader{l: l.With("configurator", "env")}, nil
	}); err != nil {
		panic(fmt.Sprintf("register env configurator: %v", err))
	}
}

func (e *envLoader) Load(_ context.Context, cfg any) error {
	doc, ok := os.LookupEnv(Var)
	if !ok || doc == "" {
		return fmt.Errorf("env configurator: %s is not set", Var)
	}
	if err := yaml.Unmarshal([]byte(doc), cfg); err != nil {
		return fmt.Errorf("env configurator: parse %s: %w", Var, err)
	}
	e.l.Info("loaded config from environment", "var", Var)
	return nil
}
