package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fujin-io/evstore/public/plugins/configurator"
	"gopkg.in/yaml.v3"
)

const PathsEnv = "EVSTORE_CONFIGURATOR_FILE_PATHS"

// fileLoader implements configurator.Configurator for file-based configuration.
type fileLoader struct {
	config Config
	l      *slog.Logger
}

func init() {
	if err := configurator.Register("file", newFileLoader); err != nil {
		panic(fmt.Sprintf("register file configurator: %v", err))
	}
}

// newFileLoader reads the comma separated paths from PathsEnv.
func newFileLoader(l *slog.Logger) (configurator.Configurator, error) {
	config := Config{Paths: DefaultPaths}
	if env := os.Getenv(PathsEnv); env != "" {
		config.Paths = nil
		for _, p := range strings.Split(env, ",") {
			if p = strings.TrimSpace(p); p != "" {
				config.Paths = append(config.Paths, p)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &fileLoader{
		config: config,
		l:      l.With("configurator", "file"),
	}, nil
}

// Load parses the first existing file of the paths list. JSON files are
// accepted too, being valid YAML.
func (f *fileLoader) Load(_ context.Context, cfg any) error {
	for _, path := range f.config.Paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("file configurator: read file %q: %w", path, err)
		}

		f.l.Info("loading config from file", "path", path)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("file configurator: parse %q: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("file configurator: no config found in paths: %v", f.config.Paths)
}
