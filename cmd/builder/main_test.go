package main

import (
	"go/parser"
	"go/token"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugins_Packages(t *testing.T) {
	p := plugins{
		configurators: []string{"file"},
		sinks:         []string{"kafka", "nats/core", "example.com/custom/sink"},
		decorators:    []string{"tracing"},
		checkpoints:   []string{"redis"},
	}
	assert.Equal(t, []string{
		"github.com/fujin-io/evstore/public/plugins/configurator/file",
		"github.com/fujin-io/evstore/public/plugins/sink/kafka",
		"github.com/fujin-io/evstore/public/plugins/sink/nats/core",
		"example.com/custom/sink",
		"github.com/fujin-io/evstore/public/plugins/decorator/tracing",
		"github.com/fujin-io/evstore/public/checkpoint/redis",
	}, p.packages())
}

func TestValidate(t *testing.T) {
	ok := plugins{configurators: []string{"file"}, sinks: []string{"kafka"}}
	require.NoError(t, validate(ok, "bin/relay"))

	assert.Error(t, validate(plugins{configurators: []string{"file"}}, "bin/relay"))
	assert.Error(t, validate(plugins{sinks: []string{"kafka"}}, "bin/relay"))
	assert.Error(t, validate(ok, " "))
	assert.ErrorContains(t, validate(plugins{
		configurators: []string{"file"},
		sinks:         []string{"kafka", "github.com/fujin-io/evstore/public/plugins/sink/kafka"},
	}, "bin/relay"), "duplicate")
}

func TestGenerateMain(t *testing.T) {
	src := generateMain([]string{
		"github.com/fujin-io/evstore/public/plugins/sink/kafka",
		"github.com/fujin-io/evstore/public/checkpoint/memory",
	})

	f, err := parser.ParseFile(token.NewFileSet(), "main.go", src, parser.ImportsOnly)
	require.NoError(t, err)

	var blank []string
	for _, imp := range f.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if imp.Name != nil && imp.Name.Name == "_" {
			blank = append(blank, path)
		}
	}
	assert.Equal(t, []string{
		"github.com/fujin-io/evstore/public/checkpoint/memory",
		"github.com/fujin-io/evstore/public/plugins/sink/kafka",
	}, blank)
	assert.Contains(t, src, "service.RunCLI(ctx)")
}
