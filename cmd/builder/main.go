// Command builder compiles an evstore-relay binary holding only the
// plugins passed on the command line.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

const (
	modulePath   = "github.com/fujin-io/evstore"
	relayService = modulePath + "/public/service"
	moduleName   = "tmpevstore"
)

var (
	configurators stringSlice
	sinks         stringSlice
	decorators    stringSlice
	checkpoints   stringSlice
	output        = flag.String("output", "evstore-relay", "Output binary path")
	buildTags     = flag.String("tags", "netgo,osusergo", "Build tags for the final binary")
	extraLdflags  = flag.String("ldflags", "", "Extra ldflags (e.g. -X github.com/fujin-io/evstore/public/service.Version=1.0.0)")
	cgoEnabled    = flag.Bool("cgo", false, "Enable CGO")
	localModule   = flag.Bool("local", false, "Use the local evstore module (for builds from source)")
)

type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func init() {
	flag.Var(&configurators, "configurator", "Configurator plugins")
	flag.Var(&sinks, "sink", "Sink plugins")
	flag.Var(&decorators, "decorator", "Sink decorator plugins")
	flag.Var(&checkpoints, "checkpoint", "Checkpoint store plugins")
}

func main() {
	flag.Parse()

	p := plugins{
		configurators: configurators,
		sinks:         sinks,
		decorators:    decorators,
		checkpoints:   checkpoints,
	}
	if err := validate(p, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := runBuild(buildOpts{
		outputPath:   *output,
		plugins:      p,
		tags:         *buildTags,
		extraLdflags: *extraLdflags,
		cgoEnabled:   *cgoEnabled,
		localModule:  *localModule,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("evstore-relay built successfully: %s\n", *output)
}

type plugins struct {
	configurators []string
	sinks         []string
	decorators    []string
	checkpoints   []string
}

// packages expands short names like "kafka" into plugin import paths.
func (p plugins) packages() []string {
	var all []string
	add := func(base string, names []string) {
		for _, n := range names {
			if first, _, _ := strings.Cut(n, "/"); !strings.Contains(first, ".") {
				n = modulePath + base + n
			}
			all = append(all, n)
		}
	}
	add("/public/plugins/configurator/", p.configurators)
	add("/public/plugins/sink/", p.sinks)
	add("/public/plugins/decorator/", p.decorators)
	add("/public/checkpoint/", p.checkpoints)
	return all
}

type buildOpts struct {
	outputPath   string
	plugins      plugins
	tags         string
	extraLdflags string
	cgoEnabled   bool
	localModule  bool
}

func runBuild(opts buildOpts) error {
	tmpDir, err := os.MkdirTemp("", "evstore-builder-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	if err := runGo(tmpDir, os.Environ(), "mod", "init", moduleName); err != nil {
		return err
	}
	if opts.localModule {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working dir: %w", err)
		}
		if err := runGo(tmpDir, os.Environ(), "mod", "edit", "-replace", modulePath+"="+cwd); err != nil {
			return fmt.Errorf("add replace directive: %w", err)
		}
	}

	pkgs := opts.plugins.packages()
	for _, pkg := range append([]string{relayService}, pkgs...) {
		if err := runGo(tmpDir, os.Environ(), "get", pkg); err != nil {
			return fmt.Errorf("go get %s: %w", pkg, err)
		}
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte(generateMain(pkgs)), 0o644); err != nil {
		return fmt.Errorf("write main.go: %w", err)
	}

	outPath, err := filepath.Abs(opts.outputPath)
	if err != nil {
		return fmt.Errorf("output path: %w", err)
	}

	ldflags := "-s -w"
	if opts.extraLdflags != "" {
		ldflags += " " + opts.extraLdflags
	}
	cgo := "0"
	if opts.cgoEnabled {
		cgo = "1"
	}
	env := append(os.Environ(), "CGO_ENABLED="+cgo)
	return runGo(tmpDir, env, "build", "-ldflags", ldflags, "-tags", opts.tags, "-o", outPath, ".")
}

func validate(p plugins, output string) error {
	if len(p.sinks) == 0 {
		return fmt.Errorf("at least one sink is required (e.g. -sink kafka)")
	}
	if len(p.configurators) == 0 {
		return fmt.Errorf("at least one configurator is required (e.g. -configurator file)")
	}
	if strings.TrimSpace(output) == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	seen := make(map[string]bool)
	for _, pkg := range p.packages() {
		if strings.TrimSpace(pkg) == "" || strings.HasSuffix(pkg, "/") {
			return fmt.Errorf("plugin package path cannot be empty")
		}
		if seen[pkg] {
			return fmt.Errorf("duplicate plugin: %s", pkg)
		}
		seen[pkg] = true
	}
	return nil
}

// generateMain renders a main package importing pkgs for registration.
// The memory checkpoint store is always compiled in as the default.
func generateMain(pkgs []string) string {
	blank := append([]string{modulePath + "/public/checkpoint/memory"}, pkgs...)
	slices.Sort(blank)
	blank = slices.Compact(blank)

	var sb strings.Builder
	sb.WriteString("package main\n\nimport (\n")
	sb.WriteString("\t\"context\"\n\t\"os/signal\"\n\t\"syscall\"\n\n")
	for _, pkg := range blank {
		fmt.Fprintf(&sb, "\t_ %q\n", pkg)
	}
	fmt.Fprintf(&sb, "\t%q\n)\n\n", relayService)
	sb.WriteString(`func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()
	service.RunCLI(ctx)
}
`)
	return sb.String()
}

func runGo(dir string, env []string, args ...string) error {
	cmd := exec.Command("go", args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("go %s: %w\n%s", strings.Join(args, " "), err, out)
	}
	return nil
}
