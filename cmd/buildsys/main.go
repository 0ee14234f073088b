// Command buildsys builds a package and its transitive dependencies: it
// interprets recipes into a dependency graph, decides what has to rebuild
// from content hashes, and runs the result through a bounded worker pool
// (§1, §2).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buildsys/buildsys/internal/buildlog"
	"github.com/buildsys/buildsys/internal/builddir"
	"github.com/buildsys/buildsys/internal/cachefetch"
	"github.com/buildsys/buildsys/internal/extract"
	"github.com/buildsys/buildsys/internal/featuremap"
	"github.com/buildsys/buildsys/internal/fetch"
	"github.com/buildsys/buildsys/internal/graph"
	"github.com/buildsys/buildsys/internal/hashstore"
	"github.com/buildsys/buildsys/internal/overlay"
	"github.com/buildsys/buildsys/internal/pkgns"
	"github.com/buildsys/buildsys/internal/rebuild"
	"github.com/buildsys/buildsys/internal/recipe"
	"github.com/buildsys/buildsys/internal/runner"
	"github.com/buildsys/buildsys/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// options holds the parsed command line (§6). The grammar is
// "buildsys <base-package> [options...] [-- feature=value ...]" with
// options and forced-package tokens free to interleave before "--", which
// rules out the stdlib flag package (it stops at the first non-flag
// argument) - parseArgs walks argv itself instead.
type options struct {
	basePkgName      string
	forced           []string
	features         []string
	clean            bool
	cacheServer      string
	tarballCache     string
	overlays         []string
	ignoreFV         []string
	parseOnly        bool
	keepGoing        bool
	quietly          bool
	keepStaging      bool
	parallelPackages int
}

func parseArgs(argv []string) (*options, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("buildsys: a base package name is required")
	}
	o := &options{basePkgName: argv[0]}

	rest := argv[1:]
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		if a == "--" {
			o.features = rest[i+1:]
			return o, nil
		}

		needValue := func(flag string) (string, error) {
			i++
			if i >= len(rest) {
				return "", fmt.Errorf("buildsys: %s requires a value", flag)
			}
			return rest[i], nil
		}

		switch a {
		case "--clean":
			o.clean = true
		case "--parse-only":
			o.parseOnly = true
		case "--keep-going":
			o.keepGoing = true
		case "--quietly":
			o.quietly = true
		case "--keep-staging":
			o.keepStaging = true
		case "--cache-server":
			v, err := needValue(a)
			if err != nil {
				return nil, err
			}
			o.cacheServer = v
		case "--tarball-cache":
			v, err := needValue(a)
			if err != nil {
				return nil, err
			}
			o.tarballCache = v
		case "--overlay":
			v, err := needValue(a)
			if err != nil {
				return nil, err
			}
			o.overlays = append(o.overlays, v)
		case "--build-info-ignore-fv":
			v, err := needValue(a)
			if err != nil {
				return nil, err
			}
			o.ignoreFV = append(o.ignoreFV, v)
		case "--parallel-packages":
			v, err := needValue(a)
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("buildsys: --parallel-packages: %w", err)
			}
			o.parallelPackages = n
		default:
			o.forced = append(o.forced, a)
		}
	}
	return o, nil
}

func main() {
	if err := hashstore.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer hashstore.Teardown()

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	o, err := parseArgs(argv)
	if err != nil {
		return err
	}

	pwd, err := os.Getwd()
	if err != nil {
		return err
	}

	ov := overlay.New()
	for _, path := range o.overlays {
		ov.PushTop(path)
	}

	features := featuremap.New()
	for _, kv := range o.features {
		if err := features.SetKV(kv); err != nil {
			return fmt.Errorf("buildsys: invalid feature assignment %q: %w", kv, err)
		}
	}
	for _, key := range o.ignoreFV {
		features.Ignore(key)
	}

	reg := pkgns.NewRegistry()
	in := recipe.New(reg, ov, features, pwd)

	base, err := in.Resolve(o.basePkgName, o.basePkgName)
	if err != nil {
		return fmt.Errorf("buildsys: %w", err)
	}

	if o.parseOnly {
		return printParseOnly(reg, features)
	}

	g := graph.New(base)
	if err := g.DetectCycles(); err != nil {
		if cycle, ok := err.(*graph.CycleError); ok {
			logrus.Error("Cycled Packages:")
			for _, p := range cycle.Packages {
				logrus.Errorf("  {%s,%s}", p.NS, p.Name)
			}
		}
		return err
	}

	var logHandler buildlog.Handler
	if o.quietly {
		logHandler = buildlog.NewQuietHandler(func(pkg string) string {
			parts := strings.SplitN(pkg, "/", 2)
			d, err := builddir.New(pwd, parts[0], parts[1])
			if err != nil {
				return filepath.Join(pwd, "output", pkg, "build.log")
			}
			return d.BuildLogPath()
		}, buildlog.TextHandler(os.Stderr))
	} else {
		logHandler = buildlog.TextHandler(os.Stderr)
	}

	r := runner.New(logHandler)
	fe := fetch.New(pwd, o.tarballCache)
	ee := extract.New(r)

	eng := rebuild.New(pwd, ov, fe, ee, r)
	eng.ParallelExtraction = o.parallelPackages <= 0
	if o.clean {
		markCleanBeforeBuild(g)
	}
	if len(o.forced) > 0 {
		eng.Forced = map[string]bool{}
		for _, name := range o.forced {
			eng.Forced[name] = true
		}
	}
	if o.cacheServer != "" {
		eng.Cache = cachefetch.New(o.cacheServer)
	}
	if o.keepStaging {
		for _, p := range allPackages(g) {
			p.SuppressRemoveStaging = true
		}
	}

	sched := scheduler.New(g, eng, o.parallelPackages, o.keepGoing)
	if err := sched.Run(base); err != nil {
		return fmt.Errorf("buildsys: build failed: %w", err)
	}

	return writeDependencyGraph(pwd, g)
}

func markCleanBeforeBuild(g *graph.Graph) {
	for _, p := range allPackages(g) {
		p.CleanBeforeBuild = true
	}
}

func allPackages(g *graph.Graph) []*pkgns.Package {
	return g.TopoOrder()
}

// printParseOnly implements --parse-only (§6): every entry in the feature
// map (set on the command line or by recipes), then every namespace
// discovered so far,
// each in its own "----BEGIN/END ...----" tagged block.
func printParseOnly(reg *pkgns.Registry, features *featuremap.Map) error {
	fmt.Println()
	fmt.Println("----BEGIN FEATURE VALUES----")
	for _, kv := range features.Pairs() {
		fmt.Printf("%s\t%s\n", kv.Key, kv.Value)
	}
	fmt.Println("----END FEATURE VALUES----")

	fmt.Println()
	fmt.Println("----BEGIN NAMESPACES----")
	for _, ns := range reg.Namespaces() {
		fmt.Println(ns.Name)
	}
	fmt.Println("----END NAMESPACES----")

	return nil
}

// writeDependencyGraph writes dependencies.dot (§6), a Graphviz rendering
// of the full graph reachable from the base package.
func writeDependencyGraph(pwd string, g *graph.Graph) error {
	var sb strings.Builder
	sb.WriteString("digraph buildsys {\n")
	for _, p := range allPackages(g) {
		for _, d := range p.Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q;\n", p.Key(), d.Pkg.Key())
		}
	}
	sb.WriteString("}\n")
	return os.WriteFile(filepath.Join(pwd, "dependencies.dot"), []byte(sb.String()), 0644)
}
