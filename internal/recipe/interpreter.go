// Package recipe implements the recipe interpreter (§4.9): an embedded
// Lua runtime exposing a fixed, arity- and type-checked API through which
// a recipe file populates a pkgns.Package.
package recipe

import (
	"fmt"
	"path/filepath"

	"github.com/blang/semver"
	"github.com/buildsys/buildsys/internal/buildinfo"
	"github.com/buildsys/buildsys/internal/featuremap"
	"github.com/buildsys/buildsys/internal/hashstore"
	"github.com/buildsys/buildsys/internal/overlay"
	"github.com/buildsys/buildsys/internal/pkgns"
	lua "github.com/yuin/gopher-lua"
)

// Interpreter runs recipe files against shared process-wide stores (the
// package registry, overlay path and feature map), recording their
// declarations into the Package each file describes.
type Interpreter struct {
	Registry *pkgns.Registry
	Overlay  *overlay.Path
	Features *featuremap.Map
	Pwd      string

	// Forced is not read by the interpreter or passed on by it: forced
	// mode (§6) is applied through rebuild.Engine.Forced, and the
	// interpreter always fully processes a recipe so dependency discovery
	// stays complete.
	Forced map[string]bool
}

// New returns an Interpreter sharing the given process-wide stores.
func New(reg *pkgns.Registry, ov *overlay.Path, features *featuremap.Map, pwd string) *Interpreter {
	return &Interpreter{Registry: reg, Overlay: ov, Features: features, Pwd: pwd}
}

// Resolve finds or creates the package named name in namespace ns,
// processing its recipe exactly once.
func (in *Interpreter) Resolve(ns, name string) (*pkgns.Package, error) {
	space := in.Registry.FindNamespace(ns)
	p, created, err := space.FindPackage(in.Overlay, name)
	if err != nil {
		return nil, err
	}
	if created {
		if err := in.process(p); err != nil {
			return nil, fmt.Errorf("recipe: %s/%s: %w", ns, name, err)
		}
	}
	return p, nil
}

// process loads and runs p's recipe file in a fresh interpreter state,
// recording every declaration it makes.
func (in *Interpreter) process(p *pkgns.Package) error {
	hash, err := hashstore.File(p.RecipePath)
	if err != nil {
		return fmt.Errorf("recipe: hash %s: %w", p.RecipePath, err)
	}
	p.BuildInfo = buildinfo.New(in.Features)
	p.BuildInfo.Add(buildinfo.PackageFile{Path: p.RecipeDisplay, Hash: hash})

	L := lua.NewState()
	defer L.Close()

	env := &env{in: in, p: p, L: L}
	env.register()

	if err := L.DoFile(p.RecipePath); err != nil {
		return fmt.Errorf("recipe error in %s: %w", p.RecipePath, err)
	}
	return nil
}

// env binds one package's recipe processing state to the Lua globals and
// functions registered in this file and in builddir_api.go.
type env struct {
	in *Interpreter
	p  *pkgns.Package
	L  *lua.LState
}

func (e *env) register() {
	e.L.SetGlobal("name", e.L.NewFunction(e.luaName))
	e.L.SetGlobal("feature", e.L.NewFunction(e.luaFeature))
	e.L.SetGlobal("depend", e.L.NewFunction(e.luaDepend))
	e.L.SetGlobal("builddir", e.L.NewFunction(e.luaBuilddir))
	e.L.SetGlobal("intercept", e.L.NewFunction(e.luaIntercept))
	e.L.SetGlobal("interceptstaging", e.L.NewFunction(e.luaInterceptStaging))
	e.L.SetGlobal("hashoutput", e.L.NewFunction(e.luaHashOutput))
	e.L.SetGlobal("buildlocally", e.L.NewFunction(e.luaBuildLocally))
	e.L.SetGlobal("keepstaging", e.L.NewFunction(e.luaKeepStaging))
}

func (e *env) luaName(L *lua.LState) int {
	L.Push(lua.LString(e.p.NS))
	return 1
}

// feature(key) or feature(key, value[, override])
func (e *env) luaFeature(L *lua.LState) int {
	argc := L.GetTop()
	if argc < 1 {
		L.ArgError(1, "feature() requires at least 1 argument")
	}
	key := L.CheckString(1)

	if argc == 1 {
		val, err := e.in.Features.Get(e.p.Name, key)
		if err != nil {
			if _, ok := err.(featuremap.ErrNoSuchKey); ok {
				e.p.BuildInfo.Add(buildinfo.FeatureNil{Name: key})
				L.Push(lua.LNil)
				return 1
			}
			L.RaiseError("feature: %v", err)
		}
		e.p.BuildInfo.Add(buildinfo.FeatureValue{Name: key, Value: val})
		L.Push(lua.LString(val))
		return 1
	}

	value := L.CheckString(2)
	override := false
	if argc >= 3 {
		override = L.ToBool(3)
	}
	if key == "version" {
		if _, err := semver.Parse(value); err != nil {
			L.RaiseError("feature(\"version\", %q): not a valid semantic version: %v", value, err)
		}
	}
	e.in.Features.Set(key, value, override)
	return 0
}

// depend(name_or_list[, locally])
func (e *env) luaDepend(L *lua.LState) int {
	argc := L.GetTop()
	if argc < 1 {
		L.ArgError(1, "depend() requires at least 1 argument")
	}
	locally := false
	if argc >= 2 {
		locally = L.ToBool(2)
	}

	names := []string{}
	switch v := L.Get(1).(type) {
	case lua.LString:
		names = append(names, string(v))
	case *lua.LTable:
		v.ForEach(func(_, val lua.LValue) {
			names = append(names, lua.LVAsString(val))
		})
	default:
		L.ArgError(1, "depend() expects a string or table of strings")
	}

	for _, n := range names {
		dep, err := e.in.Resolve(e.p.NS, n)
		if err != nil {
			L.RaiseError("depend(%q): %v", n, err)
		}
		e.p.AddDependency(dep, locally)
	}
	return 0
}

func (e *env) luaIntercept(L *lua.LState) int {
	e.p.InterceptInstall = true
	return 0
}

func (e *env) luaInterceptStaging(L *lua.LState) int {
	e.p.InterceptStaging = true
	return 0
}

func (e *env) luaHashOutput(L *lua.LState) int {
	e.p.HashOutput = true
	return 0
}

func (e *env) luaBuildLocally(L *lua.LState) int {
	e.p.DisableFetchFrom = true
	return 0
}

func (e *env) luaKeepStaging(L *lua.LState) int {
	e.p.SuppressRemoveStaging = true
	return 0
}

// relativePath mirrors the original interpreter's absolute_path/
// relative_path helpers (interface/builddir.cpp): paths starting with "/"
// (or, when allowDL, "dl/") are used as-is; everything else is rooted at
// the package's work dir.
func relativePath(workShortPath, dir string, allowDL bool) string {
	if len(dir) > 0 && dir[0] == '/' {
		return dir
	}
	if allowDL && len(dir) >= 3 && dir[:3] == "dl/" {
		return dir
	}
	return filepath.Join(workShortPath, dir)
}

// leafOf returns the final '/'-separated path segment, the original
// implementation's repeated strrchr('/') dance.
func leafOf(path string) string {
	return filepath.Base(path)
}
