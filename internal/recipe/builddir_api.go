package recipe

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/buildsys/buildsys/internal/builddir"
	"github.com/buildsys/buildsys/internal/extract"
	"github.com/buildsys/buildsys/internal/fetch"
	"github.com/buildsys/buildsys/internal/pkgns"
	lua "github.com/yuin/gopher-lua"
)

// bdHandle is the Go-side state behind a Lua builddir() table: every
// method on it is bound as a closure over env and dir, so the Lua side
// only ever sees a plain table of functions (mirroring the original
// interpreter's lightuserdata-tagged BuildDir handle, §4.9 "builddir
// handle").
type bdHandle struct {
	env *env
	dir *builddir.Dir
}

// luaBuilddir implements builddir([clean]) -> handle.
func (e *env) luaBuilddir(L *lua.LState) int {
	clean := false
	if L.GetTop() >= 1 {
		clean = L.ToBool(1)
	}

	d, err := builddir.New(e.in.Pwd, e.p.NS, e.p.Name)
	if err != nil {
		L.RaiseError("builddir(): %v", err)
	}
	if clean {
		if err := d.Clean(); err != nil {
			L.RaiseError("builddir(): clean: %v", err)
		}
	}

	bd := &bdHandle{env: e, dir: d}
	tbl := L.NewTable()
	L.SetField(tbl, "fetch", L.NewFunction(bd.fetch))
	L.SetField(tbl, "extract", L.NewFunction(bd.extract))
	L.SetField(tbl, "patch", L.NewFunction(bd.patch))
	L.SetField(tbl, "cmd", L.NewFunction(bd.cmd))
	L.SetField(tbl, "shell", L.NewFunction(bd.shell))
	L.SetField(tbl, "installfile", L.NewFunction(bd.installfile))
	L.SetField(tbl, "restore", L.NewFunction(bd.restore))
	L.SetField(tbl, "invokebuild", L.NewFunction(bd.invokebuild))
	L.SetField(tbl, "mkdir", L.NewFunction(bd.mkdir))
	L.SetField(tbl, "sed", L.NewFunction(bd.sed))

	L.Push(tbl)
	return 1
}

func stringList(L *lua.LState, idx int) []string {
	var out []string
	L.CheckTable(idx).ForEach(func(_, v lua.LValue) {
		out = append(out, lua.LVAsString(v))
	})
	return out
}

func pkgNameEnv(p *pkgns.Package) string {
	return "BS_PACKAGE_NAME=" + p.Name
}

// fetch(uri, method[, extra]) - §4.9, §3 FetchUnit, plus the
// supplemented "sm" method (submodule-style git link, original_source
// interface/builddir.cpp li_bd_fetch).
func (b *bdHandle) fetch(L *lua.LState) int {
	argc := L.GetTop()
	if argc < 3 {
		L.ArgError(2, "fetch() requires at least 2 arguments")
	}
	uri := L.CheckString(2)
	method := L.CheckString(3)
	p := b.env.p

	leaf := leafOf(uri)

	switch method {
	case "dl":
		decompress := false
		if argc >= 4 {
			decompress = L.ToBool(4)
		}
		p.AddFetch(fetch.Download{URI: uri, Decompress: decompress})
	case "git":
		refspec := "origin/master"
		if argc >= 4 && L.Get(4) != lua.LNil {
			refspec = L.CheckString(4)
		}
		p.AddFetch(fetch.Git{Remote: uri, Local: leaf, Refspec: refspec})
		p.AddExtraction(extract.GitFetchDir{Refspec: refspec, Local: leaf, To: "."})
	case "linkgit":
		p.AddExtraction(extract.LinkGitDir{Src: uri, To: leaf})
	case "link":
		p.AddFetch(fetch.Link{URI: uri})
	case "copyfile":
		p.AddExtraction(extract.FileCopy{Path: uri, ShortName: leaf})
	case "copygit":
		p.AddExtraction(extract.CopyGitDir{Src: uri, To: "."})
	case "sm":
		p.AddExtraction(extract.LinkGitDir{Src: uri, To: filepath.Join("src", leaf)})
	case "copy":
		p.AddFetch(fetch.Copy{URI: uri})
	case "deps":
		directOnly := argc >= 4 && L.CheckString(4) == "directonly"
		p.DepsExtract = &pkgns.DepsExtract{Path: relativePath(b.dir.Work(), uri, false), DirectOnly: directOnly}
	default:
		L.ArgError(3, fmt.Sprintf("unsupported fetch method %q", method))
	}
	return 0
}

// extract(path) - picks Tar or Zip by extension.
func (b *bdHandle) extract(L *lua.LState) int {
	path := L.CheckString(2)
	real := relativePath(b.dir.Work(), path, true)
	if strings.Contains(path, ".zip") {
		b.env.p.AddExtraction(extract.Zip{Path: real})
	} else {
		b.env.p.AddExtraction(extract.Tar{Path: real})
	}
	return 0
}

// patch(subdir, level, list_of_patches)
func (b *bdHandle) patch(L *lua.LState) int {
	subdir := L.CheckString(2)
	level := int(L.CheckNumber(3))
	for _, path := range stringList(L, 4) {
		b.env.p.AddExtraction(extract.Patch{
			Level:     level,
			ApplyDir:  subdir,
			PatchPath: path,
			ShortName: leafOf(path),
		})
	}
	return 0
}

// cmd(subdir, program, args_list[, env_list])
func (b *bdHandle) cmd(L *lua.LState) int {
	argc := L.GetTop()
	subdir := L.CheckString(2)
	program := L.CheckString(3)
	args := stringList(L, 4)
	var env []string
	if argc >= 5 {
		env = stringList(L, 5)
	}
	env = append(env, pkgNameEnv(b.env.p))
	b.env.p.AddCommand(pkgns.Command{Dir: subdir, Program: program, Args: args, Env: env})
	return 0
}

// shell(subdir, shell_command[, env_list])
func (b *bdHandle) shell(L *lua.LState) int {
	argc := L.GetTop()
	subdir := L.CheckString(2)
	command := L.CheckString(3)
	var env []string
	if argc >= 4 {
		env = stringList(L, 4)
	}
	env = append(env, pkgNameEnv(b.env.p))
	b.env.p.AddCommand(pkgns.Command{Dir: subdir, Program: "bash", Args: []string{"-c", command}, Env: env})
	return 0
}

// installfile(path) - replaces the default install tar with explicit files.
func (b *bdHandle) installfile(L *lua.LState) int {
	b.env.p.InstallFiles = append(b.env.p.InstallFiles, L.CheckString(2))
	return 0
}

// restore(uri, method) - only "copyfile" is defined (§9 supplemented
// "restore() semantics reusing relative_fetch_path").
func (b *bdHandle) restore(L *lua.LState) int {
	uri := L.CheckString(2)
	method := L.CheckString(3)
	if method != "copyfile" {
		L.ArgError(3, fmt.Sprintf("unsupported restore method %q", method))
	}
	leaf := leafOf(uri)
	b.env.p.AddCommand(pkgns.Command{
		Program: "cp",
		Args:    []string{"-dpRuf", uri, leaf},
		Env:     []string{pkgNameEnv(b.env.p)},
	})
	return 0
}

// invokebuild(target, buildsys_flags_list, recipe_flags_list)
func (b *bdHandle) invokebuild(L *lua.LState) int {
	target := L.CheckString(2)
	flags := stringList(L, 3)
	recipeFlags := stringList(L, 4)

	args := append([]string{}, flags...)
	args = append(args, target)
	if len(recipeFlags) > 0 {
		args = append(args, "--")
		args = append(args, recipeFlags...)
	}
	b.env.p.AddCommand(pkgns.Command{Program: "buildsys", Args: args, Env: []string{pkgNameEnv(b.env.p)}})
	return 0
}

// mkdir(path, args_list)
func (b *bdHandle) mkdir(L *lua.LState) int {
	path := L.CheckString(2)
	args := append(stringList(L, 3), path)
	b.env.p.AddCommand(pkgns.Command{Program: "mkdir", Args: args, Env: []string{pkgNameEnv(b.env.p)}})
	return 0
}

// sed(path, expression, files_list)
func (b *bdHandle) sed(L *lua.LState) int {
	path := L.CheckString(2)
	expr := L.CheckString(3)
	files := stringList(L, 4)
	args := append([]string{"-i", expr}, files...)
	b.env.p.AddCommand(pkgns.Command{Dir: path, Program: "sed", Args: args, Env: []string{pkgNameEnv(b.env.p)}})
	return 0
}
