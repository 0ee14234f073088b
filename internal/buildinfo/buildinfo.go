// Package buildinfo implements BuildInfo (§4.6): the ordered, printable
// record of everything that can influence a package's build output. Its
// SHA-256 is the package's buildinfo_hash and the key into the remote
// build cache (§6).
package buildinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/buildsys/buildsys/internal/featuremap"
	"github.com/buildsys/buildsys/internal/hashstore"
)

// Unit is one fact recorded into a BuildInfo. Each variant below
// implements it; Print renders the line-oriented external form described
// in §6's grammar.
type Unit interface {
	Print() string
}

// FeatureValue records that a recipe queried a feature and got a value.
type FeatureValue struct {
	Name  string
	Value string
}

func (u FeatureValue) Print() string { return fmt.Sprintf("FeatureValue %s %s", u.Name, u.Value) }

// FeatureNil records that a recipe queried a feature that was unset.
type FeatureNil struct{ Name string }

func (u FeatureNil) Print() string { return fmt.Sprintf("FeatureNil %s", u.Name) }

// PackageFile records the recipe file itself.
type PackageFile struct {
	Path string
	Hash string
}

func (u PackageFile) Print() string { return fmt.Sprintf("PackageFile %s %s", u.Path, u.Hash) }

// RequireFile records an auxiliary file a recipe loaded (e.g. via a
// require-like directive) that influences the build.
type RequireFile struct {
	Path string
	Hash string
}

func (u RequireFile) Print() string { return fmt.Sprintf("RequireFile %s %s", u.Path, u.Hash) }

// ExtractionInfoFile records the finalised .extraction.info of this
// package.
type ExtractionInfoFile struct {
	Path string
	Hash string
}

func (u ExtractionInfoFile) Print() string {
	return fmt.Sprintf("ExtractionInfoFile %s %s", u.Path, u.Hash)
}

// BuildInfoFile records a dependency's .build.info (used when the
// dependency did not declare hash-output).
type BuildInfoFile struct {
	Path string
	Hash string
}

func (u BuildInfoFile) Print() string { return fmt.Sprintf("BuildInfoFile %s %s", u.Path, u.Hash) }

// OutputInfoFile records a dependency's .output.info (used when the
// dependency declared hash-output).
type OutputInfoFile struct {
	Path string
	Hash string
}

func (u OutputInfoFile) Print() string {
	return fmt.Sprintf("OutputInfoFile %s %s", u.Path, u.Hash)
}

// Info is an ordered, append-only record of Units.
type Info struct {
	units   []Unit
	ignored *featuremap.Map
}

// New returns an empty Info. ignored, if non-nil, suppresses FeatureValue
// units whose Name is on its ignore list when printing (§4.6).
func New(ignored *featuremap.Map) *Info {
	return &Info{ignored: ignored}
}

// Add appends u to the record in declaration order.
func (i *Info) Add(u Unit) {
	i.units = append(i.units, u)
}

// Units returns the recorded units in declaration order.
func (i *Info) Units() []Unit {
	return i.units
}

// Print emits one rendered unit per line, in insertion order. FeatureValue
// units on the ignore list are skipped; every other unit is always
// emitted.
func (i *Info) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, u := range i.units {
		if fv, ok := u.(FeatureValue); ok && i.ignored != nil && i.ignored.Ignored(fv.Name) {
			continue
		}
		if _, err := fmt.Fprintln(bw, u.Print()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile renders Info to path and returns the SHA-256 hex of the
// written content (the package's buildinfo_hash when path is
// .build.info.new).
func (i *Info) WriteFile(path string) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("buildinfo: create %s: %w", path, err)
	}
	defer f.Close()

	if err := i.Print(f); err != nil {
		return "", fmt.Errorf("buildinfo: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("buildinfo: sync %s: %w", path, err)
	}

	return hashstore.File(path)
}

// SameContent reports whether the files at a and b are byte-identical.
// Used to decide should_build (§4.12 step 7) and extraction_required
// (§4.5). A missing file on either side counts as "different".
func SameContent(a, b string) (bool, error) {
	ab, err := os.ReadFile(a)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(ab) != len(bb) {
		return false, nil
	}
	for idx := range ab {
		if ab[idx] != bb[idx] {
			return false, nil
		}
	}
	return true, nil
}
