package fetch

import (
	"path"
	"strings"
)

// Unit is a tagged FetchUnit (§3). Every declared fetch in a recipe becomes
// one Unit, recorded on the owning Package in declaration order.
type Unit interface {
	// RelativePath is the stable path downstream extraction/composition
	// addresses this fetch by.
	RelativePath() string
}

// Download fetches a URI to dl/, optionally decompressing it.
type Download struct {
	URI              string
	Decompress       bool
	FilenameOverride string
}

func (u Download) RelativePath() string { return "dl/" + u.finalName() }

// finalName computes the local filename a Download resolves to: the
// FilenameOverride if set, else the URI's basename, with one extension
// stripped when Decompress is set (§4.4).
func (u Download) finalName() string {
	name := u.FilenameOverride
	if name == "" {
		name = path.Base(u.URI)
	}
	if u.Decompress {
		if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
			name = name[:idx]
		}
	}
	return name
}

// Link fetches nothing over the network: it symlinks an overlay-relative
// path into the work dir. Per §3, Link/Copy hashes are empty by design —
// they cannot be content-addressed without copying.
type Link struct{ URI string }

func (u Link) RelativePath() string { return u.URI }

// Copy recursively copies an overlay-relative path into the work dir.
type Copy struct{ URI string }

func (u Copy) RelativePath() string { return u.URI }

// Git clones/updates a repository at a pinned refspec into
// source/<Local>.
type Git struct {
	Remote  string
	Local   string
	Refspec string
}

func (u Git) RelativePath() string { return "source/" + u.Local }
