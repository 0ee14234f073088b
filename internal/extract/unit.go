// Package extract implements ExtractionEngine and ExtractionUnit (§4.5):
// transforming acquired sources into a populated work directory, and
// printing the line-oriented form recorded in .extraction.info.
package extract

import (
	"fmt"
)

// Unit is a tagged ExtractionUnit. Engine.Extract runs the transformation
// for each concrete type; Print renders the canonical one-line form used in
// .extraction.info (§6).
type Unit interface {
	Print() string
}

// Tar extracts a tar archive (path is pwd-qualified) into the work dir.
type Tar struct {
	Path string
	Hash string
}

func (u Tar) Print() string { return fmt.Sprintf("TarFile %s %s", u.Path, u.Hash) }

// Zip extracts a zip archive (path is pwd-qualified) into the work dir.
type Zip struct {
	Path string
	Hash string
}

func (u Zip) Print() string { return fmt.Sprintf("ZipFile %s %s", u.Path, u.Hash) }

// Patch applies a patch at the given strip level within apply_dir.
type Patch struct {
	Level     int
	ApplyDir  string
	PatchPath string
	ShortName string
	Hash      string
}

func (u Patch) Print() string {
	return fmt.Sprintf("PatchFile %d %s %s %s", u.Level, u.ApplyDir, u.ShortName, u.Hash)
}

// FileCopy recursively copies an overlay-relative path into the work dir.
type FileCopy struct {
	Path      string
	ShortName string
	Hash      string
}

func (u FileCopy) Print() string { return fmt.Sprintf("FileCopy %s %s", u.ShortName, u.Hash) }

// FetchedFileCopy recursively copies a previously fetched file into the
// work dir. File modes are kept; timestamps and ownership are not, and a
// symlink is recreated as a symlink rather than followed.
type FetchedFileCopy struct {
	FetchPath string
	ShortName string
	Hash      string
}

func (u FetchedFileCopy) Print() string {
	return fmt.Sprintf("FetchedFileCopy %s %s", u.ShortName, u.Hash)
}

// gitDirMode distinguishes the three git-tree extraction strategies.
type gitDirMode string

const (
	gitDirLink  gitDirMode = "link"
	gitDirCopy  gitDirMode = "copy"
	gitDirFetch gitDirMode = "fetch"
)

// LinkGitDir symlinks a checked-out git tree into the work dir at To.
type LinkGitDir struct {
	Src, To   string
	HeadSHA   string
	DirtySHA  string
}

func (u LinkGitDir) Print() string { return gitDirLine(gitDirLink, u.Src, u.To, u.HeadSHA, u.DirtySHA) }

// CopyGitDir copies a checked-out git tree into the work dir at To.
type CopyGitDir struct {
	Src, To  string
	HeadSHA  string
	DirtySHA string
}

func (u CopyGitDir) Print() string { return gitDirLine(gitDirCopy, u.Src, u.To, u.HeadSHA, u.DirtySHA) }

// GitFetchDir copies the git tree fetched into source/<Local> by a
// fetch("...", "git") declaration into the work dir at To.
type GitFetchDir struct {
	Refspec, Local, To string
	HeadSHA            string
	DirtySHA           string
}

func (u GitFetchDir) Print() string {
	return gitDirLine(gitDirFetch, u.Local, u.To, u.HeadSHA, u.DirtySHA)
}

func gitDirLine(mode gitDirMode, uri, to, headSHA, dirtySHA string) string {
	if dirtySHA == "" {
		return fmt.Sprintf("GitDir %s %s %s %s", mode, uri, to, headSHA)
	}
	return fmt.Sprintf("GitDir %s %s %s %s %s", mode, uri, to, headSHA, dirtySHA)
}
