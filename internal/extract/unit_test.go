package extract

import "testing"

func TestPrintForms(t *testing.T) {
	cases := []struct {
		u    Unit
		want string
	}{
		{Tar{Path: "dl/foo.tar.gz", Hash: "abc"}, "TarFile dl/foo.tar.gz abc"},
		{Zip{Path: "dl/foo.zip", Hash: "abc"}, "ZipFile dl/foo.zip abc"},
		{Patch{Level: 1, ApplyDir: "src", ShortName: "fix.patch", Hash: "abc"}, "PatchFile 1 src fix.patch abc"},
		{FileCopy{Path: "files/x", ShortName: "x", Hash: "abc"}, "FileCopy x abc"},
		{FetchedFileCopy{FetchPath: "dl/x", ShortName: "x", Hash: "abc"}, "FetchedFileCopy x abc"},
		{LinkGitDir{Src: "source/foo", To: "foo", HeadSHA: "dead"}, "GitDir link source/foo foo dead"},
		{CopyGitDir{Src: "source/foo", To: "foo", HeadSHA: "dead", DirtySHA: "beef"}, "GitDir copy source/foo foo dead beef"},
		{GitFetchDir{Local: "foo", To: "deps/foo", HeadSHA: "dead"}, "GitDir fetch foo deps/foo dead"},
	}
	for _, c := range cases {
		if got := c.u.Print(); got != c.want {
			t.Errorf("Print() = %q, want %q", got, c.want)
		}
	}
}
