// Package buildlog implements the line-oriented logging used to report
// command output, build metadata and scheduler events.
package buildlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Stream tags a Line with where it came from.
type Stream uint8

const (
	// StreamStdout carries a build command's stdout.
	StreamStdout Stream = iota + 1
	// StreamStderr carries a build command's stderr.
	StreamStderr
	// StreamBuild carries messages emitted by buildsys itself about a package.
	StreamBuild
	// StreamMeta carries scheduler/graph-level events not tied to one package.
	StreamMeta
)

func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamBuild:
		return "build"
	case StreamMeta:
		return "meta"
	default:
		return "invalid"
	}
}

// Line is one unit of log output, ultimately destined for a Handler.
type Line struct {
	// Package is the "ns/pkg" identifier the line is about.
	// Empty for StreamMeta lines that are not package-specific.
	Package string
	Stream  Stream
	Text    string
}

// Handler receives Lines. Close flushes and releases any resources.
type Handler interface {
	Log(Line) error
	io.Closer
}

// textHandler writes human-readable lines to an io.Writer, colouring
// lines that look like compiler errors/warnings when the writer is a
// terminal.
type textHandler struct {
	w      io.Writer
	colour bool
	lck    sync.Mutex
}

// TextHandler returns a Handler that prints "[pkg][stream] text" lines to w.
// Colour is enabled automatically when w is a terminal (detected via
// go-isatty against *os.File writers).
func TextHandler(w io.Writer) Handler {
	colour := false
	if f, ok := w.(*os.File); ok {
		colour = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &textHandler{w: w, colour: colour}
}

func (t *textHandler) Log(l Line) error {
	t.lck.Lock()
	defer t.lck.Unlock()

	text := l.Text
	if t.colour {
		switch {
		case strings.Contains(text, "error:"):
			text = color.RedString("%s", text)
		case strings.Contains(text, "warning:"):
			text = color.YellowString("%s", text)
		}
	}

	var err error
	if l.Package != "" {
		_, err = fmt.Fprintf(t.w, "[%s][%s] %s\n", l.Package, l.Stream, text)
	} else {
		_, err = fmt.Fprintf(t.w, "[%s] %s\n", l.Stream, text)
	}
	return err
}

func (t *textHandler) Close() error { return nil }

// MutexHandler wraps a Handler with a mutex so it can be shared by
// multiple concurrent writers (scheduler workers, the CommandRunner).
func MutexHandler(h Handler) Handler {
	if _, ok := h.(*mutexHandler); ok {
		return h
	}
	return &mutexHandler{h: h}
}

type mutexHandler struct {
	lck sync.Mutex
	h   Handler
}

func (m *mutexHandler) Log(l Line) error {
	m.lck.Lock()
	defer m.lck.Unlock()
	return m.h.Log(l)
}

func (m *mutexHandler) Close() error {
	m.lck.Lock()
	defer m.lck.Unlock()
	return m.h.Close()
}

// multiHandler fans a Line out to every member Handler.
type multiHandler []Handler

// MultiHandler returns a Handler that logs to every given Handler in order,
// stopping at the first error.
func MultiHandler(handlers ...Handler) Handler {
	return multiHandler(handlers)
}

func (m multiHandler) Log(l Line) error {
	for _, h := range m {
		if err := h.Log(l); err != nil {
			return err
		}
	}
	return nil
}

func (m multiHandler) Close() error {
	var first error
	for _, h := range m {
		if err := h.Close() ; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// fileHandler is a Handler dedicated to a single package's build.log file,
// used in --quietly mode.
type fileHandler struct {
	f *os.File
	h Handler
}

// FileHandler opens (creating/truncating) path and returns a Handler that
// writes text-formatted lines to it.
func FileHandler(path string) (Handler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &fileHandler{f: f, h: TextHandler(f)}, nil
}

func (fh *fileHandler) Log(l Line) error { return fh.h.Log(l) }
func (fh *fileHandler) Close() error     { return fh.f.Close() }

// QuietHandler routes package-scoped lines (stdout/stderr) to a per-package
// build.log opened lazily via pathFor, and everything else (scheduler/meta
// lines not tied to one package) to fallback. Used for --quietly (§6).
type QuietHandler struct {
	pathFor  func(pkg string) string
	fallback Handler

	lck   sync.Mutex
	files map[string]Handler
}

// NewQuietHandler returns a QuietHandler opening "<pathFor(pkg)>" the first
// time it sees a line for pkg.
func NewQuietHandler(pathFor func(pkg string) string, fallback Handler) *QuietHandler {
	return &QuietHandler{pathFor: pathFor, fallback: fallback, files: map[string]Handler{}}
}

func (q *QuietHandler) Log(l Line) error {
	if l.Package == "" {
		return q.fallback.Log(l)
	}

	q.lck.Lock()
	h, ok := q.files[l.Package]
	if !ok {
		path := q.pathFor(l.Package)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			q.lck.Unlock()
			return err
		}
		var err error
		h, err = FileHandler(path)
		if err != nil {
			q.lck.Unlock()
			return err
		}
		q.files[l.Package] = h
	}
	q.lck.Unlock()

	return h.Log(l)
}

func (q *QuietHandler) Close() error {
	q.lck.Lock()
	defer q.lck.Unlock()
	var first error
	for _, h := range q.files {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := q.fallback.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// WriteLines scans r line by line and logs each line to h under stream,
// tagged with pkg. Used by the CommandRunner to stream merged stdio.
func WriteLines(h Handler, pkg string, stream Stream, r io.Reader) error {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for s.Scan() {
		if err := h.Log(Line{Package: pkg, Stream: stream, Text: s.Text()}); err != nil {
			return err
		}
	}
	return s.Err()
}
