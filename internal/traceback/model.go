// Package traceback detects and parses Python-style tracebacks out of
// free-form chat text. The tolerant, stateful, line-oriented extraction
// approach (strip noise, buffer a block, recognize a handful of regex
// shapes, emit a structured record) is grounded on
// tools/codex-stdout-parser/main.go's parser, retargeted from
// session-output framing to traceback framing.
package traceback

import "strings"

// StackFrame is one "File ..., line N, in func" record. Immutable once
// constructed.
type StackFrame struct {
	File       string
	Line       int
	Func       string
	SourceLine string // optional; empty if the traceback omitted it
}

// stdlibMarkers and sitePackagesMarkers are substrings used to classify a
// frame's path without needing an actual filesystem or Python install.
var (
	stdlibMarkers = []string{
		"/lib/python", "\\lib\\python", "/usr/lib/python",
	}
	sitePackagesMarkers = []string{
		"site-packages", "dist-packages",
	}
)

// NormalizedPath drops a leading filesystem root so the frame reads as
// project-relative. It strips a leading "/" or drive-letter prefix and
// any leading "./".
func (f StackFrame) NormalizedPath() string {
	p := f.File
	for _, sep := range []string{"/", "\\"} {
		if strings.HasPrefix(p, sep) {
			p = strings.TrimPrefix(p, sep)
		}
	}
	p = strings.TrimPrefix(p, "./")
	return p
}

// IsStdlib reports whether the frame's path looks like it belongs to the
// Python standard library.
func (f StackFrame) IsStdlib() bool {
	return containsAny(f.File, stdlibMarkers)
}

// IsSitePackages reports whether the frame's path looks like it belongs
// to a third-party installed package.
func (f StackFrame) IsSitePackages() bool {
	return containsAny(f.File, sitePackagesMarkers)
}

// IsProjectFrame reports whether the frame is neither stdlib nor
// site-packages — i.e. presumed first-party code.
func (f StackFrame) IsProjectFrame() bool {
	return !f.IsStdlib() && !f.IsSitePackages()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// ParsedTraceback is an immutable, best-effort structured extraction of
// one traceback block. Frames are ordered outermost to innermost,
// matching source order.
type ParsedTraceback struct {
	ExceptionType    string
	ExceptionMessage string
	Frames           []StackFrame
	RawText          string
	IsChained        bool
	Cause            *ParsedTraceback // the earlier exception in the chain, if any
}

// Innermost returns the last (deepest) frame, the frame closest to the
// fault site.
func (t ParsedTraceback) Innermost() (StackFrame, bool) {
	if len(t.Frames) == 0 {
		return StackFrame{}, false
	}
	return t.Frames[len(t.Frames)-1], true
}

// ProjectFrames returns the subsequence of frames that are neither
// stdlib nor site-packages, preserving order.
func (t ParsedTraceback) ProjectFrames() []StackFrame {
	out := make([]StackFrame, 0, len(t.Frames))
	for _, f := range t.Frames {
		if f.IsProjectFrame() {
			out = append(out, f)
		}
	}
	return out
}

// Signature is the deduplication key: "<ExceptionType>: <first line of
// message>". Stable across whitespace/path variation as long as the
// exception type and message are stable.
func (t ParsedTraceback) Signature() string {
	firstLine := t.ExceptionMessage
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	return t.ExceptionType + ": " + strings.TrimSpace(firstLine)
}
