package issuematch

import (
	"path"
	"regexp"
	"strings"

	"silexa/triagebot/internal/traceback"
)

var metacharRe = regexp.MustCompile(`[^A-Za-z0-9 _.'\-]`)

// BuildQuery constructs the single search query string from §4.4: the
// exception type as a mandatory term, the first 80 characters of the
// message quoted with metacharacters stripped, and up to three distinct
// innermost project-frame basenames.
func BuildQuery(pt traceback.ParsedTraceback) string {
	var b strings.Builder
	b.WriteString(pt.ExceptionType)

	msg := pt.ExceptionMessage
	if len(msg) > 80 {
		msg = msg[:80]
	}
	msg = metacharRe.ReplaceAllString(msg, "")
	msg = strings.TrimSpace(msg)
	if msg != "" {
		b.WriteString(` "`)
		b.WriteString(msg)
		b.WriteString(`"`)
	}

	basenames := projectFrameBasenames(pt, 3)
	for _, name := range basenames {
		b.WriteString(" ")
		b.WriteString(name)
	}
	return b.String()
}

// projectFrameBasenames returns up to max distinct basenames from the
// innermost project frames, innermost-first.
func projectFrameBasenames(pt traceback.ParsedTraceback, max int) []string {
	frames := pt.ProjectFrames()
	seen := map[string]bool{}
	var out []string
	for i := len(frames) - 1; i >= 0 && len(out) < max; i-- {
		base := path.Base(frames[i].NormalizedPath())
		if base == "" || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, base)
	}
	return out
}
