package traceback

import (
	"regexp"
	"strings"

	"silexa/triagebot/internal/errs"
)

var (
	bannerRe       = regexp.MustCompile(`^\s*Traceback \(most recent call last\):\s*$`)
	frameRe        = regexp.MustCompile(`File "([^"]+)", line (\d+), in (.+?)\s*$`)
	exceptionTailRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*:\s*(.*)$`)
	chainCauseRe   = regexp.MustCompile(`^\s*The above exception was the direct cause of the following exception:\s*$`)
	chainContextRe = regexp.MustCompile(`^\s*During handling of the above exception, another exception occurred:\s*$`)
	syntaxFrameRe  = regexp.MustCompile(`File "([^"]+)", line (\d+)\s*$`)
	codeFenceRe    = regexp.MustCompile("^```[A-Za-z0-9_+-]*\\s*$")
	syntaxErrorTypes = map[string]bool{
		"SyntaxError":      true,
		"IndentationError": true,
		"TabError":         true,
	}
)

// ContainsTraceback reports whether text contains at least one traceback
// marker: the banner, a frame line, or a SyntaxError-style header. Cheap:
// no block buffering, a handful of regex probes over the raw text.
func ContainsTraceback(text string) bool {
	if text == "" {
		return false
	}
	if bannerRe.MatchString(text) {
		return true
	}
	if frameRe.MatchString(text) || syntaxFrameRe.MatchString(text) {
		return true
	}
	for typ := range syntaxErrorTypes {
		if strings.Contains(text, typ+":") {
			return true
		}
	}
	return false
}

// stripCodeFences removes markdown fence marker lines (``` with an
// optional language tag), keeping the fenced content itself.
func stripCodeFences(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if codeFenceRe.MatchString(strings.TrimRight(l, "\r")) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// stripANSI removes ANSI CSI/OSC escape sequences, tolerated in pasted
// terminal output.
func stripANSI(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) {
			switch s[i+1] {
			case '[':
				i += 2
				for i < len(s) {
					c := s[i]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						i++
						break
					}
					i++
				}
				continue
			case ']':
				i += 2
				for i < len(s) {
					if s[i] == 0x07 {
						i++
						break
					}
					if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '\\' {
						i += 2
						break
					}
					i++
				}
				continue
			default:
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func preprocess(text string) string {
	return stripCodeFences(stripANSI(text))
}

func isCaretLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, c := range trimmed {
		if c != '^' && c != '~' {
			return false
		}
	}
	return true
}

// ExtractAll returns every disjoint traceback block found in document
// order, linking chained blocks via Cause/IsChained.
func ExtractAll(text string) []ParsedTraceback {
	lines := strings.Split(preprocess(text), "\n")
	var results []ParsedTraceback
	pendingChain := false

	idx := 0
	for idx < len(lines) {
		line := lines[idx]

		switch {
		case chainCauseRe.MatchString(line), chainContextRe.MatchString(line):
			pendingChain = true
			idx++
			continue
		case bannerRe.MatchString(line):
			blockStart := idx
			idx++
			frames, newIdx := consumeFrames(lines, idx)
			idx = newIdx
			excType, excMsg, tailConsumed := parseExceptionTail(lines, idx)
			idx += tailConsumed
			if len(frames) == 0 {
				// Banner with no extractable frame: not a well-formed
				// block (§3 frames-non-empty invariant); detection still
				// succeeded so Parse() surfaces ParseError.
				continue
			}
			pt := buildTraceback(lines, blockStart, idx, frames, excType, excMsg)
			results = linkAndAppend(results, pt, pendingChain)
			pendingChain = false
			continue
		case frameRe.MatchString(line), syntaxFrameRe.MatchString(line):
			blockStart := idx
			frames, newIdx := consumeFrames(lines, idx)
			idx = newIdx
			excType, excMsg, tailConsumed := parseExceptionTail(lines, idx)
			idx += tailConsumed
			if len(frames) == 0 {
				// Avoid an infinite loop if frameRe matched but
				// consumeFrames couldn't advance past it.
				idx = blockStart + 1
				continue
			}
			pt := buildTraceback(lines, blockStart, idx, frames, excType, excMsg)
			results = linkAndAppend(results, pt, pendingChain)
			pendingChain = false
			continue
		default:
			idx++
		}
	}
	return results
}

func buildTraceback(lines []string, start, end int, frames []StackFrame, excType, excMsg string) ParsedTraceback {
	truncated := excType == ""
	if truncated {
		excType = "<truncated>"
		excMsg = ""
	}
	if end <= start {
		end = start + 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	raw := strings.Join(lines[start:end], "\n")
	return ParsedTraceback{
		ExceptionType:    excType,
		ExceptionMessage: excMsg,
		Frames:           frames,
		RawText:          raw,
	}
}

func linkAndAppend(results []ParsedTraceback, pt ParsedTraceback, chained bool) []ParsedTraceback {
	if chained && len(results) > 0 {
		cause := results[len(results)-1]
		pt.IsChained = true
		pt.Cause = &cause
	}
	return append(results, pt)
}

// consumeFrames scans forward from idx consuming "File ..., line N, in
// func" lines, each optionally followed by exactly one source line.
func consumeFrames(lines []string, idx int) ([]StackFrame, int) {
	var frames []StackFrame
	for idx < len(lines) {
		var frame StackFrame
		if m := frameRe.FindStringSubmatch(lines[idx]); m != nil {
			frame = StackFrame{File: m[1], Line: atoiSafe(m[2]), Func: strings.TrimSpace(m[3])}
		} else if m := syntaxFrameRe.FindStringSubmatch(lines[idx]); m != nil {
			// SyntaxError-class header: no "in <func>" segment present.
			frame = StackFrame{File: m[1], Line: atoiSafe(m[2]), Func: "<module>"}
		} else {
			break
		}
		idx++
		if idx < len(lines) {
			next := lines[idx]
			trimmed := strings.TrimSpace(next)
			if trimmed != "" &&
				!frameRe.MatchString(next) &&
				!exceptionTailRe.MatchString(next) &&
				!bannerRe.MatchString(next) &&
				!isCaretLine(next) {
				frame.SourceLine = trimmed
				idx++
			}
		}
		frames = append(frames, frame)
	}
	return frames, idx
}

// parseExceptionTail consumes the exception-type/message line (plus
// indented continuation lines) starting at idx, tolerating SyntaxError's
// caret-aligned snippet lines beforehand. Returns ("","",n) when no
// exception tail could be found (truncated traceback); n still reports
// how many lines were consumed so the caller's cursor advances.
func parseExceptionTail(lines []string, start int) (excType, excMsg string, consumed int) {
	idx := start
	for idx < len(lines) {
		t := strings.TrimSpace(lines[idx])
		if t == "" || isCaretLine(lines[idx]) {
			idx++
			continue
		}
		break
	}
	if idx >= len(lines) {
		return "", "", idx - start
	}
	m := exceptionTailRe.FindStringSubmatch(lines[idx])
	if m == nil {
		return "", "", idx - start
	}
	excType = m[1]
	msgLines := []string{m[2]}
	idx++
	for idx < len(lines) {
		line := lines[idx]
		if strings.TrimSpace(line) == "" {
			break
		}
		if frameRe.MatchString(line) || bannerRe.MatchString(line) ||
			chainCauseRe.MatchString(line) || chainContextRe.MatchString(line) {
			break
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			break
		}
		msgLines = append(msgLines, strings.TrimSpace(line))
		idx++
	}
	excMsg = strings.Join(msgLines, "\n")
	return excType, excMsg, idx - start
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Parse returns the first traceback block in text. It fails with
// ParseError only when detection succeeded but no frame could be
// extracted; otherwise it returns the best-effort structure (including
// the truncated-traceback shape).
func Parse(text string) (ParsedTraceback, error) {
	blocks := ExtractAll(text)
	if len(blocks) == 0 {
		if ContainsTraceback(text) {
			return ParsedTraceback{}, errs.New(errs.KindParseError, "traceback detected but no frame could be extracted")
		}
		return ParsedTraceback{}, errs.New(errs.KindParseError, "no traceback found")
	}
	first := blocks[0]
	if len(first.Frames) == 0 && first.ExceptionType != "<truncated>" {
		return ParsedTraceback{}, errs.New(errs.KindParseError, "traceback detected but no frame could be extracted")
	}
	return first, nil
}
