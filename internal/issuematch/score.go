package issuematch

import (
	"regexp"
	"sort"
	"strings"

	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/traceback"
)

var wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		out[w] = true
	}
	return out
}

func containsWord(haystack, word string) bool {
	tokens := tokenize(haystack)
	return tokens[strings.ToLower(word)]
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// signals holds the four [0,1] scores from §4.4's scoring table.
type signals struct {
	typeMatch    float64
	msgMatch     float64
	frameOverlap float64
	semantic     float64
}

func computeSignals(pt traceback.ParsedTraceback, candidate issue.Issue, semantic float64) signals {
	combined := candidate.Title + " " + candidate.Body

	s := signals{}
	if containsWord(combined, pt.ExceptionType) {
		s.typeMatch = 1
	}

	msgTokens := tokenize(pt.ExceptionMessage)
	titleTokens := tokenize(candidate.Title)
	s.msgMatch = jaccard(msgTokens, titleTokens)
	if s.typeMatch == 1 && s.msgMatch < 0.1 {
		s.msgMatch = 0.1
	}

	basenames := projectFrameBasenames(pt, 1<<20) // all of them, for overlap scoring
	if len(basenames) > 0 {
		combinedTokens := tokenize(combined)
		overlap := 0
		for _, b := range basenames {
			if combinedTokens[strings.ToLower(b)] {
				overlap++
			}
		}
		s.frameOverlap = float64(overlap) / float64(len(basenames))
	}

	s.semantic = semantic
	return s
}

func composite(w Weights, s signals) float64 {
	return w.Type*s.typeMatch + w.Message*s.msgMatch + w.Frames*s.frameOverlap + w.Semantic*s.semantic
}

// reasons translates non-trivial (>0.2) signals into human-readable
// strings, per §4.4.
func reasons(s signals, closed bool) []string {
	var out []string
	add := func(cond bool, text string) {
		if !cond {
			return
		}
		if closed {
			text += " (closed)"
		}
		out = append(out, text)
	}
	add(s.typeMatch > 0.2, "exact exception type")
	add(s.msgMatch > 0.2, "similar message")
	add(s.frameOverlap > 0.2, "overlapping file basenames")
	add(s.semantic > 0.2, "semantic similarity")
	return out
}

// rank scores and sorts candidates per §4.4's tie-breaking rule: prefer
// open over closed, then lower issue number, then stable input order.
func rank(w Weights, pt traceback.ParsedTraceback, candidates []issue.Issue, semanticOf func(issue.Issue) float64, includeClosed bool, maxResults int) []issue.Match {
	type scored struct {
		m   issue.Match
		idx int
	}
	var all []scored
	for i, c := range candidates {
		if !includeClosed && c.State == issue.StateClosed {
			continue
		}
		sig := computeSignals(pt, c, semanticOf(c))
		conf := composite(w, sig)
		all = append(all, scored{
			m:   issue.Match{Issue: c, Confidence: conf, Reasons: reasons(sig, c.State == issue.StateClosed)},
			idx: i,
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.m.Confidence != b.m.Confidence {
			return a.m.Confidence > b.m.Confidence
		}
		aOpen := a.m.Issue.State == issue.StateOpen
		bOpen := b.m.Issue.State == issue.StateOpen
		if aOpen != bOpen {
			return aOpen
		}
		if a.m.Issue.Number != b.m.Issue.Number {
			return a.m.Issue.Number < b.m.Issue.Number
		}
		return a.idx < b.idx
	})
	if maxResults > 0 && len(all) > maxResults {
		all = all[:maxResults]
	}
	out := make([]issue.Match, len(all))
	for i, s := range all {
		out[i] = s.m
	}
	return out
}
