package llm

import (
	"strings"
	"testing"

	"silexa/triagebot/internal/errs"
)

func TestValidateErrorAnalysis_RejectsEmptyRootCause(t *testing.T) {
	a := ErrorAnalysis{Severity: SeverityLow, Confidence: 0.5}
	err := ValidateErrorAnalysis(a)
	if errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateErrorAnalysis_RejectsBadSeverity(t *testing.T) {
	a := ErrorAnalysis{RootCause: "nil pointer", Severity: "extreme", Confidence: 0.5}
	if err := ValidateErrorAnalysis(a); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateErrorAnalysis_RejectsOutOfRangeConfidence(t *testing.T) {
	a := ErrorAnalysis{RootCause: "x", Severity: SeverityHigh, Confidence: 1.5}
	if err := ValidateErrorAnalysis(a); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateErrorAnalysis_RejectsFixMissingFilePath(t *testing.T) {
	a := ErrorAnalysis{
		RootCause:      "x",
		Severity:       SeverityMedium,
		Confidence:     0.5,
		SuggestedFixes: []SuggestedFix{{Description: "patch it", Confidence: 0.5}},
	}
	if err := ValidateErrorAnalysis(a); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateErrorAnalysis_AcceptsWellFormed(t *testing.T) {
	a := ErrorAnalysis{
		RootCause:  "nil dereference on user.Profile",
		Severity:   SeverityCritical,
		Confidence: 0.9,
		SuggestedFixes: []SuggestedFix{
			{Description: "guard nil", FilePath: "app/models.py", Confidence: 0.8},
		},
	}
	if err := ValidateErrorAnalysis(a); err != nil {
		t.Fatalf("expected valid analysis, got %v", err)
	}
}

func TestValidateTitle_RejectsEmpty(t *testing.T) {
	if _, err := ValidateTitle("   "); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateTitle_RejectsTooLong(t *testing.T) {
	long := strings.Repeat("a", 81)
	if _, err := ValidateTitle(long); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateTitle_TrimsAndAccepts(t *testing.T) {
	got, err := ValidateTitle("  KeyError in payment handler  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "KeyError in payment handler" {
		t.Fatalf("expected trimmed title, got %q", got)
	}
}

func TestValidateBody_RejectsTooLong(t *testing.T) {
	long := strings.Repeat("x", 10001)
	if _, err := ValidateBody(long); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateBody_AcceptsWithinCap(t *testing.T) {
	body := strings.Repeat("x", 10000)
	if _, err := ValidateBody(body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateBody_RejectsControlCharacters(t *testing.T) {
	body := "root cause\x00 smuggled"
	if _, err := ValidateBody(body); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateBody_AllowsNewlinesAndTabs(t *testing.T) {
	body := "line one\nline\ttwo\r\n"
	if _, err := ValidateBody(body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSimilarity_RejectsOutOfRange(t *testing.T) {
	scores := map[int]float64{42: 1.2}
	if err := ValidateSimilarity(scores); errs.KindOf(err) != errs.KindLLMOutputInvalid {
		t.Fatalf("expected LLMOutputInvalid, got %v", err)
	}
}

func TestValidateSimilarity_AcceptsInRange(t *testing.T) {
	scores := map[int]float64{1: 0.0, 2: 1.0, 3: 0.42}
	if err := ValidateSimilarity(scores); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
