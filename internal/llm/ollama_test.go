package llm

import (
	"testing"

	"silexa/triagebot/internal/errs"
)

func TestValidateOllamaHost_AcceptsLoopbackIP(t *testing.T) {
	if err := validateOllamaHost("http://127.0.0.1:11434", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOllamaHost_AcceptsLocalhostName(t *testing.T) {
	if err := validateOllamaHost("http://localhost:11434", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOllamaHost_RejectsRemoteHostByDefault(t *testing.T) {
	err := validateOllamaHost("http://10.0.0.5:11434", false)
	if errs.KindOf(err) != errs.KindPolicyViolation {
		t.Fatalf("expected PolicyViolation, got %v", err)
	}
}

func TestValidateOllamaHost_AllowsRemoteHostWhenFlagSet(t *testing.T) {
	if err := validateOllamaHost("http://10.0.0.5:11434", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOllamaHost_RejectsMalformedURL(t *testing.T) {
	err := validateOllamaHost("http://[::1", false)
	if errs.KindOf(err) != errs.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
