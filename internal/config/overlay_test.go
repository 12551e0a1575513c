package config

import "testing"

func TestParseOverlayYAML_ParsesFields(t *testing.T) {
	o, err := ParseOverlayYAML([]byte("confidence_threshold: 0.7\ndefault_labels:\n  - bug\n  - triaged\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.ConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected threshold: %v", o.ConfidenceThreshold)
	}
	if len(o.DefaultLabels) != 2 || o.DefaultLabels[0] != "bug" {
		t.Fatalf("unexpected labels: %v", o.DefaultLabels)
	}
}

func TestApplyOverlay_OverridesOnlySetFields(t *testing.T) {
	base := Config{ConfidenceThreshold: 0.85, DefaultLabels: []string{"triage-bot"}}
	o := Overlay{ConfidenceThreshold: 0.6}
	got := ApplyOverlay(base, o)
	if got.ConfidenceThreshold != 0.6 {
		t.Fatalf("expected overridden threshold, got %v", got.ConfidenceThreshold)
	}
	if len(got.DefaultLabels) != 1 || got.DefaultLabels[0] != "triage-bot" {
		t.Fatalf("expected unchanged labels, got %v", got.DefaultLabels)
	}
}

func TestApplyOverlay_ZeroOverlayIsNoop(t *testing.T) {
	base := Config{ConfidenceThreshold: 0.85, DefaultLabels: []string{"triage-bot"}}
	got := ApplyOverlay(base, Overlay{})
	if got.ConfidenceThreshold != base.ConfidenceThreshold {
		t.Fatalf("expected unchanged threshold, got %v", got.ConfidenceThreshold)
	}
}
