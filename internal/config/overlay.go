package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Overlay is the optional per-repo/per-channel policy file (.triagebot.yaml
// committed to a target repo), mirroring
// internal/releaseparty/config.go's RepoConfig/ParseRepoConfigYAML shape:
// a small struct of overridable knobs with yaml tags, defaulted and
// validated on parse.
type Overlay struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	DefaultLabels       []string `yaml:"default_labels"`
	IncludeFiles        []string `yaml:"include_files"`
}

// ParseOverlayYAML parses a .triagebot.yaml payload. A zero or negative
// confidence_threshold in the file is treated as "not set" and left at the
// process-wide default.
func ParseOverlayYAML(b []byte) (Overlay, error) {
	var o Overlay
	if err := yaml.Unmarshal(b, &o); err != nil {
		return Overlay{}, err
	}
	for i, label := range o.DefaultLabels {
		o.DefaultLabels[i] = strings.TrimSpace(label)
	}
	for i, f := range o.IncludeFiles {
		o.IncludeFiles[i] = strings.TrimSpace(f)
	}
	return o, nil
}

// ApplyOverlay returns a copy of cfg with any non-zero Overlay fields
// applied. A parse/read failure upstream means ApplyOverlay is simply
// never called — the caller falls back to process-wide cfg, per §1's
// "a parse failure is logged and ignored" rule.
func ApplyOverlay(cfg Config, o Overlay) Config {
	if o.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = o.ConfidenceThreshold
	}
	if len(o.DefaultLabels) > 0 {
		cfg.DefaultLabels = o.DefaultLabels
	}
	if len(o.IncludeFiles) > 0 {
		cfg.IncludeFiles = o.IncludeFiles
	}
	return cfg
}
