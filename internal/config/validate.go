package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

var levels = []string{"none", "basic", "standard", "strict"}

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := validateDetectionConfig(cfg.Detection); err != nil {
		return err
	}
	if err := validateGuardianConfig(cfg.Guardian); err != nil {
		return err
	}
	if err := validateConsentConfig(cfg.Consent); err != nil {
		return err
	}
	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}
	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}
	return nil
}

func validConfidence(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func validateDetectionConfig(d DetectionConfig) error {
	if !validConfidence(d.MinConfidence) {
		return fmt.Errorf("detection.min_confidence must be within [0,1], got %v", d.MinConfidence)
	}
	for name, e := range d.Entities {
		if strings.TrimSpace(name) == "" {
			return errors.New("detection.entities has an empty entity type")
		}
		if e.BaseConfidence != nil && !validConfidence(*e.BaseConfidence) {
			return fmt.Errorf("detection.entities.%s.base_confidence must be within [0,1]", name)
		}
	}
	return nil
}

func validateGuardianConfig(g GuardianConfig) error {
	if !isLevel(g.DefaultLevel) {
		return fmt.Errorf("guardian.default_level must be one of %s, got %q", strings.Join(levels, ", "), g.DefaultLevel)
	}
	if strings.TrimSpace(g.Purpose) == "" {
		return errors.New("guardian.purpose must be set")
	}
	seen := make(map[string]bool, len(g.Fields))
	for i, f := range g.Fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("guardian.fields[%d] is empty", i)
		}
		if seen[f] {
			return fmt.Errorf("guardian.fields lists %q twice", f)
		}
		seen[f] = true
	}
	for level, v := range g.Thresholds {
		if !isLevel(level) || level == "none" {
			return fmt.Errorf("guardian.thresholds has unknown level %q", level)
		}
		if !validConfidence(v) {
			return fmt.Errorf("guardian.thresholds.%s must be within [0,1], got %v", level, v)
		}
	}
	return nil
}

func isLevel(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range levels {
		if s == l {
			return true
		}
	}
	return false
}

func validateConsentConfig(c ConsentConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "memory":
		return nil
	case "sqlite":
		if strings.TrimSpace(c.Path) == "" {
			return errors.New("consent.path must be set for the sqlite backend")
		}
		return nil
	default:
		return fmt.Errorf("consent.backend must be memory or sqlite, got %q", c.Backend)
	}
}

func validateAuditConfig(a AuditConfig) error {
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("audit sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("audit sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}
