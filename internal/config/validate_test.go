package config

import (
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "min confidence out of range",
			mutate: func(c *Config) { c.Detection.MinConfidence = 1.2 },
			want:   "detection.min_confidence",
		},
		{
			name: "entity base confidence out of range",
			mutate: func(c *Config) {
				c.Detection.Entities = map[string]EntityConfig{"EMAIL_ADDRESS": {BaseConfidence: floatPtr(-0.1)}}
			},
			want: "base_confidence",
		},
		{
			name:   "unknown default level",
			mutate: func(c *Config) { c.Guardian.DefaultLevel = "paranoid" },
			want:   "guardian.default_level",
		},
		{
			name:   "empty purpose",
			mutate: func(c *Config) { c.Guardian.Purpose = " " },
			want:   "guardian.purpose",
		},
		{
			name:   "duplicate field",
			mutate: func(c *Config) { c.Guardian.Fields = []string{"body", "body"} },
			want:   "twice",
		},
		{
			name:   "threshold for none",
			mutate: func(c *Config) { c.Guardian.Thresholds["none"] = 0.1 },
			want:   "unknown level",
		},
		{
			name:   "threshold out of range",
			mutate: func(c *Config) { c.Guardian.Thresholds["strict"] = 2 },
			want:   "guardian.thresholds.strict",
		},
		{
			name:   "unknown consent backend",
			mutate: func(c *Config) { c.Consent.Backend = "redis" },
			want:   "consent.backend",
		},
		{
			name:   "sqlite without path",
			mutate: func(c *Config) { c.Consent.Backend = "sqlite" },
			want:   "consent.path",
		},
		{
			name: "file sink without path",
			mutate: func(c *Config) {
				c.Audit.Sinks = []AuditSinkConfig{{Type: "file_jsonl"}}
			},
			want: "missing path",
		},
		{
			name: "webhook with bad scheme",
			mutate: func(c *Config) {
				c.Audit.Sinks = []AuditSinkConfig{{Type: "webhook", URL: "ftp://audit.example.com/in"}}
			},
			want: "http or https",
		},
		{
			name: "unknown sink type",
			mutate: func(c *Config) {
				c.Audit.Sinks = []AuditSinkConfig{{Type: "kafka"}}
			},
			want: "unknown type",
		},
		{
			name: "telemetry without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
			},
			want: "endpoint",
		},
		{
			name: "telemetry bad protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Endpoint = "localhost:4317"
				c.Telemetry.Protocol = "udp"
			},
			want: "telemetry.protocol",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if err := Validate(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
