package redact

import (
	"errors"
	"strings"
	"testing"
)

func TestStringRedaction(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		disallow []string
		require  []string
	}{
		{
			name:     "bearer header",
			input:    "Authorization: Bearer sk-secret-123",
			disallow: []string{"sk-secret-123"},
			require:  []string{"[REDACTED]"},
		},
		{
			name:     "password value",
			input:    "login failed password=hunter22",
			disallow: []string{"hunter22"},
			require:  []string{"password=[REDACTED]"},
		},
		{
			name:     "email address",
			input:    "consent granted for john.doe@example.com",
			disallow: []string{"john.doe@example.com"},
			require:  []string{"[REDACTED_EMAIL]", "consent granted for"},
		},
		{
			name:     "phone number",
			input:    "call 555-123-4567 now",
			disallow: []string{"555-123-4567"},
			require:  []string{"call [REDACTED_NUMBER] now"},
		},
		{
			name:     "placeholder token",
			input:    "restored [EMAIL_ADDRESS_0a1b2c3d4e5f] ok",
			disallow: []string{"0a1b2c3d4e5f"},
			require:  []string{"[REDACTED_TOKEN]"},
		},
		{
			name:     "api key before digits",
			input:    "api_key=12345678901234",
			disallow: []string{"12345678901234"},
			require:  []string{"api_key=[REDACTED]"},
		},
		{
			name:     "url with trailing slash",
			input:    "posting to http://audit.internal/hooks/",
			disallow: []string{"hooks"},
			require:  []string{"http://audit.internal/[REDACTED_PATH]"},
		},
		{
			name:     "webhook url",
			input:    "sink=https://audit.example.com/hooks/ingest?sig=abc123",
			disallow: []string{"ingest?sig=abc123"},
			require:  []string{"https://audit.example.com/ingest"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := String(tc.input)
			for _, bad := range tc.disallow {
				if bad != "" && contains(out, bad) {
					t.Fatalf("output still contains %q: %s", bad, out)
				}
			}
			for _, want := range tc.require {
				if want == "" {
					continue
				}
				if !contains(out, want) {
					t.Fatalf("output missing required substring %q: %s", want, out)
				}
			}
		})
	}
}

func TestStringEmpty(t *testing.T) {
	if got := String(""); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestStringLeavesPlainTextAlone(t *testing.T) {
	in := "consent check failed for purpose analysis: database is locked"
	if got := String(in); got != in {
		t.Fatalf("unexpected rewrite: %q", got)
	}
}

func TestErrorField(t *testing.T) {
	f := Error(errors.New("bad value jane@example.org"))
	if f.Key != "error" {
		t.Fatalf("expected error key, got %s", f.Key)
	}
	if contains(f.String, "jane@example.org") {
		t.Fatalf("error field leaked email: %s", f.String)
	}
	if Error(nil).Key != "" {
		t.Fatalf("expected skip field for nil error")
	}
}

func contains(s, sub string) bool {
	return s != "" && sub != "" && strings.Contains(s, sub)
}
