// Package redact masks secrets and personal data in strings bound for logs,
// audit details and span attributes.
package redact

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// rule rewrites every match of re. Rules run in order, so credential rules
// come before the generic number rule that would otherwise eat their values.
type rule struct {
	name string
	re   *regexp.Regexp
	repl func(match []string) string
}

func replaceWith(s string) func([]string) string {
	return func([]string) string { return s }
}

func keepPrefix(suffix string) func([]string) string {
	return func(m []string) string { return m[1] + suffix }
}

var rules = []rule{
	{
		name: "bearer",
		re:   regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-+/=]+`),
		repl: keepPrefix("[REDACTED]"),
	},
	{
		name: "credential assignment",
		re:   regexp.MustCompile(`(?i)((?:api[_-]?key|key|token|secret|password)\s*[:=]\s*)[A-Za-z0-9._\-+/=]{4,}`),
		repl: keepPrefix("[REDACTED]"),
	},
	{
		name: "url",
		re:   regexp.MustCompile(`https?://[^\s"'<>]+`),
		repl: func(m []string) string { return maskURL(m[0]) },
	},
	{
		name: "email",
		re:   regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		repl: replaceWith("[REDACTED_EMAIL]"),
	},
	{
		name: "pii token",
		re:   regexp.MustCompile(`\[[A-Z][A-Z_]*_[0-9a-f]{12}\]`),
		repl: replaceWith("[REDACTED_TOKEN]"),
	},
	{
		name: "digit run",
		re:   regexp.MustCompile(`\d[\d\s().\-]{7,}\d`),
		repl: replaceWith("[REDACTED_NUMBER]"),
	},
}

// String returns s with credentials, addresses, long digit runs and
// placeholder tokens masked. Tokens are masked because a token plus a leaked
// token map reveals the original value.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.repl(r.re.FindStringSubmatch(match))
		})
	}
	return s
}

// Error is a zap field holding the redacted error message, or a no-op field
// for a nil error.
func Error(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", String(err.Error()))
}

// maskURL keeps scheme, host and the last path segment.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	last := path.Base(strings.TrimSuffix(u.Path, "/"))
	if last == "." || last == "/" || strings.HasSuffix(u.Path, "/") {
		last = "[REDACTED_PATH]"
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, last)
}
