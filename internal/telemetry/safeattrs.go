package telemetry

import (
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxAttrString = 256
	maxAttrSlice  = 32
)

// sensitiveKeyParts mark attribute keys that could carry raw or tokenized
// personal data.
var sensitiveKeyParts = []string{
	"text",
	"content",
	"original",
	"subject",
	"authorization",
	"api_key",
	"token",
	"email",
	"phone",
	"iban",
	"credit_card",
	"ssn",
	"ip_address",
}

// countSuffixes let aggregate keys such as "tokens_count" through even when
// they mention a sensitive word.
var countSuffixes = []string{"_count", "_total"}

// piiLike matches values that look like an address, a token or a long digit run.
var piiLike = regexp.MustCompile(`@|\[[A-Z_]+_[0-9a-f]{6,}\]|\d[\d \-.]{7,}\d`)

func sensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	for _, suffix := range countSuffixes {
		if strings.HasSuffix(lk, suffix) {
			return false
		}
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lk, part) {
			return true
		}
	}
	return false
}

// SafeAttributes converts values into span attributes, sorted by key. Keys
// that may carry personal data are dropped, as are strings that look like
// PII, oversized strings and unsupported types.
func SafeAttributes(values map[string]interface{}) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !sensitiveKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		if kv, ok := safeValue(k, values[k]); ok {
			attrs = append(attrs, kv)
		}
	}
	return attrs
}

func safeValue(k string, v interface{}) (attribute.KeyValue, bool) {
	switch val := v.(type) {
	case string:
		if !safeString(val) {
			return attribute.KeyValue{}, false
		}
		return attribute.String(k, val), true
	case bool:
		return attribute.Bool(k, val), true
	case int:
		return attribute.Int(k, val), true
	case int64:
		return attribute.Int64(k, val), true
	case float64:
		return attribute.Float64(k, val), true
	case []string:
		kept := make([]string, 0, min(len(val), maxAttrSlice))
		for _, s := range val {
			if len(kept) == maxAttrSlice {
				break
			}
			if safeString(s) {
				kept = append(kept, s)
			}
		}
		return attribute.StringSlice(k, kept), true
	}
	return attribute.KeyValue{}, false
}

func safeString(s string) bool {
	return len(s) <= maxAttrString && !piiLike.MatchString(s)
}
