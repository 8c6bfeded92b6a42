package intel

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogRegistersAllTypes(t *testing.T) {
	c := DefaultCatalog()
	st := c.Status()

	assert.True(t, st.Enabled)
	assert.Equal(t, "piiguard-catalog", st.BundleID)
	assert.Equal(t, []EntityType{
		EntityEmail, EntityPhone, EntityCreditCard, EntitySSN, EntityIPAddress, EntityIBAN,
	}, st.Entities)
	assert.True(t, c.Supports("en"))
	assert.True(t, c.Supports("EN"))
	assert.False(t, c.Supports("fr"))
}

func TestRegisterRejectsBadRules(t *testing.T) {
	c := NewCatalog("test", "0", "en")
	re := regexp.MustCompile(`x`)

	require.NoError(t, c.Register(Rule{Type: "X", Pattern: re, BaseConfidence: 0.5}))
	assert.Error(t, c.Register(Rule{Type: "X", Pattern: re, BaseConfidence: 0.5}), "duplicate")
	assert.Error(t, c.Register(Rule{Type: "", Pattern: re, BaseConfidence: 0.5}), "empty type")
	assert.Error(t, c.Register(Rule{Type: "Y", BaseConfidence: 0.5}), "nil pattern")
	assert.Error(t, c.Register(Rule{Type: "Z", Pattern: re, BaseConfidence: 1.5}), "confidence range")

	r, ok := c.Rule("X")
	require.True(t, ok)
	assert.Equal(t, MethodPattern, r.Method)
}

func TestRulesReturnsCopy(t *testing.T) {
	c := DefaultCatalog()
	rules := c.Rules()
	rules[0].BaseConfidence = 0

	r, _ := c.Rule(EntityEmail)
	assert.Equal(t, 0.85, r.BaseConfidence)
}

func TestWithOverrides(t *testing.T) {
	disabled := false
	base := 0.4

	c, err := DefaultCatalog().WithOverrides(map[EntityType]Override{
		EntityIBAN:  {Enabled: &disabled},
		EntityPhone: {BaseConfidence: &base},
	})
	require.NoError(t, err)

	_, ok := c.Rule(EntityIBAN)
	assert.False(t, ok)
	r, ok := c.Rule(EntityPhone)
	require.True(t, ok)
	assert.Equal(t, 0.4, r.BaseConfidence)

	_, err = DefaultCatalog().WithOverrides(map[EntityType]Override{"NOPE": {}})
	assert.Error(t, err)
}

func TestRuleEvaluateClamps(t *testing.T) {
	r := Rule{
		Type:           "X",
		BaseConfidence: 0.9,
		Validators: []Validator{
			func(Candidate) Verdict { return Verdict{Adjust: 0.5} },
		},
	}
	conf, ok := r.Evaluate(NewCandidate("abc", 0, 1))
	require.True(t, ok)
	assert.Equal(t, 1.0, conf)

	r.Validators = append(r.Validators, func(Candidate) Verdict { return Verdict{Reject: true} })
	_, ok = r.Evaluate(NewCandidate("abc", 0, 1))
	assert.False(t, ok)
}

func TestNewCandidateWindow(t *testing.T) {
	text := "héllo wörld 555-123-4567 trailing"
	start := indexOf(t, text, "555-123-4567")
	end := start + len("555-123-4567")
	c := NewCandidate(text, start, end)

	assert.Equal(t, "555-123-4567", c.Match)
	assert.Equal(t, "héllo wörld ", c.Before)
	assert.Equal(t, " trailing", c.After)
	assert.Equal(t, ' ', c.Prev())
	assert.Equal(t, ' ', c.Next())

	edge := NewCandidate("abc", 0, 3)
	assert.Equal(t, rune(0), edge.Prev())
	assert.Equal(t, rune(0), edge.Next())
}

func TestLuhn(t *testing.T) {
	tests := []struct {
		digits string
		want   bool
	}{
		{"4111111111111111", true},
		{"5500005555555559", true},
		{"378282246310005", true},
		{"4111111111111112", false},
		{"1", false},
		{"41111a1111111111", false},
	}
	for _, tt := range tests {
		t.Run(tt.digits, func(t *testing.T) {
			assert.Equal(t, tt.want, Luhn(tt.digits))
		})
	}
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, ValidIBAN("GB82WEST12345698765432"))
	assert.True(t, ValidIBAN("DE89 3704 0044 0532 0130 00"))
	assert.False(t, ValidIBAN("GB82WEST12345698765433"))
	assert.False(t, ValidIBAN("GB82"))
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name   string
		v      Validator
		text   string
		match  string
		reject bool
		adjust float64
	}{
		{"digit before", RejectAdjacentDigits(), "9123-45-6789", "123-45-6789", true, 0},
		{"digit after", RejectAdjacentDigits(), "123-45-67890", "123-45-6789", true, 0},
		{"clean digits", RejectAdjacentDigits(), "ssn 123-45-6789.", "123-45-6789", false, 0},
		{"letter after", RejectFollowedByLetter(), "4111111111111111abc", "4111111111111111", true, 0},
		{"letter before", RejectPrecededByLetter(), "v1.2.3.4", "1.2.3.4", true, 0},
		{"open paren", RejectUnbalancedParens(), "(123 456 7890", "123 456 7890", true, 0},
		{"close paren", RejectUnbalancedParens(), "123 456 7890)", "123 456 7890", true, 0},
		{"balanced parens", RejectUnbalancedParens(), "(123) 456-7890", "(123) 456-7890", false, 0},
		{"path adjacent", RejectPathContext(), "/var/mail/john@example.com", "john@example.com", true, 0},
		{"path in word", RejectPathContext(), `C:\Users\me\x.john@example.com`, "john@example.com", true, 0},
		{"plain email", RejectPathContext(), "mail john@example.com now", "john@example.com", false, 0},
		{"slash in label", RejectPathContext(), "Email/phone:jane@example.com", "jane@example.com", false, 0},
		{"cc label", RejectPathContext(), "CC/BCC: jane@example.com", "jane@example.com", false, 0},
		{"home path word", RejectPathContext(), "~/mail:jane@example.com", "jane@example.com", true, 0},
		{"assigned path", RejectPathContext(), "dir=/var/mail/x.jane@example.com", "jane@example.com", true, 0},
		{"keyword", RejectNearKeywords("version"), "Version 10.0.0.1 shipped", "10.0.0.1", true, 0},
		{"no keyword", RejectNearKeywords("version"), "host 10.0.0.1 down", "10.0.0.1", false, 0},
		{"ipv4 five segments", IPv4Structure(), "192.168.1.100.250", "192.168.1.100.250", true, 0},
		{"ipv4 octet", IPv4Structure(), "300.1.1.1", "300.1.1.1", true, 0},
		{"ipv4 ok", IPv4Structure(), "10.0.0.1", "10.0.0.1", false, 0},
		{"ssn area", SSNStructure(), "666-45-6789", "666-45-6789", true, 0},
		{"ssn ok", SSNStructure(), "123-45-6789", "123-45-6789", false, 0},
		{"card luhn", CardChecksum(0.45), "4111 1111 1111 1111", "4111 1111 1111 1111", false, 0.45},
		{"card no luhn", CardChecksum(0.45), "4111111111111112", "4111111111111112", false, 0},
		{"email tld", EmailStructure([]string{"com"}, 0.1), "a@b.com", "a@b.com", false, 0.1},
		{"email odd tld", EmailStructure([]string{"com"}, 0.1), "a@b.zz", "a@b.zz", false, 0},
		{"email double dot", EmailStructure([]string{"com"}, 0.1), "a..b@c.com", "a..b@c.com", true, 0},
		{"iban bad", IBANChecksum(0.3), "GB82WEST12345698765433", "GB82WEST12345698765433", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := indexOf(t, tt.text, tt.match)
			v := tt.v(NewCandidate(tt.text, start, start+len(tt.match)))
			assert.Equal(t, tt.reject, v.Reject)
			assert.InDelta(t, tt.adjust, v.Adjust, 1e-9)
		})
	}
}

func indexOf(t *testing.T, s, sub string) int {
	t.Helper()
	re := regexp.MustCompile(regexp.QuoteMeta(sub))
	loc := re.FindStringIndex(s)
	require.NotNil(t, loc, "%q not in %q", sub, s)
	return loc[0]
}
