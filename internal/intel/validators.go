package intel

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContextWindow is how many bytes on each side of a match validators may inspect.
const ContextWindow = 50

// Candidate is a raw pattern match plus the text surrounding it.
type Candidate struct {
	Match  string
	Start  int
	End    int
	Before string
	After  string

	prev rune
	next rune
}

// NewCandidate builds a candidate for text[start:end]. The context windows are
// widened to rune boundaries so multi-byte characters are never split.
func NewCandidate(text string, start, end int) Candidate {
	lo := start - ContextWindow
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := end + ContextWindow
	if hi > len(text) {
		hi = len(text)
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}

	c := Candidate{
		Match:  text[start:end],
		Start:  start,
		End:    end,
		Before: text[lo:start],
		After:  text[end:hi],
	}
	if r, size := utf8.DecodeLastRuneInString(c.Before); size > 0 {
		c.prev = r
	}
	if r, size := utf8.DecodeRuneInString(c.After); size > 0 {
		c.next = r
	}
	return c
}

// Prev returns the rune immediately before the match, or 0 at the start of text.
func (c Candidate) Prev() rune { return c.prev }

// Next returns the rune immediately after the match, or 0 at the end of text.
func (c Candidate) Next() rune { return c.next }

// Verdict is a validator's opinion on a candidate.
type Verdict struct {
	Reject bool
	Adjust float64
	Reason string
}

// Validator inspects a candidate and may veto it or adjust its confidence.
type Validator func(Candidate) Verdict

func reject(reason string) Verdict { return Verdict{Reject: true, Reason: reason} }

func accept() Verdict { return Verdict{} }

// RejectAdjacentDigits vetoes numeric matches glued to further digits.
func RejectAdjacentDigits() Validator {
	return func(c Candidate) Verdict {
		if unicode.IsDigit(c.Prev()) || unicode.IsDigit(c.Next()) {
			return reject("adjacent digit")
		}
		return accept()
	}
}

// RejectFollowedByLetter vetoes matches that run straight into a letter.
func RejectFollowedByLetter() Validator {
	return func(c Candidate) Verdict {
		if unicode.IsLetter(c.Next()) {
			return reject("followed by letter")
		}
		return accept()
	}
}

// RejectPrecededByLetter vetoes matches that start right after a letter,
// which catches prefixes like "v1.2.3.4".
func RejectPrecededByLetter() Validator {
	return func(c Candidate) Verdict {
		if unicode.IsLetter(c.Prev()) {
			return reject("preceded by letter")
		}
		return accept()
	}
}

// RejectUnbalancedParens vetoes matches that sit against a parenthesis whose
// partner is not part of the match.
func RejectUnbalancedParens() Validator {
	return func(c Candidate) Verdict {
		if c.Prev() == '(' && !strings.Contains(c.Match, ")") {
			return reject("unbalanced opening parenthesis")
		}
		if c.Next() == ')' && !strings.Contains(c.Match, "(") {
			return reject("unbalanced closing parenthesis")
		}
		if strings.Count(c.Match, "(") != strings.Count(c.Match, ")") {
			return reject("unbalanced parenthesis in match")
		}
		return accept()
	}
}

// RejectPathContext vetoes matches embedded in filesystem-path-like text: a
// path separator directly adjacent, or a preceding word that is itself a
// path. Prose such as "Email/phone:" is not a path.
func RejectPathContext() Validator {
	return func(c Candidate) Verdict {
		if isPathSep(c.Prev()) || isPathSep(c.Next()) {
			return reject("path separator adjacent")
		}
		word := c.Before
		if i := strings.LastIndexFunc(word, unicode.IsSpace); i >= 0 {
			_, size := utf8.DecodeRuneInString(word[i:])
			word = word[i+size:]
		}
		if looksLikePath(word) {
			return reject("inside path")
		}
		if strings.HasPrefix(c.After, ":/") || strings.HasPrefix(c.After, `:\`) {
			return reject("followed by path")
		}
		return accept()
	}
}

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// looksLikePath reports whether word starts like a path, or holds a
// separator after its last ':' or '=' (as in "dir=/var/mail/x.").
func looksLikePath(word string) bool {
	if word == "" {
		return false
	}
	for _, p := range []string{"/", "~/", "./", "../", `\\`} {
		if strings.HasPrefix(word, p) {
			return true
		}
	}
	if drivePrefix.MatchString(word) {
		return true
	}
	if i := strings.LastIndexAny(word, ":="); i >= 0 {
		return strings.ContainsAny(word[i+1:], `/\`)
	}
	return false
}

func isPathSep(r rune) bool { return r == '/' || r == '\\' }

// RejectNearKeywords vetoes candidates whose context window mentions any of
// the given words.
func RejectNearKeywords(words ...string) Validator {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return func(c Candidate) Verdict {
		if re.MatchString(c.Before) || re.MatchString(c.After) {
			return reject("keyword in context")
		}
		return accept()
	}
}

// BoostFormat raises confidence when the whole match has a canonical layout.
func BoostFormat(format *regexp.Regexp, delta float64) Validator {
	return func(c Candidate) Verdict {
		if format.MatchString(c.Match) {
			return Verdict{Adjust: delta, Reason: "canonical format"}
		}
		return accept()
	}
}

// EmailStructure vetoes addresses that match the pattern but are not valid
// addresses, and boosts common top-level domains.
func EmailStructure(commonTLDs []string, delta float64) Validator {
	return func(c Candidate) Verdict {
		at := strings.LastIndexByte(c.Match, '@')
		if at <= 0 || at == len(c.Match)-1 {
			return reject("malformed address")
		}
		local, domain := c.Match[:at], c.Match[at+1:]
		if len(local) > 64 || len(c.Match) > 254 {
			return reject("address too long")
		}
		if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
			return reject("malformed local part")
		}
		labels := strings.Split(domain, ".")
		for _, l := range labels {
			if l == "" || strings.HasPrefix(l, "-") || strings.HasSuffix(l, "-") {
				return reject("malformed domain")
			}
		}
		tld := strings.ToLower(labels[len(labels)-1])
		if slices.Contains(commonTLDs, tld) {
			return Verdict{Adjust: delta, Reason: "common tld"}
		}
		return accept()
	}
}

// CardChecksum boosts card numbers whose digit count is a real card length
// and whose Luhn checksum holds.
func CardChecksum(delta float64) Validator {
	return func(c Candidate) Verdict {
		digits := stripNonDigits(c.Match)
		if validCardLength(len(digits)) && Luhn(digits) {
			return Verdict{Adjust: delta, Reason: "luhn"}
		}
		return accept()
	}
}

// SSNStructure vetoes numbers that can never be issued: area 000, 666 or
// 9xx, group 00, serial 0000.
func SSNStructure() Validator {
	return func(c Candidate) Verdict {
		digits := stripNonDigits(c.Match)
		if len(digits) != 9 {
			return reject("wrong length")
		}
		area, group, serial := digits[:3], digits[3:5], digits[5:]
		if area == "000" || area == "666" || area[0] == '9' {
			return reject("invalid area")
		}
		if group == "00" || serial == "0000" {
			return reject("invalid group or serial")
		}
		return accept()
	}
}

// IPv4Structure vetoes dotted numbers that do not have exactly four octets
// in range.
func IPv4Structure() Validator {
	return func(c Candidate) Verdict {
		parts := strings.Split(c.Match, ".")
		if len(parts) != 4 {
			return reject("segment count")
		}
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil || n > 255 {
				return reject("octet out of range")
			}
		}
		return accept()
	}
}

// IBANChecksum vetoes IBAN-shaped strings whose mod-97 check fails and boosts
// the ones that pass.
func IBANChecksum(delta float64) Validator {
	return func(c Candidate) Verdict {
		if !ValidIBAN(c.Match) {
			return reject("iban checksum")
		}
		return Verdict{Adjust: delta, Reason: "iban checksum"}
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func validCardLength(n int) bool {
	switch n {
	case 13, 14, 15, 16, 19:
		return true
	default:
		return false
	}
}
