package intel

import "regexp"

const (
	catalogID      = "piiguard-catalog"
	catalogVersion = "1.0.0"
)

var commonTLDs = []string{
	"com", "org", "net", "edu", "gov", "mil", "int",
	"io", "co", "info", "biz", "us", "uk", "de", "fr", "ca", "au",
}

var (
	emailPattern = regexp.MustCompile(
		`[\p{L}\p{N}][\p{L}\p{M}\p{N}._%+\-]*@[A-Za-z0-9](?:[A-Za-z0-9\-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9\-]*[A-Za-z0-9])?)*\.[A-Za-z]{2,}`,
	)
	phonePattern = regexp.MustCompile(
		`(?:\+?1[\s.\-]?)?(?:\(\d{3}\)|\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}`,
	)
	phoneFormatted = regexp.MustCompile(
		`^(?:\+?1[\s.\-]?)?(?:\(\d{3}\) ?\d{3}-\d{4}|\d{3}-\d{3}-\d{4}|\d{3}\.\d{3}\.\d{4})$`,
	)
	cardPattern = regexp.MustCompile(
		`\b(?:\d{4}(?: \d{4}){3}(?: \d{3})?|\d{4}(?:-\d{4}){3}(?:-\d{3})?|\d{4}[ \-]\d{6}[ \-]\d{4,5}|\d{13,19})`,
	)
	ssnPattern = regexp.MustCompile(
		`\b\d{3}(?:-\d{2}-|\s\d{2}\s)\d{4}`,
	)
	ipPattern = regexp.MustCompile(
		`\b\d{1,3}(?:\.\d{1,3}){3,}`,
	)
	ibanPattern = regexp.MustCompile(
		`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`,
	)
)

// DefaultCatalog returns the built-in English catalog. Each call returns a
// fresh catalog so callers may register extra rules without affecting others.
func DefaultCatalog() *Catalog {
	c := NewCatalog(catalogID, catalogVersion, "en")
	return c.MustRegister(
		Rule{
			Type:           EntityEmail,
			Pattern:        emailPattern,
			BaseConfidence: 0.85,
			Validators: []Validator{
				RejectPathContext(),
				EmailStructure(commonTLDs, 0.10),
			},
		},
		Rule{
			Type:           EntityPhone,
			Pattern:        phonePattern,
			BaseConfidence: 0.70,
			Validators: []Validator{
				RejectAdjacentDigits(),
				RejectPrecededByLetter(),
				RejectFollowedByLetter(),
				RejectUnbalancedParens(),
				BoostFormat(phoneFormatted, 0.15),
			},
		},
		Rule{
			Type:           EntityCreditCard,
			Pattern:        cardPattern,
			BaseConfidence: 0.50,
			Validators: []Validator{
				RejectAdjacentDigits(),
				RejectFollowedByLetter(),
				CardChecksum(0.45),
			},
		},
		Rule{
			Type:           EntitySSN,
			Pattern:        ssnPattern,
			BaseConfidence: 0.85,
			Validators: []Validator{
				RejectAdjacentDigits(),
				RejectFollowedByLetter(),
				SSNStructure(),
			},
		},
		Rule{
			Type:           EntityIPAddress,
			Pattern:        ipPattern,
			BaseConfidence: 0.80,
			Validators: []Validator{
				RejectAdjacentDigits(),
				RejectPrecededByLetter(),
				IPv4Structure(),
				RejectNearKeywords("version", "versions", "software", "firmware", "release"),
			},
		},
		Rule{
			Type:           EntityIBAN,
			Pattern:        ibanPattern,
			BaseConfidence: 0.60,
			Validators: []Validator{
				IBANChecksum(0.35),
			},
		},
	)
}
