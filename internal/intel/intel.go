package intel

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
)

// EntityType names a category of personal data the catalog can detect.
type EntityType string

const (
	EntityEmail      EntityType = "EMAIL_ADDRESS"
	EntityPhone      EntityType = "PHONE_NUMBER"
	EntityCreditCard EntityType = "CREDIT_CARD"
	EntitySSN        EntityType = "US_SSN"
	EntityIPAddress  EntityType = "IP_ADDRESS"
	EntityIBAN       EntityType = "IBAN_CODE"
)

// MethodPattern is the detection method recorded for regex-backed rules.
const MethodPattern = "pattern"

// Status describes the catalog in use.
type Status struct {
	Enabled       bool
	BundleID      string
	BundleVersion string
	Entities      []EntityType
}

// Rule binds an entity type to its matcher, base confidence and context
// validators. Validators run in order; the first rejection wins.
type Rule struct {
	Type           EntityType
	Pattern        *regexp.Regexp
	BaseConfidence float64
	Validators     []Validator
	Method         string
}

// Evaluate runs the rule's validators against a candidate and returns the
// adjusted confidence, clamped to [0,1]. ok is false when a validator vetoed
// the match.
func (r Rule) Evaluate(c Candidate) (confidence float64, ok bool) {
	confidence = r.BaseConfidence
	for _, v := range r.Validators {
		verdict := v(c)
		if verdict.Reject {
			return 0, false
		}
		confidence += verdict.Adjust
	}
	return Clamp(confidence), true
}

// Override adjusts a registered rule without touching its matcher.
type Override struct {
	Enabled        *bool
	BaseConfidence *float64
}

// Catalog is a registry of detection rules. Register everything before the
// catalog is handed to a detector; detectors take a snapshot of the rules.
type Catalog struct {
	id        string
	version   string
	rules     []Rule
	languages []string
}

// NewCatalog returns an empty catalog supporting the given base languages.
func NewCatalog(id, version string, languages ...string) *Catalog {
	langs := make([]string, 0, len(languages))
	for _, l := range languages {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	return &Catalog{id: id, version: version, languages: langs}
}

// Register adds a rule. Registering the same entity type twice is an error.
func (c *Catalog) Register(r Rule) error {
	if strings.TrimSpace(string(r.Type)) == "" {
		return fmt.Errorf("rule entity type is empty")
	}
	if r.Pattern == nil {
		return fmt.Errorf("rule %s has no pattern", r.Type)
	}
	if math.IsNaN(r.BaseConfidence) || r.BaseConfidence < 0 || r.BaseConfidence > 1 {
		return fmt.Errorf("rule %s base confidence %.2f outside [0,1]", r.Type, r.BaseConfidence)
	}
	if _, ok := c.Rule(r.Type); ok {
		return fmt.Errorf("rule %s already registered", r.Type)
	}
	if r.Method == "" {
		r.Method = MethodPattern
	}
	r.Validators = slices.Clone(r.Validators)
	c.rules = append(c.rules, r)
	return nil
}

// MustRegister is Register for static tables; it panics on error.
func (c *Catalog) MustRegister(rules ...Rule) *Catalog {
	for _, r := range rules {
		if err := c.Register(r); err != nil {
			panic(err)
		}
	}
	return c
}

// Rule looks up the rule for an entity type.
func (c *Catalog) Rule(t EntityType) (Rule, bool) {
	for _, r := range c.rules {
		if r.Type == t {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the registered rules in registration order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Languages returns the supported base language codes.
func (c *Catalog) Languages() []string {
	return slices.Clone(c.languages)
}

// Supports reports whether the base language code is supported.
func (c *Catalog) Supports(base string) bool {
	return slices.Contains(c.languages, strings.ToLower(base))
}

func (c *Catalog) Status() Status {
	types := make([]EntityType, 0, len(c.rules))
	for _, r := range c.rules {
		types = append(types, r.Type)
	}
	return Status{
		Enabled:       len(c.rules) > 0,
		BundleID:      c.id,
		BundleVersion: c.version,
		Entities:      types,
	}
}

// WithOverrides returns a new catalog with overrides applied. Disabled rules
// are dropped; unknown entity types are an error.
func (c *Catalog) WithOverrides(overrides map[EntityType]Override) (*Catalog, error) {
	for t := range overrides {
		if _, ok := c.Rule(t); !ok {
			return nil, fmt.Errorf("override for unknown entity type %s", t)
		}
	}

	out := NewCatalog(c.id, c.version, c.languages...)
	for _, r := range c.rules {
		o, ok := overrides[r.Type]
		if ok && o.Enabled != nil && !*o.Enabled {
			continue
		}
		if ok && o.BaseConfidence != nil {
			r.BaseConfidence = *o.BaseConfidence
		}
		if err := out.Register(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clamp bounds a confidence to [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
