package safety

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/straja-ai/piiguard/internal/intel"
)

// DefaultLanguage is used when a caller passes an empty language.
const DefaultLanguage = "en"

// Detector applies a catalog to text. It holds a snapshot of the catalog's
// rules and is safe for concurrent use.
type Detector struct {
	rules     []intel.Rule
	languages []string
}

// NewDetector snapshots the catalog. A nil catalog means intel.DefaultCatalog().
func NewDetector(c *intel.Catalog) *Detector {
	if c == nil {
		c = intel.DefaultCatalog()
	}
	return &Detector{
		rules:     c.Rules(),
		languages: c.Languages(),
	}
}

// Detect returns the overlap-free entities in text whose confidence is at
// least minConfidence.
func (d *Detector) Detect(text, lang string, minConfidence float64) ([]PIIEntity, error) {
	return d.detect(text, lang, minConfidence, nil)
}

// DetectTypes is Detect restricted to the given entity types.
func (d *Detector) DetectTypes(text, lang string, minConfidence float64, types ...intel.EntityType) ([]PIIEntity, error) {
	if len(types) == 0 {
		return d.detect(text, lang, minConfidence, nil)
	}
	return d.detect(text, lang, minConfidence, types)
}

func (d *Detector) detect(text, lang string, minConfidence float64, only []intel.EntityType) ([]PIIEntity, error) {
	if err := d.checkLanguage(lang); err != nil {
		return nil, err
	}
	if math.IsNaN(minConfidence) || minConfidence < 0 || minConfidence > 1 {
		return nil, fmt.Errorf("%w: min confidence %v outside [0,1]", ErrInvalidInput, minConfidence)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
	}
	if text == "" {
		return nil, nil
	}

	var candidates []PIIEntity
	for _, r := range d.rules {
		if only != nil && !slices.Contains(only, r.Type) {
			continue
		}
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if start == end {
				continue
			}
			conf, ok := r.Evaluate(intel.NewCandidate(text, start, end))
			if !ok {
				continue
			}
			candidates = append(candidates, PIIEntity{
				Text:       text[start:end],
				EntityType: r.Type,
				Start:      start,
				End:        end,
				Confidence: conf,
				Method:     r.Method,
			})
		}
	}

	resolved := ResolveOverlaps(candidates)

	out := resolved[:0]
	for _, e := range resolved {
		if e.Confidence >= minConfidence {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// SupportedLanguages lists the base language codes this detector accepts.
func (d *Detector) SupportedLanguages() []string {
	return slices.Clone(d.languages)
}

func (d *Detector) checkLanguage(lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = DefaultLanguage
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	base, _ := tag.Base()
	if !slices.Contains(d.languages, base.String()) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return nil
}

// ResolveOverlaps sorts candidates by start offset and scans left to right;
// of two overlapping candidates the one with higher confidence survives, and
// on a tie the one seen first is kept. The input slice is not modified.
func ResolveOverlaps(candidates []PIIEntity) []PIIEntity {
	if len(candidates) == 0 {
		return nil
	}
	sorted := slices.Clone(candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]PIIEntity, 0, len(sorted))
	for _, c := range sorted {
		if len(out) == 0 {
			out = append(out, c)
			continue
		}
		last := &out[len(out)-1]
		if !last.Overlaps(c) {
			out = append(out, c)
			continue
		}
		if c.Confidence > last.Confidence {
			*last = c
		}
	}
	return out
}
