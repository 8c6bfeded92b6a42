package safety

import "github.com/straja-ai/piiguard/internal/intel"

// PIIEntity is a detected span of personal data. Start and End are byte
// offsets into the scanned text, half-open: text[Start:End] == Text.
type PIIEntity struct {
	Text       string           `json:"text"`
	EntityType intel.EntityType `json:"entity_type"`
	Start      int              `json:"start"`
	End        int              `json:"end"`
	Confidence float64          `json:"confidence"`
	Method     string           `json:"detection_method"`
}

// Overlaps reports whether two entities share at least one byte.
func (e PIIEntity) Overlaps(o PIIEntity) bool {
	return e.Start < o.End && o.Start < e.End
}

// Len is the span length in bytes.
func (e PIIEntity) Len() int { return e.End - e.Start }
