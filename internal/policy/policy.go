package policy

import (
	"context"
	"fmt"
	"strings"
)

// Level is a protection tier. Levels form a total order of increasing
// sanitization: none < basic < standard < strict. The zero value means
// "use the configured default".
type Level string

const (
	LevelNone     Level = "none"
	LevelBasic    Level = "basic"
	LevelStandard Level = "standard"
	LevelStrict   Level = "strict"
)

// Levels lists every level in ascending order.
var Levels = []Level{LevelNone, LevelBasic, LevelStandard, LevelStrict}

// Rank returns the level's position in the order, or -1 if it is unknown.
func (l Level) Rank() int {
	switch l {
	case LevelNone:
		return 0
	case LevelBasic:
		return 1
	case LevelStandard:
		return 2
	case LevelStrict:
		return 3
	}
	return -1
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool { return l.Rank() >= 0 }

// AtLeast reports whether l is as aggressive as o.
func (l Level) AtLeast(o Level) bool { return l.Rank() >= o.Rank() }

func (l Level) String() string { return string(l) }

// ParseLevel accepts a level name in any case. An empty string yields the
// zero Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if l == "" || l.Valid() {
		return l, nil
	}
	return "", fmt.Errorf("unknown protection level %q", s)
}

// Thresholds maps each detecting level to the minimum confidence an entity
// needs to be tokenized at that level.
type Thresholds map[Level]float64

// DefaultThresholds returns the stock per-level thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LevelBasic:    0.8,
		LevelStandard: 0.5,
		LevelStrict:   0.3,
	}
}

// For returns the threshold configured for l, falling back to the stock value.
func (t Thresholds) For(l Level) float64 {
	if v, ok := t[l]; ok {
		return v
	}
	return DefaultThresholds()[l]
}

// StrictTransformer runs on a field's tokenized text when the strict level is
// applied. It must return either a complete replacement or an error; the
// caller discards the field's result on error.
type StrictTransformer interface {
	TransformStrict(ctx context.Context, text string) (string, error)
}

// StrictFunc adapts a function to StrictTransformer.
type StrictFunc func(ctx context.Context, text string) (string, error)

func (f StrictFunc) TransformStrict(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// noopStrict is the default strict strategy: strict behaves like standard
// with its lower threshold.
type noopStrict struct{}

// NewNoopStrict returns a strict transformer that leaves text unchanged.
func NewNoopStrict() StrictTransformer {
	return noopStrict{}
}

func (noopStrict) TransformStrict(ctx context.Context, text string) (string, error) {
	return text, nil
}
