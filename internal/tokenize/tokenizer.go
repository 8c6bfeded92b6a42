// Package tokenize swaps detected PII spans for opaque placeholder tokens and
// puts the original values back later.
package tokenize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/straja-ai/piiguard/internal/safety"
)

// ErrInvalidEntity is returned when an entity does not describe a valid,
// non-overlapping span of the text being tokenized.
var ErrInvalidEntity = errors.New("invalid entity")

const (
	suffixLen   = 12
	maxAttempts = 16
)

// Tokenizer replaces entity spans with tokens shaped [ENTITYTYPE_suffix].
// Without a store it is stateless and safe for concurrent use; with a store,
// concurrent callers share that store's lock.
type Tokenizer struct {
	store     *Store
	newSuffix func() string
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithStore mirrors every created mapping into s so Detokenize and Original
// work without the returned map.
func WithStore(s *Store) Option {
	return func(t *Tokenizer) { t.store = s }
}

// WithSuffixFunc overrides the token suffix generator.
func WithSuffixFunc(fn func() string) Option {
	return func(t *Tokenizer) {
		if fn != nil {
			t.newSuffix = fn
		}
	}
}

// New returns a tokenizer.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{newSuffix: randomSuffix}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
}

// Store returns the backing store, or nil.
func (t *Tokenizer) Store() *Store { return t.store }

// Tokenize is Prepare followed by Commit.
func (t *Tokenizer) Tokenize(text string, entities []safety.PIIEntity) (string, Map, error) {
	out, tokens, err := t.Prepare(text, entities)
	if err != nil {
		return out, nil, err
	}
	t.Commit(tokens)
	return out, tokens, nil
}

// Prepare replaces each entity's span with a fresh token without touching
// the store. Entities are applied from the highest start offset down so
// earlier offsets stay valid. On error the text is returned unchanged.
func (t *Tokenizer) Prepare(text string, entities []safety.PIIEntity) (string, Map, error) {
	tokens := make(Map, len(entities))
	if len(entities) == 0 {
		return text, tokens, nil
	}

	ordered := make([]safety.PIIEntity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start > ordered[j].Start
	})

	if err := validateSpans(text, ordered); err != nil {
		return text, nil, err
	}

	out := text
	for _, e := range ordered {
		token, err := t.uniqueToken(string(e.EntityType), text, tokens)
		if err != nil {
			return text, nil, err
		}
		tokens[token] = e.Text
		out = out[:e.Start] + token + out[e.End:]
	}

	return out, tokens, nil
}

// Commit mirrors a prepared map into the store. It is a no-op without one.
func (t *Tokenizer) Commit(m Map) {
	if t.store != nil && len(m) > 0 {
		t.store.PutAll(m)
	}
}

func validateSpans(text string, ordered []safety.PIIEntity) error {
	for i, e := range ordered {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			return fmt.Errorf("%w: span [%d,%d) out of range for text of length %d", ErrInvalidEntity, e.Start, e.End, len(text))
		}
		if text[e.Start:e.End] != e.Text {
			return fmt.Errorf("%w: %s span [%d,%d) does not match entity text", ErrInvalidEntity, e.EntityType, e.Start, e.End)
		}
		if strings.TrimSpace(string(e.EntityType)) == "" {
			return fmt.Errorf("%w: span [%d,%d) has no entity type", ErrInvalidEntity, e.Start, e.End)
		}
		if i > 0 && e.End > ordered[i-1].Start {
			return fmt.Errorf("%w: span [%d,%d) overlaps [%d,%d)", ErrInvalidEntity, e.Start, e.End, ordered[i-1].Start, ordered[i-1].End)
		}
	}
	return nil
}

// uniqueToken returns a token unused in this run, in the store, and in the
// source text, so detokenizing never touches text that was not a token.
func (t *Tokenizer) uniqueToken(entityType, text string, used Map) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		token := "[" + entityType + "_" + t.newSuffix() + "]"
		if _, dup := used[token]; dup {
			continue
		}
		if t.store != nil && t.store.Has(token) {
			continue
		}
		if strings.Contains(text, token) {
			continue
		}
		return token, nil
	}
	return "", fmt.Errorf("could not generate a unique %s token after %d attempts", entityType, maxAttempts)
}

// Detokenize restores original values. It uses m when non-nil, otherwise the
// tokenizer's store; with neither, text is returned as is. Longer tokens are
// matched first so a token that prefixes another never wins.
func (t *Tokenizer) Detokenize(text string, m Map) string {
	if m == nil && t.store != nil {
		m = t.store.Snapshot()
	}
	return Restore(text, m)
}

// Restore replaces every token of m found in text with its original value in
// a single pass.
func Restore(text string, m Map) string {
	if len(m) == 0 || text == "" {
		return text
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Original looks a token up in the store. It reports false for unknown
// tokens and when no store is configured.
func (t *Tokenizer) Original(token string) (string, bool) {
	if t.store == nil {
		return "", false
	}
	return t.store.Get(token)
}

// Clear wipes the store. Maps already returned to callers keep working.
func (t *Tokenizer) Clear() {
	if t.store != nil {
		t.store.Clear()
	}
}

// Len is the number of tokens held in the store.
func (t *Tokenizer) Len() int {
	if t.store == nil {
		return 0
	}
	return t.store.Len()
}
