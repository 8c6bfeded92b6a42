// Package guardian ties detection, tokenization and consent together to
// protect single fields and whole records.
package guardian

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/straja-ai/piiguard/internal/audit"
	"github.com/straja-ai/piiguard/internal/consent"
	plog "github.com/straja-ai/piiguard/internal/log"
	"github.com/straja-ai/piiguard/internal/policy"
	"github.com/straja-ai/piiguard/internal/redact"
	"github.com/straja-ai/piiguard/internal/safety"
	"github.com/straja-ai/piiguard/internal/telemetry"
	"github.com/straja-ai/piiguard/internal/tokenize"
)

const auditComponent = "guardian"

// Detector finds PII spans in text.
type Detector interface {
	Detect(text, lang string, minConfidence float64) ([]safety.PIIEntity, error)
}

// Tokenizer replaces PII spans with reversible tokens.
type Tokenizer interface {
	Tokenize(text string, entities []safety.PIIEntity) (string, tokenize.Map, error)
}

// stagedTokenizer is implemented by tokenizers that can hold back store
// writes until a field's result is final.
type stagedTokenizer interface {
	Prepare(text string, entities []safety.PIIEntity) (string, tokenize.Map, error)
	Commit(tokenize.Map)
}

// FieldResult is the outcome of protecting one field.
type FieldResult struct {
	Text     string             `json:"text"`
	Tokens   tokenize.Map       `json:"tokens"`
	Entities []safety.PIIEntity `json:"entities"`
	Level    policy.Level       `json:"level"`
}

// ConsentSnapshot is the consent state the guardian acted on.
type ConsentSnapshot struct {
	SubjectID string          `json:"subject_id"`
	Purpose   consent.Purpose `json:"purpose"`
	Granted   bool            `json:"granted"`
	CheckedAt time.Time       `json:"checked_at"`
	Error     string          `json:"error,omitempty"`
}

// Metadata describes what ProtectRecord did. Entities are keyed by field
// name; offsets refer to that field's original text.
type Metadata struct {
	RecordID        string                        `json:"record_id"`
	Entities        map[string][]safety.PIIEntity `json:"entities"`
	Tokens          tokenize.Map                  `json:"tokens"`
	LevelApplied    policy.Level                  `json:"level_applied"`
	AuditRefs       []string                      `json:"audit_refs,omitempty"`
	Consent         ConsentSnapshot               `json:"consent"`
	Errors          []*FieldError                 `json:"errors,omitempty"`
	FieldsProcessed []string                      `json:"fields_processed"`
}

// EntityCount sums entities over all fields.
func (m Metadata) EntityCount() int {
	n := 0
	for _, es := range m.Entities {
		n += len(es)
	}
	return n
}

// Guardian is safe for concurrent use as long as its collaborators are.
type Guardian struct {
	detector     Detector
	tokenizer    Tokenizer
	consent      consent.Store
	audit        audit.Logger
	log          *zap.Logger
	telemetry    *telemetry.Provider
	strict       policy.StrictTransformer
	fields       []string
	defaultLevel policy.Level
	purpose      consent.Purpose
	thresholds   policy.Thresholds
	language     string
	now          func() time.Time
}

// Option configures a Guardian.
type Option func(*Guardian)

func WithDetector(d Detector) Option               { return func(g *Guardian) { g.detector = d } }
func WithTokenizer(t Tokenizer) Option             { return func(g *Guardian) { g.tokenizer = t } }
func WithConsentStore(s consent.Store) Option      { return func(g *Guardian) { g.consent = s } }
func WithAudit(l audit.Logger) Option              { return func(g *Guardian) { g.audit = l } }
func WithLogger(l *zap.Logger) Option              { return func(g *Guardian) { g.log = l } }
func WithTelemetry(p *telemetry.Provider) Option   { return func(g *Guardian) { g.telemetry = p } }
func WithStrict(s policy.StrictTransformer) Option { return func(g *Guardian) { g.strict = s } }
func WithDefaultLevel(l policy.Level) Option       { return func(g *Guardian) { g.defaultLevel = l } }
func WithPurpose(p consent.Purpose) Option         { return func(g *Guardian) { g.purpose = p } }
func WithLanguage(lang string) Option              { return func(g *Guardian) { g.language = lang } }
func WithClock(now func() time.Time) Option        { return func(g *Guardian) { g.now = now } }

// WithFields sets the record fields ProtectRecord processes, in order.
func WithFields(names ...string) Option {
	return func(g *Guardian) { g.fields = append([]string(nil), names...) }
}

// WithThresholds overrides per-level minimum confidences. Levels not present
// keep their defaults.
func WithThresholds(t policy.Thresholds) Option {
	return func(g *Guardian) {
		for l, v := range t {
			g.thresholds[l] = v
		}
	}
}

// New builds a guardian. Unset collaborators default to the stock detector,
// a store-less tokenizer, an empty in-memory consent store and no-op audit,
// logging and telemetry.
func New(opts ...Option) (*Guardian, error) {
	g := &Guardian{
		defaultLevel: policy.LevelStandard,
		purpose:      consent.PurposeAnalysis,
		thresholds:   policy.DefaultThresholds(),
		language:     safety.DefaultLanguage,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.detector == nil {
		g.detector = safety.NewDetector(nil)
	}
	if g.tokenizer == nil {
		g.tokenizer = tokenize.New()
	}
	if g.consent == nil {
		g.consent = consent.NewMemoryStore()
	}
	if g.audit == nil {
		g.audit = audit.Nop()
	}
	g.log = plog.OrNop(g.log)
	if g.telemetry == nil {
		g.telemetry = telemetry.Disabled()
	}
	if g.strict == nil {
		g.strict = policy.NewNoopStrict()
	}

	if !g.defaultLevel.Valid() {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownLevel, g.defaultLevel)
	}
	for l, v := range g.thresholds {
		if !l.Valid() {
			return nil, fmt.Errorf("%w: threshold for %q", ErrUnknownLevel, l)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("threshold for %s must be within [0,1], got %v", l, v)
		}
	}
	if strings.TrimSpace(string(g.purpose)) == "" {
		return nil, fmt.Errorf("consent purpose is empty")
	}
	return g, nil
}

// Fields returns the configured record fields.
func (g *Guardian) Fields() []string { return append([]string(nil), g.fields...) }

func (g *Guardian) resolveLevel(l policy.Level) (policy.Level, error) {
	if l == "" {
		return g.defaultLevel, nil
	}
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, l)
	}
	return l, nil
}

// ProtectField sanitizes one text at the given level. Consent is not
// consulted. On error the returned result carries the input text unchanged.
func (g *Guardian) ProtectField(ctx context.Context, subjectID, text string, level policy.Level) (FieldResult, error) {
	level, err := g.resolveLevel(level)
	if err != nil {
		return FieldResult{Text: text}, err
	}
	unchanged := FieldResult{Text: text, Tokens: tokenize.Map{}, Level: level}
	if level == policy.LevelNone {
		return unchanged, nil
	}

	entities, err := g.detector.Detect(text, g.language, g.thresholds.For(level))
	if err != nil {
		return unchanged, fmt.Errorf("detect: %w", err)
	}
	if len(entities) == 0 {
		return unchanged, nil
	}

	prepare, commit := g.tokenizer.Tokenize, func(tokenize.Map) {}
	if st, ok := g.tokenizer.(stagedTokenizer); ok {
		prepare, commit = st.Prepare, st.Commit
	}

	sanitized, tokens, err := prepare(text, entities)
	if err != nil {
		return unchanged, fmt.Errorf("tokenize: %w", err)
	}

	if level == policy.LevelStrict {
		sanitized, err = g.strict.TransformStrict(ctx, sanitized)
		if err != nil {
			return unchanged, fmt.Errorf("strict transform: %w", err)
		}
	}
	commit(tokens)

	g.log.Debug("field protected",
		zap.String("level", string(level)),
		zap.Int("entities", len(entities)),
		zap.Bool("has_subject", subjectID != ""))
	return FieldResult{Text: sanitized, Tokens: tokens, Entities: entities, Level: level}, nil
}

func (g *Guardian) subjectOf(rec Record) string {
	if s, ok := rec.(Subjected); ok {
		if id := strings.TrimSpace(s.SubjectID()); id != "" {
			return id
		}
	}
	return rec.RecordID()
}

// ProtectRecord sanitizes the configured fields of rec when its subject has
// granted the base purpose. Without consent the record is returned as is
// with LevelApplied none; that is not an error. A field that fails is left
// untouched and reported in Metadata.Errors while the others continue.
func (g *Guardian) ProtectRecord(ctx context.Context, rec Record, level policy.Level) (Record, Metadata, error) {
	if rec == nil || strings.TrimSpace(rec.RecordID()) == "" {
		return rec, Metadata{}, ErrMissingIdentifier
	}
	level, err := g.resolveLevel(level)
	if err != nil {
		return rec, Metadata{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	ctx, span := g.telemetry.Tracer().Start(ctx, "guardian.ProtectRecord",
		trace.WithAttributes(telemetry.SafeAttributes(map[string]interface{}{
			"piiguard.level":   string(level),
			"piiguard.purpose": string(g.purpose),
			"piiguard.fields":  len(g.fields),
		})...))
	defer span.End()

	md := Metadata{
		RecordID:        rec.RecordID(),
		Entities:        map[string][]safety.PIIEntity{},
		Tokens:          tokenize.Map{},
		LevelApplied:    policy.LevelNone,
		FieldsProcessed: []string{},
	}
	md.Consent = g.checkConsent(ctx, g.subjectOf(rec))

	if !md.Consent.Granted {
		ev := audit.NewEvent(audit.EventRecordDenied, md.Consent.SubjectID, map[string]any{
			"record_id":       md.RecordID,
			"purpose":         string(g.purpose),
			"level_requested": string(level),
			"consent_granted": false,
		}, audit.StatusDenied, auditComponent)
		if ref := audit.Send(ctx, g.audit, g.log, ev); ref != "" {
			md.AuditRefs = append(md.AuditRefs, ref)
		}
		span.SetAttributes(attribute.String("piiguard.outcome", telemetry.OutcomeDenied))
		g.telemetry.RecordProtection(ctx, string(policy.LevelNone), telemetry.OutcomeDenied, nil, 0, msSince(start))
		return rec, md, nil
	}

	md.LevelApplied = level
	updated := make(map[string]string)
	for _, name := range g.fields {
		text, ok := rec.TextField(name)
		if !ok {
			continue
		}
		res, err := g.ProtectField(ctx, md.Consent.SubjectID, text, level)
		if err != nil {
			md.Errors = append(md.Errors, &FieldError{Field: name, Err: err})
			g.log.Warn("field left unprotected",
				zap.String("record_id", md.RecordID),
				zap.String("field", name),
				redact.Error(err))
			continue
		}
		md.FieldsProcessed = append(md.FieldsProcessed, name)
		if len(res.Entities) > 0 {
			md.Entities[name] = res.Entities
		}
		md.Tokens.Merge(res.Tokens)
		if res.Text != text {
			updated[name] = res.Text
		}
	}

	out := rec
	if len(updated) > 0 {
		out = rec.WithTextFields(updated)
	}

	outcome, status := telemetry.OutcomeProtected, audit.StatusSuccess
	if len(md.Errors) > 0 {
		outcome, status = telemetry.OutcomePartial, audit.StatusPartial
		span.SetStatus(codes.Error, fmt.Sprintf("%d field(s) left unprotected", len(md.Errors)))
	}

	counts := entityCounts(md.Entities)
	ev := audit.NewEvent(audit.EventRecordProtected, md.Consent.SubjectID, map[string]any{
		"record_id":        md.RecordID,
		"level":            string(level),
		"fields_processed": md.FieldsProcessed,
		"fields_failed":    failedFields(md.Errors),
		"entities_found":   md.EntityCount(),
		"entity_types":     counts,
		"tokens_created":   len(md.Tokens),
		"consent_granted":  true,
	}, status, auditComponent)
	if ref := audit.Send(ctx, g.audit, g.log, ev); ref != "" {
		md.AuditRefs = append(md.AuditRefs, ref)
	}

	span.SetAttributes(
		attribute.String("piiguard.outcome", outcome),
		attribute.Int("piiguard.entities", md.EntityCount()),
	)
	g.telemetry.RecordProtection(ctx, string(level), outcome, counts, len(md.Errors), msSince(start))
	return out, md, nil
}

// checkConsent fails closed: a store error counts as no consent.
func (g *Guardian) checkConsent(ctx context.Context, subjectID string) ConsentSnapshot {
	snap := ConsentSnapshot{
		SubjectID: subjectID,
		Purpose:   g.purpose,
		CheckedAt: g.now().UTC(),
	}
	granted, err := g.consent.Check(ctx, subjectID, g.purpose)
	if err != nil {
		snap.Error = redact.String(err.Error())
		g.log.Warn("consent check failed; treating as denied",
			zap.String("purpose", string(g.purpose)),
			redact.Error(err))
		return snap
	}
	snap.Granted = granted
	return snap
}

func entityCounts(byField map[string][]safety.PIIEntity) map[string]int {
	counts := map[string]int{}
	for _, es := range byField {
		for _, e := range es {
			counts[string(e.EntityType)]++
		}
	}
	return counts
}

func failedFields(errs []*FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	sort.Strings(out)
	return out
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
