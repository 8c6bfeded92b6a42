// Package consent records, per subject and purpose, whether processing is
// currently permitted.
package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/piiguard/internal/audit"
)

// Purpose names a reason for processing personal data.
type Purpose string

const (
	PurposeAnalysis      Purpose = "analysis"
	PurposeEmailAnalysis Purpose = "email_analysis"
	PurposeLLMProcessing Purpose = "llm_processing"
	PurposeDataStorage   Purpose = "data_storage"
	PurposeProfiling     Purpose = "profiling"
)

// Purposes lists the built-in purposes. Stores accept any non-empty purpose.
var Purposes = []Purpose{
	PurposeAnalysis,
	PurposeEmailAnalysis,
	PurposeLLMProcessing,
	PurposeDataStorage,
	PurposeProfiling,
}

const auditComponent = "consent_store"

var (
	// ErrInvalidDuration is returned by Grant for a negative duration.
	ErrInvalidDuration = errors.New("consent duration must not be negative")
	// ErrMissingKey is returned by Grant when the subject or purpose is empty.
	ErrMissingKey = errors.New("consent subject and purpose are required")
)

// Record is the consent state for one (subject, purpose) pair. RevokedAt is
// set once a granted record is revoked; a later grant clears it.
type Record struct {
	SubjectID string            `json:"subject_id"`
	Purpose   Purpose           `json:"purpose"`
	Granted   bool              `json:"granted"`
	GrantedAt time.Time         `json:"granted_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	RevokedAt *time.Time        `json:"revoked_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Active reports whether the record permits processing at now.
func (r Record) Active(now time.Time) bool {
	if !r.Granted {
		return false
	}
	return r.ExpiresAt == nil || !now.After(*r.ExpiresAt)
}

// GrantOptions tune a grant. A zero Duration never expires.
type GrantOptions struct {
	Duration time.Duration
	Source   string
	Extra    map[string]string
}

// Store is a consent backend. Check never errors for unknown pairs; it
// returns false.
type Store interface {
	Grant(ctx context.Context, subjectID string, purpose Purpose, opts GrantOptions) error
	Revoke(ctx context.Context, subjectID string, purpose Purpose) error
	Check(ctx context.Context, subjectID string, purpose Purpose) (bool, error)
	Get(ctx context.Context, subjectID string, purpose Purpose) (Record, bool, error)
	Clear(ctx context.Context) error
}

// Option configures either store implementation.
type Option func(*tracker)

// WithAudit sends one event per Grant, Revoke and Clear to l.
func WithAudit(l audit.Logger) Option {
	return func(t *tracker) {
		if l != nil {
			t.audit = l
		}
	}
}

// WithLogger sets the logger used for local diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(t *tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// tracker is the clock and audit plumbing shared by both stores.
type tracker struct {
	audit audit.Logger
	log   *zap.Logger
	now   func() time.Time
}

func newTracker(opts []Option) tracker {
	t := tracker{
		audit: audit.Nop(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func (t tracker) clock() time.Time { return t.now().UTC() }

func (t tracker) emit(ctx context.Context, eventType, subjectID string, details map[string]any) {
	audit.Send(ctx, t.audit, t.log, audit.NewEvent(eventType, subjectID, details, audit.StatusSuccess, auditComponent))
}

func (t tracker) grantEvent(ctx context.Context, r Record) {
	details := map[string]any{"purpose": string(r.Purpose)}
	if r.ExpiresAt != nil {
		details["expires_at"] = r.ExpiresAt.Format(time.RFC3339)
	}
	if src := r.Metadata["source"]; src != "" {
		details["source"] = src
	}
	t.emit(ctx, audit.EventConsentGranted, r.SubjectID, details)
}

func (t tracker) revokeEvent(ctx context.Context, subjectID string, purpose Purpose, hadGrant bool) {
	t.emit(ctx, audit.EventConsentRevoked, subjectID, map[string]any{
		"purpose":   string(purpose),
		"had_grant": hadGrant,
	})
}

func (t tracker) clearEvent(ctx context.Context, removed int64) {
	t.emit(ctx, audit.EventConsentCleared, "", map[string]any{"records_removed": removed})
}

func checkKey(subjectID string, purpose Purpose) error {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(string(purpose)) == "" {
		return ErrMissingKey
	}
	return nil
}

// newGrant builds the record a grant at now produces.
func newGrant(subjectID string, purpose Purpose, opts GrantOptions, now time.Time) (Record, error) {
	if err := checkKey(subjectID, purpose); err != nil {
		return Record{}, err
	}
	if opts.Duration < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidDuration, opts.Duration)
	}

	r := Record{
		SubjectID: subjectID,
		Purpose:   purpose,
		Granted:   true,
		GrantedAt: now,
	}
	if opts.Duration > 0 {
		exp := now.Add(opts.Duration)
		r.ExpiresAt = &exp
	}
	if opts.Source != "" || len(opts.Extra) > 0 {
		r.Metadata = make(map[string]string, len(opts.Extra)+1)
		for k, v := range opts.Extra {
			r.Metadata[k] = v
		}
		if opts.Source != "" {
			r.Metadata["source"] = opts.Source
		}
	}
	return r, nil
}

func cloneRecord(r Record) Record {
	out := r
	if r.ExpiresAt != nil {
		v := *r.ExpiresAt
		out.ExpiresAt = &v
	}
	if r.RevokedAt != nil {
		v := *r.RevokedAt
		out.RevokedAt = &v
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
