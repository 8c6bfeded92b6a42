// Package audit records compliance-relevant events (consent changes,
// protected records) and hands them to pluggable sinks.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/straja-ai/piiguard/internal/redact"
)

// Event types.
const (
	EventConsentGranted  = "consent_granted"
	EventConsentRevoked  = "consent_revoked"
	EventConsentCleared  = "consent_cleared"
	EventRecordProtected = "record_protected"
	EventRecordDenied    = "record_denied"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusDenied  = "denied"
)

var (
	// ErrQueueFull is returned by Emitter.LogEvent when the event was dropped.
	ErrQueueFull = errors.New("audit queue full")
	// ErrClosed is returned after the emitter has been closed.
	ErrClosed = errors.New("audit emitter closed")
)

// Event is one audit entry. Details must never carry raw PII: callers put
// counts, types and token names there, not original values.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	SubjectID string         `json:"subject_id,omitempty"`
	Component string         `json:"component"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEvent builds an event with a fresh id and the current UTC time.
func NewEvent(eventType, subjectID string, details map[string]any, status, component string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SubjectID: subjectID,
		Component: component,
		Status:    status,
		Details:   details,
	}
}

// Logger accepts audit events. Implementations must not block the caller for
// long; the pipeline treats every error as non-fatal.
type Logger interface {
	LogEvent(ctx context.Context, ev *Event) error
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(ctx context.Context, ev *Event) error

func (f LoggerFunc) LogEvent(ctx context.Context, ev *Event) error { return f(ctx, ev) }

type nop struct{}

func (nop) LogEvent(context.Context, *Event) error { return nil }

// Nop returns a Logger that discards events.
func Nop() Logger { return nop{} }

// Send emits ev and returns its id. Failures are logged to log and reported
// as an empty id; they never propagate.
func Send(ctx context.Context, l Logger, log *zap.Logger, ev *Event) string {
	if l == nil || ev == nil {
		return ""
	}
	if err := l.LogEvent(ctx, ev); err != nil {
		if log != nil {
			log.Warn("audit event not recorded",
				zap.String("event_type", ev.Type),
				zap.String("component", ev.Component),
				redact.Error(err))
		}
		return ""
	}
	return ev.ID
}
