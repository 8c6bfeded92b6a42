package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/piiguard/internal/audit"
	"github.com/straja-ai/piiguard/internal/config"
	"github.com/straja-ai/piiguard/internal/consent"
	"github.com/straja-ai/piiguard/internal/guardian"
	"github.com/straja-ai/piiguard/internal/intel"
	"github.com/straja-ai/piiguard/internal/policy"
	"github.com/straja-ai/piiguard/internal/safety"
	"github.com/straja-ai/piiguard/internal/telemetry"
	"github.com/straja-ai/piiguard/internal/tokenize"
)

// app holds the components built from one config. Close releases them in
// reverse order of construction.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	catalog   *intel.Catalog
	detector  *safety.Detector
	tokenizer *tokenize.Tokenizer
	consent   consent.Store
	emitter   *audit.Emitter
	telemetry *telemetry.Provider
	guardian  *guardian.Guardian

	closers []func(context.Context)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close(ctx)
		}
	}()

	catalog, err := buildCatalog(cfg.Detection)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog
	a.detector = safety.NewDetector(catalog)

	var tokOpts []tokenize.Option
	if cfg.Tokenizer.RetainStore {
		tokOpts = append(tokOpts, tokenize.WithStore(tokenize.NewStore()))
	}
	a.tokenizer = tokenize.New(tokOpts...)

	sinks, err := buildSinks(cfg.Audit)
	if err != nil {
		return nil, err
	}
	a.emitter = audit.NewEmitter(audit.EmitterConfig{
		QueueSize:       cfg.Audit.QueueSize,
		Workers:         cfg.Audit.Workers,
		ShutdownTimeout: time.Duration(cfg.Audit.ShutdownTimeoutMs) * time.Millisecond,
		Logger:          logger,
	}, sinks)
	a.closers = append(a.closers, a.emitter.Close)

	store, err := buildConsentStore(cfg.Consent, a.emitter, logger)
	if err != nil {
		return nil, err
	}
	a.consent = store
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func(context.Context) {
			if err := c.Close(); err != nil {
				logger.Warn("closing consent store failed", zap.Error(err))
			}
		})
	}

	a.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.ServiceName,
		Version:  version,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	level, err := policy.ParseLevel(cfg.Guardian.DefaultLevel)
	if err != nil {
		return nil, err
	}
	thresholds := policy.Thresholds{}
	for name, v := range cfg.Guardian.Thresholds {
		l, err := policy.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("guardian.thresholds: %w", err)
		}
		thresholds[l] = v
	}

	a.guardian, err = guardian.New(
		guardian.WithDetector(a.detector),
		guardian.WithTokenizer(a.tokenizer),
		guardian.WithConsentStore(a.consent),
		guardian.WithAudit(a.emitter),
		guardian.WithLogger(logger),
		guardian.WithTelemetry(a.telemetry),
		guardian.WithFields(cfg.Guardian.Fields...),
		guardian.WithDefaultLevel(level),
		guardian.WithPurpose(consent.Purpose(cfg.Guardian.Purpose)),
		guardian.WithThresholds(thresholds),
		guardian.WithLanguage(cfg.Detection.Language),
	)
	if err != nil {
		return nil, fmt.Errorf("guardian: %w", err)
	}

	ok = true
	return a, nil
}

// Close flushes audit events and releases the consent store.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func buildCatalog(d config.DetectionConfig) (*intel.Catalog, error) {
	catalog := intel.DefaultCatalog()
	if len(d.Entities) == 0 {
		return catalog, nil
	}
	overrides := make(map[intel.EntityType]intel.Override, len(d.Entities))
	for name, e := range d.Entities {
		overrides[intel.EntityType(strings.ToUpper(strings.TrimSpace(name)))] = intel.Override{
			Enabled:        e.Enabled,
			BaseConfidence: e.BaseConfidence,
		}
	}
	out, err := catalog.WithOverrides(overrides)
	if err != nil {
		return nil, fmt.Errorf("detection.entities: %w", err)
	}
	return out, nil
}

func buildSinks(a config.AuditConfig) ([]audit.Sink, error) {
	return openSinks(a.Sinks, newSink)
}

// openSinks builds every configured sink. If one fails, the sinks already
// opened are closed before the error is returned.
func openSinks(defs []config.AuditSinkConfig, open func(config.AuditSinkConfig) (audit.Sink, error)) ([]audit.Sink, error) {
	sinks := make([]audit.Sink, 0, len(defs))
	for i, def := range defs {
		s, err := open(def)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close(context.Background())
			}
			return nil, fmt.Errorf("audit sink %d: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func newSink(def config.AuditSinkConfig) (audit.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(def.Type)) {
	case "file_jsonl":
		fs, err := audit.NewFileSink(def.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "webhook":
		ws, err := audit.NewWebhookSink(def.URL, def.Headers, time.Duration(def.TimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return ws, nil
	default:
		return nil, fmt.Errorf("unknown type %q", def.Type)
	}
}

func buildConsentStore(c config.ConsentConfig, auditLog audit.Logger, logger *zap.Logger) (consent.Store, error) {
	opts := []consent.Option{consent.WithAudit(auditLog), consent.WithLogger(logger)}
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", "memory":
		return consent.NewMemoryStore(opts...), nil
	case "sqlite":
		s, err := consent.NewSQLiteStore(c.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("consent store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown consent backend %q", c.Backend)
	}
}
