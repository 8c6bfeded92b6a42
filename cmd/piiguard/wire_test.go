package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/piiguard/internal/audit"
	"github.com/straja-ai/piiguard/internal/config"
)

type trackedSink struct {
	name   string
	closed bool
}

func (s *trackedSink) Name() string                                { return s.name }
func (s *trackedSink) Deliver(context.Context, *audit.Event) error { return nil }
func (s *trackedSink) Close(context.Context) error {
	s.closed = true
	return nil
}

func TestOpenSinksClosesOpenedSinksOnFailure(t *testing.T) {
	var opened []*trackedSink
	open := func(def config.AuditSinkConfig) (audit.Sink, error) {
		if def.Type == "broken" {
			return nil, errors.New("cannot open")
		}
		s := &trackedSink{name: def.Path}
		opened = append(opened, s)
		return s, nil
	}

	sinks, err := openSinks([]config.AuditSinkConfig{
		{Type: "file_jsonl", Path: "a"},
		{Type: "file_jsonl", Path: "b"},
		{Type: "broken"},
	}, open)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit sink 2")
	assert.Nil(t, sinks)
	require.Len(t, opened, 2)
	for _, s := range opened {
		assert.True(t, s.closed, "sink %s left open", s.name)
	}
}

func TestBuildSinks(t *testing.T) {
	dir := t.TempDir()
	sinks, err := buildSinks(config.AuditConfig{Sinks: []config.AuditSinkConfig{
		{Type: "file_jsonl", Path: filepath.Join(dir, "audit.jsonl")},
		{Type: "webhook", URL: "http://127.0.0.1:9/events"},
	}})
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	for _, s := range sinks {
		assert.NoError(t, s.Close(context.Background()))
	}

	_, err = buildSinks(config.AuditConfig{Sinks: []config.AuditSinkConfig{
		{Type: "file_jsonl", Path: filepath.Join(dir, "second.jsonl")},
		{Type: "webhook"},
	}})
	assert.Error(t, err, "webhook without url")

	_, err = buildSinks(config.AuditConfig{Sinks: []config.AuditSinkConfig{{Type: "syslog"}}})
	assert.ErrorContains(t, err, "unknown type")
}
