package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewEvent(t *testing.T) {
	ev := NewEvent(EventConsentGranted, "u1", map[string]any{"purpose": "analysis"}, StatusSuccess, "consent")
	if ev.ID == "" {
		t.Fatalf("expected event id")
	}
	if ev.Timestamp.IsZero() || ev.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", ev.Timestamp)
	}
	other := NewEvent(EventConsentGranted, "u1", nil, StatusSuccess, "consent")
	if other.ID == ev.ID {
		t.Fatalf("event ids should be unique")
	}
}

func TestSendSwallowsErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := LoggerFunc(func(context.Context, *Event) error {
		return errors.New("sink down for subject bob@example.com")
	})

	ev := NewEvent(EventRecordProtected, "u1", nil, StatusSuccess, "guardian")
	if id := Send(context.Background(), failing, zap.New(core), ev); id != "" {
		t.Fatalf("expected empty id on failure, got %q", id)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if msg, _ := entry.ContextMap()["error"].(string); strings.Contains(msg, "bob@example.com") {
		t.Fatalf("logged error leaks an email: %q", msg)
	}

	if id := Send(context.Background(), Nop(), nil, ev); id != ev.ID {
		t.Fatalf("expected event id %q, got %q", ev.ID, id)
	}
	if id := Send(context.Background(), nil, nil, ev); id != "" {
		t.Fatalf("nil logger should yield empty id")
	}
}

func TestFileSinkWritesJSONL(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "audit.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}

	ev1 := NewEvent(EventConsentGranted, "u1", map[string]any{"purpose": "analysis"}, StatusSuccess, "consent")
	ev2 := NewEvent(EventConsentRevoked, "u1", map[string]any{"purpose": "analysis"}, StatusSuccess, "consent")

	if err := sink.Deliver(context.Background(), ev1); err != nil {
		t.Fatalf("deliver 1: %v", err)
	}
	if err := sink.Deliver(context.Background(), ev2); err != nil {
		t.Fatalf("deliver 2: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close sink: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sink.Deliver(context.Background(), ev1); err == nil {
		t.Fatalf("expected error delivering to closed sink")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("unmarshal jsonl line: %v", err)
	}
	if decoded.ID != ev1.ID || decoded.Type != EventConsentGranted {
		t.Fatalf("unexpected first event: %+v", decoded)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("audit file should be owner-only, got %v", perm)
	}
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var attempts int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("fail"))
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Test": "1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	sink.backoffs = []time.Duration{time.Millisecond, time.Millisecond}

	ev := NewEvent(EventRecordProtected, "u1", nil, StatusSuccess, "guardian")
	if err := sink.Deliver(context.Background(), ev); err == nil {
		t.Fatalf("expected non-2xx to return error")
	} else if !strings.Contains(err.Error(), "status") {
		t.Fatalf("error should mention status, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookSinkDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	sink.backoffs = []time.Duration{time.Millisecond, time.Millisecond}

	if err := sink.Deliver(context.Background(), NewEvent(EventRecordDenied, "u1", nil, StatusDenied, "guardian")); err == nil {
		t.Fatalf("expected 401 to return error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestWebhookSinkSendsHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Tenant": "acme"}, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := NewEvent(EventConsentCleared, "", nil, StatusSuccess, "consent")
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := <-headers
	if got.Get(EventIDHeader) != ev.ID || got.Get("X-Tenant") != "acme" {
		t.Fatalf("headers not forwarded: %v", got)
	}
}

func TestNewWebhookSinkRequiresURL(t *testing.T) {
	if _, err := NewWebhookSink("", nil, 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	wait := make(chan struct{})
	sink := &blockingSink{wait: wait}
	em := NewEmitter(EmitterConfig{QueueSize: 1, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})

	ev := NewEvent(EventRecordProtected, "u1", nil, StatusSuccess, "guardian")
	var dropped int
	for i := 0; i < 3; i++ {
		if err := em.LogEvent(context.Background(), ev); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}

	stats := em.Stats()
	if stats.Dropped == 0 || dropped == 0 {
		t.Fatalf("expected dropped events when queue is full")
	}
	if stats.Dropped != uint64(dropped) {
		t.Fatalf("dropped counter %d, want %d", stats.Dropped, dropped)
	}

	close(wait)
	em.Close(context.Background())

	if err := em.LogEvent(context.Background(), ev); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestEmitterWebhookIntegration(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})
	defer em.Close(context.Background())

	for i := 0; i < 5; i++ {
		ev := NewEvent(EventRecordProtected, "u1", map[string]any{"entities_found": i}, StatusSuccess, "guardian")
		if err := em.LogEvent(context.Background(), ev); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for webhook events, got %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stats := em.Stats()
	if stats.Enqueued != 5 {
		t.Fatalf("expected 5 enqueued events, got %d", stats.Enqueued)
	}
	if stats.Dropped != 0 || stats.Failed[sink.Name()] != 0 {
		t.Fatalf("did not expect drops or failures: %+v", stats)
	}
}

type ctxSink struct {
	fail    bool
	aborted atomic.Bool
}

func (s *ctxSink) Name() string { return "ctx" }

func (s *ctxSink) Deliver(ctx context.Context, _ *Event) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	<-ctx.Done()
	s.aborted.Store(true)
	return ctx.Err()
}

func (s *ctxSink) Close(context.Context) error { return nil }

func TestEmitterCountsSinkFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &ctxSink{fail: true}
	em := NewEmitter(EmitterConfig{Logger: zap.New(core)}, []Sink{sink})

	for i := 0; i < 3; i++ {
		if err := em.LogEvent(context.Background(), NewEvent(EventRecordDenied, "u1", nil, StatusDenied, "guardian")); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}
	em.Close(context.Background())

	stats := em.Stats()
	if stats.Failed["ctx"] != 3 || stats.Delivered["ctx"] != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if n := logs.FilterMessage("audit: delivery failed").Len(); n != 3 {
		t.Fatalf("expected 3 delivery warnings, got %d", n)
	}
}

func TestEmitterCloseAbortsStuckDelivery(t *testing.T) {
	sink := &ctxSink{}
	em := NewEmitter(EmitterConfig{ShutdownTimeout: 50 * time.Millisecond}, []Sink{sink})
	if err := em.LogEvent(context.Background(), NewEvent(EventRecordProtected, "u1", nil, StatusSuccess, "guardian")); err != nil {
		t.Fatalf("log event: %v", err)
	}

	start := time.Now()
	em.Close(context.Background())
	if time.Since(start) > time.Second {
		t.Fatalf("close took too long")
	}

	deadline := time.Now().Add(time.Second)
	for !sink.aborted.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight delivery was not cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type blockingSink struct {
	wait chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, *Event) error {
	<-s.wait
	return nil
}

func (s *blockingSink) Close(context.Context) error {
	if s.wait != nil {
		select {
		case <-s.wait:
		default:
			close(s.wait)
		}
	}
	return nil
}

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
