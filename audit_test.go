package sessiongate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func waitForEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	te := newTestEngine(t, func(c *Config) { c.Audit.Enabled = false }, sink)

	_, _ = te.LoadSession(context.Background(), "")
	_ = te.Authorize(context.Background(), nil, "")
	te.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditDispatcherDropIfFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// first event blocks the worker, second fills the buffer, the rest drop
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "e"})
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}

	close(sink.gate)
	d.Close()
	d.Close()
	if d.Delivered()+d.Dropped() != 5 {
		t.Fatalf("delivered %d + dropped %d != 5", d.Delivered(), d.Dropped())
	}
}

func TestAuditDispatcherCloseDrains(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink)
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "e"})
	}
	d.Close()

	if sink.Count() != 50 {
		t.Fatalf("expected 50 delivered after close, got %d", sink.Count())
	}
	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	if sink.Count() != 50 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestAuditDenialCarriesReasonNotSessionID(t *testing.T) {
	sink := NewChannelSink(64)
	te := newTestEngine(t, func(c *Config) { c.Audit.Enabled = true }, sink)
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	_, _, sessionID := te.authenticatedSession(t, "u-1")
	sess, err := te.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	if err := te.Authorize(ctx, sess, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ev := waitForEvent(t, sink, auditEventAuthorizeDenied)
	if ev.Success || ev.Reason != DenyNoDeviceCookie || ev.Error != string(auditErrUnauthorized) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.IP != "203.0.113.7" || ev.UserID != "u-1" {
		t.Fatalf("missing context in event %+v", ev)
	}
	if ev.SessionID == "" || ev.SessionID == sessionID {
		t.Fatalf("event must carry a fingerprint, got %q", ev.SessionID)
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{EventType: "logout_session", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "logout_all", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil || ev.EventType != "logout_all" {
		t.Fatalf("unexpected line %q (%v)", lines[1], err)
	}
}

func TestLoggerSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLoggerSink(zerolog.New(&buf))

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventHandshakeRejected,
		Reason:    HandshakeReasonSessionNotFound,
		Metadata:  map[string]string{"k": "v"},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "warn" || line["reason"] != HandshakeReasonSessionNotFound || line["component"] != "audit" {
		t.Fatalf("unexpected log line %v", line)
	}
	if md, ok := line["metadata"].(map[string]any); !ok || md["k"] != "v" {
		t.Fatalf("metadata not logged: %v", line)
	}
}
