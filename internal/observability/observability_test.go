package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/timetracker/internal/actorctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestClassifyDBErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: "unique_violation"},
		{name: "fk", err: &pgconn.PgError{Code: "23503"}, want: "foreign_key_violation"},
		{name: "other_pg", err: &pgconn.PgError{Code: "42P01"}, want: "pg_42P01"},
		{name: "timeout", err: context.DeadlineExceeded, want: "timeout"},
		{name: "connection", err: errors.New("failed to connect: connection refused"), want: "connection"},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDBErr(tt.err); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObserveDB_CountsErrorsButNotMissingRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	_ = p.ObserveDB("users.get", func() error { return pgx.ErrNoRows })
	_ = p.ObserveDB("users.get", func() error { return &pgconn.PgError{Code: "23505"} })

	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.get", "unique_violation")); got != 1 {
		t.Fatalf("unique_violation count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(p.DbErrorsTotal); got != 1 {
		t.Fatalf("error series = %d, want 1", got)
	}
}

func TestNilPromIsSafe(t *testing.T) {
	var p *Prom

	called := false
	if err := p.ObserveDB("x", func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("fn should run on nil receiver")
	}

	p.ObserveTimer("start", "ok")
	p.ObserveJob("t", "done", time.Second)
}

func TestLogger_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("prod", &buf)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	log.InfoContext(ctx, "hello")
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}

	if rec["trace_id"] == nil || rec["span_id"] == nil {
		t.Fatalf("expected trace ids in %v", rec)
	}
}

func TestLogger_AddsActorID(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("prod", &buf)

	log.InfoContext(actorctx.WithUserID(context.Background(), "user-42"), "acting")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	if rec["actor_id"] != "user-42" {
		t.Fatalf("actor_id = %v", rec["actor_id"])
	}
}

func TestLogger_DebugOnlyInDev(t *testing.T) {
	var buf bytes.Buffer
	newLogger("prod", &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered outside dev: %s", buf.String())
	}

	newLogger("dev", &buf).Debug("shown")
	if buf.Len() == 0 {
		t.Fatalf("debug should be emitted in dev")
	}
}

func TestJobMetricsSnapshot(t *testing.T) {
	m := NewJobMetrics()
	m.IncClaimed()
	m.IncClaimed()
	m.IncDone()
	m.IncRetried()
	m.ObserveDuration(10 * time.Millisecond)
	m.ObserveDuration(30 * time.Millisecond)

	s := m.Snapshot()
	if s.Claimed != 2 || s.Done != 1 || s.Retried != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.AverageDuration != 20*time.Millisecond {
		t.Fatalf("avg = %v", s.AverageDuration)
	}
	if s.MaxDuration != 30*time.Millisecond {
		t.Fatalf("max = %v", s.MaxDuration)
	}
}
