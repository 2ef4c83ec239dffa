package app

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAllSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TasksSubmitted.Inc()
	m.TasksTerminal.WithLabelValues("completed").Inc()
	m.TasksActive.Set(3)
	m.PollErrors.Inc()
	m.HandshakeAttempts.WithLabelValues("ok").Inc()
	m.VaultSaves.WithLabelValues("error").Inc()
	m.SessionRestores.WithLabelValues("localkey", "ok").Inc()

	if got := testutil.ToFloat64(m.TasksSubmitted); got != 1 {
		t.Fatalf("unexpected submitted count: %v", got)
	}
	if got := testutil.ToFloat64(m.TasksTerminal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("unexpected terminal count: %v", got)
	}
	if got := testutil.ToFloat64(m.TasksActive); got != 3 {
		t.Fatalf("unexpected active gauge: %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) != 7 {
		t.Fatalf("expected 7 metric families, got %d", len(families))
	}
}

func TestNewMetricsNilRegistererDoesNotPanic(t *testing.T) {
	m := NewMetrics(nil)
	m.TasksSubmitted.Inc()
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestGeneratePrefixedID(t *testing.T) {
	id, err := GeneratePrefixedID("sess")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.HasPrefix(id, "sess_") || len(id) != len("sess_")+24 {
		t.Fatalf("unexpected id shape: %q", id)
	}
	other, _ := GeneratePrefixedID("sess")
	if other == id {
		t.Fatal("ids must be random")
	}
}
