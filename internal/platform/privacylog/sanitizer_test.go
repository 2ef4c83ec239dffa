package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSanitizeArgsFingerprintsDisallowedIDs(t *testing.T) {
	args := SanitizeArgs(
		"task_id", "task_1234",
		"group_id", "g_abc",
		"status", "completed",
	)
	if len(args) != 6 {
		t.Fatalf("unexpected args length: %d", len(args))
	}
	if got := args[0]; got != "task_id_fp" {
		t.Fatalf("unexpected key: %v", got)
	}
	if got := args[1].(string); !strings.HasPrefix(got, "fp_") {
		t.Fatalf("unexpected fingerprint value: %q", got)
	}
	if got := args[4]; got != "status" {
		t.Fatalf("expected untouched key, got %v", got)
	}
}

func TestSanitizingHandlerRedactsQueryAndSecrets(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(WrapHandler(base))
	logger.Info("test",
		"task_id", "task_1234",
		"query", "which mints support my group",
		"bunker_secret", "s3cret",
		"status", "pending",
	)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	if _, ok := payload["task_id"]; ok {
		t.Fatal("task_id should not be present in plain form")
	}
	if _, ok := payload["task_id_fp"]; !ok {
		t.Fatal("task_id_fp should be present")
	}
	if got, _ := payload["query"].(string); got != redactedValue {
		t.Fatalf("query text must be redacted, got %q", got)
	}
	if got, _ := payload["bunker_secret"].(string); got != redactedValue {
		t.Fatalf("expected redacted secret, got %q", got)
	}
	if got, _ := payload["status"].(string); got != "pending" {
		t.Fatalf("status should pass through, got %q", got)
	}
}

func TestSanitizingHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	rec.AddAttrs(slog.String("group_id", "g1"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "group_id_fp") {
		t.Fatalf("expected sanitized group_id key, got %s", buf.String())
	}
}

func TestFingerprintIsStableWithinProcess(t *testing.T) {
	a := FingerprintID("task_1234")
	b := FingerprintID("task_1234")
	if a == "" || a != b {
		t.Fatalf("fingerprints must be stable within a run: %q vs %q", a, b)
	}
	if FingerprintID("task_5678") == a {
		t.Fatal("distinct identifiers must not collide")
	}
}
