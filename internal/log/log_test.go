package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentStorage, Handler: slog.NewTextHandler(&buf, nil)})
	l.Info("saved", FieldRecordID, "r1")

	out := buf.String()
	if !strings.Contains(out, "component=storage") || !strings.Contains(out, "record_id=r1") {
		t.Fatalf("unexpected output: %s", out)
	}
	if l.WithComponent(ComponentAMQP).Component() != ComponentAMQP {
		t.Fatal("WithComponent should switch component")
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().
		WithOperation(OpCreate).
		WithVillage("Riverside", "id:v1").
		WithRecord("r1", "2024-03-02", -1, 1250).
		WithError(errors.New("boom"), ErrorTypeNetwork)

	if f[FieldOperation] != OpCreate || f[FieldVillageKey] != "id:v1" {
		t.Fatalf("unexpected fields: %v", f)
	}
	if _, ok := f[FieldCustomers]; ok {
		t.Fatal("negative customers should be omitted")
	}
	if f[FieldAmountCents] != int64(1250) || f[FieldErrorType] != ErrorTypeNetwork {
		t.Fatalf("unexpected fields: %v", f)
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Fatal("ToSlice should flatten every pair")
	}

	if g := NewFields().WithError(nil, ErrorTypeInternal); len(g) != 0 {
		t.Fatalf("nil error should add nothing: %v", g)
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Fatalf("expected fallback logger, got %q", got.Component())
	}
	l := Discard().WithComponent(ComponentWorker)
	if got := FromContext(WithContext(context.Background(), l)); got != l {
		t.Fatal("expected logger from context")
	}
}
