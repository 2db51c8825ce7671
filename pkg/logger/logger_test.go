package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithFormat("json"), WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	Named("meta").Info(context.Background(), "report computed",
		String("series", "GT Sprint"),
		Int64("series_id", 42),
		Float64("threshold", 20),
		Bool("cached", false),
		Duration("took", 3*time.Millisecond),
		Error(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{
		`"msg":"report computed"`,
		`"component":"meta"`,
		`"series":"GT Sprint"`,
		`"series_id":42`,
		`"cached":false`,
		`"source":"logger_test.go:`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	ctx := context.Background()

	Get().Debug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level, got %q", buf.String())
	}

	if err := SetLevelString("DEBUG"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Get().Debug(ctx, "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected debug output, got %q", buf.String())
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := SetLevelString("warning"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNop(t *testing.T) {
	l := Nop().Named("test")
	ctx := context.Background()
	l.Info(ctx, "discarded")
	l.Error(ctx, "discarded", Error(errors.New("x")))
	l.Fatal(ctx, "does not exit")
}

func TestSlog(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithFormat("json"), WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	Slog(Named("tree")).Info("service started", "service", "http-server")
	out := buf.String()
	if !strings.Contains(out, `"component":"tree"`) || !strings.Contains(out, `"service":"http-server"`) {
		t.Errorf("slog output lost fields: %s", out)
	}

	if Slog(nil) == nil {
		t.Error("Slog(nil) returned nil")
	}
}
