package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWriterJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "json")

	slog.Info("dropped")
	WithComponent("indexer").Warn("skipping document", "path", "wiki/a.html")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if record["component"] != "indexer" || record["path"] != "wiki/a.html" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestFromContextRequestID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "text")

	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestID(ctx); got != "req-42" {
		t.Fatalf("RequestID() = %q", got)
	}
	FromContext(ctx).Info("search completed")
	if !bytes.Contains(buf.Bytes(), []byte("request_id=req-42")) {
		t.Errorf("request id missing from %q", buf.String())
	}
	if RequestID(context.Background()) != "" {
		t.Error("expected empty request id for bare context")
	}
}
