package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/virsalabs/virsa-core/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEphemeralModeWritesNothing(t *testing.T) {
	j, err := Open(context.Background(), config.JournalConfig{RetentionMode: "ephemeral"}, discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	if err := j.Append(context.Background(), Entry{SessionID: "s1", Type: EventStateChange}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := j.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ephemeral journal must stay empty, got %d entries", len(entries))
	}
}

func TestAppendAndList(t *testing.T) {
	cfg := config.JournalConfig{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionMode: "persistent",
		RetentionDays: 30,
	}
	j, err := Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	if err := j.Append(ctx, Entry{SessionID: "s1", Type: EventStateChange, Detail: "scanning"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Append(ctx, Entry{SessionID: "s1", Type: EventRecognized, SiteID: "taxila", Confidence: 0.91}); err != nil {
		t.Fatal(err)
	}
	if err := j.Append(ctx, Entry{SessionID: "other", Type: EventStateChange}); err != nil {
		t.Fatal(err)
	}

	entries, err := j.ListSession(ctx, "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for s1, got %d", len(entries))
	}
	if entries[0].Type != EventStateChange || entries[1].Type != EventRecognized {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[1].SiteID != "taxila" || entries[1].Confidence != 0.91 {
		t.Fatalf("unexpected recognition entry: %+v", entries[1])
	}
}

func TestSessionRetentionPrunesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	cfg := config.JournalConfig{Path: path, RetentionMode: "session"}

	j, err := Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(context.Background(), Entry{SessionID: "s1", Type: EventStateChange}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j2, err := Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	entries, err := j2.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("session retention must clear old runs, got %d entries", len(entries))
	}
}
