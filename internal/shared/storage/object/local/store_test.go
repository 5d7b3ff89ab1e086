package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"thesis-backend/internal/shared/storage/object"
)

func TestPutOpenRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	n, err := store.Put(ctx, "documents/run-1/thesis.md", "text/markdown", strings.NewReader("# Thesis"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n != int64(len("# Thesis")) {
		t.Fatalf("unexpected size %d", n)
	}

	if _, err := store.Put(ctx, "documents/run-1/thesis.md", "text/markdown", strings.NewReader("# Thesis v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rc, err := store.Open(ctx, "documents/run-1/thesis.md")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "# Thesis v2" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Open(context.Background(), "checkpoints/missing.json")
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Put(context.Background(), "../escape.txt", "text/plain", strings.NewReader("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if _, err := store.Open(context.Background(), "/etc/passwd"); err == nil {
		t.Fatalf("expected absolute key to be rejected")
	}
}
