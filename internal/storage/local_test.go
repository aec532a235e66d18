package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	serrors "github.com/shopsignal/shopsignal/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLocalStore_UploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "objects"))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	src := writeFile(t, t.TempDir(), "analytics.db", "store contents")
	if err := store.Upload(ctx, src, "runs/r1/analytics.db"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	ok, err := store.Exists(ctx, "runs/r1/analytics.db")
	if err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}

	dest := filepath.Join(t.TempDir(), "fetched.db")
	if err := store.Download(ctx, "runs/r1/analytics.db", dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if string(data) != "store contents" {
		t.Errorf("round trip corrupted data: %q", data)
	}
}

func TestLocalStore_DownloadMissingObject(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	err = store.Download(ctx, "runs/missing/analytics.db", filepath.Join(t.TempDir(), "x"))
	if err == nil {
		t.Fatal("expected OBJECT_NOT_FOUND")
	}
	if !serrors.HasCode(err, serrors.CodeObjectNotFound) {
		t.Errorf("expected OBJECT_NOT_FOUND code, got %v", err)
	}
}

func TestLocalStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	src := writeFile(t, t.TempDir(), "batch.ssb", "batch")
	if err := store.Upload(ctx, src, "runs/r1/batch.ssb"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := store.Delete(ctx, "runs/r1/batch.ssb"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "runs/r1/batch.ssb"); err != nil {
		t.Errorf("second Delete must be a no-op, got %v", err)
	}
	ok, err := store.Exists(ctx, "runs/r1/batch.ssb")
	if err != nil || ok {
		t.Errorf("expected object gone, ok=%v err=%v", ok, err)
	}
}

func TestLocalStore_ListSorted(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	dir := t.TempDir()
	for _, name := range []string{"b.db", "a.db"} {
		src := writeFile(t, dir, name, name)
		if err := store.Upload(ctx, src, "runs/r1/"+name); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	}

	got, err := store.List(ctx, "runs/r1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"runs/r1/a.db", "runs/r1/b.db"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	empty, err := store.List(ctx, "runs/other")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty listing, got %v", empty)
	}
}

func TestPublisher_PlacesArtifactsUnderRunPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	dir := t.TempDir()
	db := writeFile(t, dir, "analytics.db", "db")
	batch := writeFile(t, dir, "events.ssb", "batch")

	objects, err := NewPublisher(store).Publish(ctx, "run-42", db, batch)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	want := []string{"runs/run-42/analytics.db", "runs/run-42/events.ssb"}
	if !reflect.DeepEqual(objects, want) {
		t.Errorf("expected %v, got %v", want, objects)
	}
	for _, obj := range want {
		ok, err := store.Exists(ctx, obj)
		if err != nil || !ok {
			t.Errorf("expected %s published, ok=%v err=%v", obj, ok, err)
		}
	}
}
