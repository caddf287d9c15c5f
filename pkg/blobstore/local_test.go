package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
)

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestLocalPutOpenRoundtrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	content := "artifact payload"
	if err := store.Put(ctx, "game-v1.0.zip", strings.NewReader(content), int64(len(content)), digest(content)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Open(ctx, "game-v1.0.zip")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != content {
		t.Errorf("read %q, want %q", got, content)
	}

	size, err := store.Size("game-v1.0.zip")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", size, len(content))
	}
}

func TestLocalPutRejectsExistingKey(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "key.zip", strings.NewReader("a"), 1, digest("a")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	err = store.Put(ctx, "key.zip", strings.NewReader("b"), 1, digest("b"))
	if !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Put: got %v, want ErrKeyExists", err)
	}

	// The original object is untouched.
	rc, err := store.Open(ctx, "key.zip")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "a" {
		t.Errorf("object overwritten: %q", got)
	}
}

func TestLocalPutChecksumMismatch(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	err = store.Put(ctx, "key.zip", strings.NewReader("content"), 7, digest("different"))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Put: got %v, want ErrChecksumMismatch", err)
	}

	// Nothing is committed on failure.
	if _, err := store.Open(ctx, "key.zip"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after failed Put: got %v, want ErrNotFound", err)
	}
	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("staging leftovers visible: %v", keys)
	}
}

func TestLocalPutSizeMismatch(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	err = store.Put(context.Background(), "key.zip", strings.NewReader("content"), 99, digest("content"))
	if err == nil {
		t.Fatal("Put with wrong size succeeded")
	}
}

func TestLocalRejectsUnsafeKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "a/b.zip", `a\b.zip`, "../escape.zip"} {
		if err := store.Put(ctx, key, strings.NewReader("x"), 1, digest("x")); err == nil {
			t.Errorf("Put accepted unsafe key %q", key)
		}
		if _, err := store.Open(ctx, key); err == nil {
			t.Errorf("Open accepted unsafe key %q", key)
		}
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "key.zip", strings.NewReader("x"), 1, digest("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "key.zip"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "key.zip"); err != nil {
		t.Errorf("repeat Delete: %v", err)
	}
	if err := store.Delete(ctx, "never-existed.zip"); err != nil {
		t.Errorf("Delete of absent key: %v", err)
	}
}

func TestLocalListSorted(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"launcher-v2.zip", "game-v1.zip", "game-v10.zip"} {
		if err := store.Put(ctx, key, strings.NewReader(key), int64(len(key)), digest(key)); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"game-v1.zip", "game-v10.zip", "launcher-v2.zip"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
