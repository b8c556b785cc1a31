package imagestore

import (
	"bytes"
	"errors"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestSaveLoad(t *testing.T) {
	store := newTestStore(t)
	img := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01}

	if err := store.Save("alice:cam1", img); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load("alice:cam1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Errorf("Load() = %v, want %v", got, img)
	}
}

func TestSave_ReplacesPriorImage(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("alice:cam1", []byte("first")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("alice:cam1", []byte("second")); err != nil {
		t.Fatalf("Save() replacement error = %v", err)
	}

	got, err := store.Load("alice:cam1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Load() = %q, want %q", got, "second")
	}
}

func TestSave_EmptyPayloadRejected(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("alice:cam1", nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Save(nil) error = %v, want ErrEmptyPayload", err)
	}
}

func TestLoad_NoImage(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("alice:cam1"); !errors.Is(err, ErrNoImage) {
		t.Errorf("Load() error = %v, want ErrNoImage", err)
	}
}

func TestPath_SanitizesHostileIDs(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("../../etc:passwd", []byte("x")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Nothing may be written outside the store directory.
	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatalf("reading store dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("store dir has %d entries, want 1", len(entries))
	}

	// And the hostile id loads back through the same mapping.
	if _, err := store.Load("../../etc:passwd"); err != nil {
		t.Errorf("Load() of sanitized id error = %v", err)
	}
}
