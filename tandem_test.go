package tandem

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNewAtPathRejectsRelativePath(t *testing.T) {
	_, err := NewAtPath("relative/path", Options{})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestNewRejectsEmptyName(t *testing.T) {
	_, err := New("", Options{})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestNewAtPathRoundTripWithBytesCodec(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := NewAtPath(dir, Options{})
	if err != nil {
		t.Fatalf("NewAtPath: %v", err)
	}
	defer c.Close()

	if !c.Set("k", []byte("hello"), 0) {
		t.Fatalf("expected set success")
	}
	v, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(v.([]byte)) != "hello" {
		t.Fatalf("expected hello, got %v", v)
	}
}

func TestNewAtPathRejectsStorageTypeMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := NewAtPath(dir, Options{StorageType: File})
	if err != nil {
		t.Fatalf("NewAtPath: %v", err)
	}
	c.Close()

	_, err = NewAtPath(dir, Options{StorageType: Inline})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestNewAtPathSameTypeReopens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := NewAtPath(dir, Options{StorageType: Mixed})
	if err != nil {
		t.Fatalf("NewAtPath: %v", err)
	}
	c.Set("k", []byte("v"), 0)
	c.Close()

	c2, err := NewAtPath(dir, Options{StorageType: Mixed})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	v, ok := c2.Get("k")
	if !ok || string(v.([]byte)) != "v" {
		t.Fatalf("expected value to survive reopen, got %v %v", v, ok)
	}
}
