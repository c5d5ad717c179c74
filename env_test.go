package tandem

import (
	"path/filepath"
	"testing"
)

func TestNewFromEnvUsesTandemPrefixedOverrides(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	t.Setenv("TANDEM_DATA_DIR", dir)
	t.Setenv("TANDEM_STORAGE_TYPE", "inline")

	c, err := NewFromEnv(BytesCodec{})
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	defer c.Close()

	if !c.Set("k", []byte("v"), 0) {
		t.Fatalf("expected set success")
	}
	v, ok := c.Get("k")
	if !ok || string(v.([]byte)) != "v" {
		t.Fatalf("expected v, got %v %v", v, ok)
	}
}

func TestNewFromEnvRejectsUnrecognizedStorageType(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	t.Setenv("TANDEM_DATA_DIR", dir)
	t.Setenv("TANDEM_STORAGE_TYPE", "bogus")

	if _, err := NewFromEnv(BytesCodec{}); err == nil {
		t.Fatalf("expected validation error for unrecognized storage_type")
	}
}
