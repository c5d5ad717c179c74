package domain

import "testing"

func TestBlobNameDeterministic(t *testing.T) {
	t.Parallel()
	a := BlobName("my-key")
	b := BlobName("my-key")
	if a != b {
		t.Fatalf("expected deterministic blob name, got %q != %q", a, b)
	}
	if !ValidBlobName(a) {
		t.Fatalf("expected %q to be a valid blob name", a)
	}
}

func TestBlobNameDistinctForDistinctKeys(t *testing.T) {
	t.Parallel()
	if BlobName("k1") == BlobName("k2") {
		t.Fatalf("expected distinct keys to produce distinct blob names")
	}
}

func TestValidBlobNameRejectsGarbage(t *testing.T) {
	t.Parallel()
	cases := []string{"", "too-short", "../../etc/passwd", "UPPERCASE0123456789abcdef0123456"}
	for _, c := range cases {
		c := c
		t.Run(c, func(t *testing.T) {
			t.Parallel()
			if ValidBlobName(c) {
				t.Fatalf("expected %q to be invalid", c)
			}
		})
	}
}
