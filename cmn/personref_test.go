package cmn

import "testing"

func TestPersonRefKeyRoundTrip(t *testing.T) {
	cases := []PersonRef{
		NewOpaque("user-123"),
		NewPrincipal([]byte{0xde, 0xad, 0xbe, 0xef}),
	}
	for _, p := range cases {
		k := p.Key()
		got, ok := ParsePersonRefKey(k)
		if !ok {
			t.Fatalf("ParsePersonRefKey(%q) failed to parse", k)
		}
		if !got.Equal(p) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestPersonRefEquality(t *testing.T) {
	a := NewOpaque("same")
	b := NewOpaque("same")
	c := NewOpaque("different")
	if !a.Equal(b) {
		t.Error("two opaque refs with the same value should be equal")
	}
	if a.Equal(c) {
		t.Error("opaque refs with different values should not be equal")
	}
}

func TestParsePersonRefKeyRejectsGarbage(t *testing.T) {
	if _, ok := ParsePersonRefKey("not-a-valid-key"); ok {
		t.Error("expected a key with no recognized prefix to fail to parse")
	}
}
