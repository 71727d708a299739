package xhash

import "testing"

func TestNormalizeNameStability(t *testing.T) {
	forms := []string{
		`Data\Foo.bar`,
		`data/foo.bar`,
		`DATA\FOO.BAR`,
		`Data/Foo.bar`,
	}
	want := HashName(forms[0])
	for _, f := range forms {
		if got := HashName(f); got != want {
			t.Errorf("HashName(%q) = %#x, want %#x", f, got, want)
		}
	}
}

func TestJenkins96Deterministic(t *testing.T) {
	// Jenkins96 must be a pure function: same bytes in, same hash out.
	data := []byte("interface/framexml/localization.lua")
	a := Jenkins96(data)
	b := Jenkins96(append([]byte{}, data...))
	if a != b {
		t.Fatalf("Jenkins96 not deterministic: %#x != %#x", a, b)
	}
}

func TestJenkins96EmptyInput(t *testing.T) {
	// Must not panic on an empty slice.
	_ = Jenkins96(nil)
	_ = Jenkins96([]byte{})
}

func TestJenkins96VariesWithLength(t *testing.T) {
	seen := make(map[uint64]bool)
	for n := 0; n < 40; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i)
		}
		h := Jenkins96(b)
		if seen[h] {
			t.Fatalf("collision at length %d", n)
		}
		seen[h] = true
	}
}
