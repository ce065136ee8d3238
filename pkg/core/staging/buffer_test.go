package staging

import (
	"testing"

	"duodb/pkg/common"
)

func TestBufferAbsorbsUntilFull(t *testing.T) {
	b := New(4)
	for i, k := range []common.KeyType{5, 3, 7, 1} {
		if _, admit := b.Push(k, common.ValueType(i)); admit {
			t.Fatalf("push %d: admitted before buffer was full", k)
		}
	}
	if b.Len() != 4 {
		t.Fatalf("len: expected 4, got %d", b.Len())
	}
}

func TestBufferReleasesMin(t *testing.T) {
	b := New(3)
	b.Push(5, 5)
	b.Push(3, 3)
	b.Push(7, 7)

	// 9 outranks the minimum: 3 comes out, 9 stays
	out, admit := b.Push(9, 9)
	if !admit {
		t.Fatal("full buffer did not admit")
	}
	if out.Key != 3 {
		t.Fatalf("expected released key 3, got %d", out.Key)
	}
	if b.Contains(3) {
		t.Fatal("released key still buffered")
	}
	if !b.Contains(9) {
		t.Fatal("incoming key not buffered after swap")
	}

	// 2 is below the minimum: it passes straight through
	out, admit = b.Push(2, 2)
	if !admit {
		t.Fatal("full buffer did not admit")
	}
	if out.Key != 2 {
		t.Fatalf("expected pass-through of key 2, got %d", out.Key)
	}
	if b.Contains(2) {
		t.Fatal("pass-through key ended up buffered")
	}
	if b.Len() != 3 {
		t.Fatalf("len: expected 3, got %d", b.Len())
	}
}

func TestBufferDuplicateKeys(t *testing.T) {
	b := New(4)
	b.Push(5, 1)
	b.Push(5, 2)
	b.Push(5, 3)
	if b.Len() != 3 {
		t.Fatalf("duplicate keys collapsed: len %d", b.Len())
	}
	pairs := b.Scan(5, 5)
	if len(pairs) != 3 {
		t.Fatalf("scan of duplicates: expected 3, got %d", len(pairs))
	}
}

func TestBufferScan(t *testing.T) {
	b := New(8)
	for _, k := range []common.KeyType{10, 2, 8, 4, 6} {
		b.Push(k, common.ValueType(k))
	}
	pairs := b.Scan(4, 8)
	want := []common.KeyType{4, 6, 8}
	if len(pairs) != len(want) {
		t.Fatalf("scan [4,8]: expected %d pairs, got %d", len(want), len(pairs))
	}
	for i, p := range pairs {
		if p.Key != want[i] {
			t.Errorf("scan [4,8] at %d: got %d, want %d", i, p.Key, want[i])
		}
	}
	if b.Contains(3) {
		t.Error("contains reported a missing key")
	}
}
