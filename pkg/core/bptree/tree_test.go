package bptree

import (
	"errors"
	"path/filepath"
	"testing"

	"duodb/pkg/common"
	"duodb/pkg/storage"
)

// small pages keep the trees deep: leaf capacity 6, internal capacity 4
const testPageSize = 64

func newTestTree(t *testing.T, splitFrac float64) *Tree {
	t.Helper()
	tree, err := NewTree(storage.NewMemPager(testPageSize), Options{
		PageSize:      testPageSize,
		CacheCapacity: 64,
		SplitFrac:     splitFrac,
	})
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return tree
}

func TestInsertAndQuery(t *testing.T) {
	tree := newTestTree(t, 0.5)

	const n = 500
	for i := 1; i <= n; i++ {
		if err := tree.Insert(common.KeyType(i), common.ValueType(i*10)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if tree.NumKeys() != n {
		t.Fatalf("num keys: expected %d, got %d", n, tree.NumKeys())
	}
	if tree.MinKey() != 1 || tree.MaxKey() != n {
		t.Fatalf("min/max: got %d/%d", tree.MinKey(), tree.MaxKey())
	}
	for i := 1; i <= n; i++ {
		found, err := tree.Query(common.KeyType(i))
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
		if !found {
			t.Fatalf("key %d not found", i)
		}
	}
	for _, miss := range []common.KeyType{0, n + 1, n + 1000, -5} {
		found, err := tree.Query(miss)
		if err != nil {
			t.Fatalf("query %d: %v", miss, err)
		}
		if found {
			t.Fatalf("key %d should not exist", miss)
		}
	}
}

func TestQueryEmpty(t *testing.T) {
	tree := newTestTree(t, 0.5)
	found, err := tree.Query(42)
	if err != nil {
		t.Fatalf("query empty: %v", err)
	}
	if found {
		t.Fatal("empty tree reported a hit")
	}
}

func TestUnorderedInsert(t *testing.T) {
	tree := newTestTree(t, 0.5)

	// deterministic shuffle of 1..400
	const n = 400
	for i := 0; i < n; i++ {
		k := common.KeyType((i*263)%n + 1)
		if err := tree.Insert(k, common.ValueType(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}

	pairs, err := tree.Scan(tree.MinKey(), tree.MaxKey())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(pairs) != n {
		t.Fatalf("scan length: expected %d, got %d", n, len(pairs))
	}
	for i, p := range pairs {
		if p.Key != common.KeyType(i+1) {
			t.Fatalf("scan out of order at %d: got key %d", i, p.Key)
		}
	}
}

func TestSplitFraction(t *testing.T) {
	// leaf capacity is 6; the first overflow happens on the 7th append
	cases := []struct {
		frac          float64
		wantLeftCount int
	}{
		{0.5, 3},  // ceil(0.5*6)
		{0.9, 6},  // ceil(0.9*6)=6, clamped to count-1
		{0.67, 5}, // ceil(0.67*6)
	}
	for _, tc := range cases {
		tree := newTestTree(t, tc.frac)
		for i := 1; i <= 7; i++ {
			if err := tree.InsertToTail(common.KeyType(i), common.ValueType(i), true); err != nil {
				t.Fatalf("frac %v: append %d: %v", tc.frac, i, err)
			}
		}
		// the left leaf's last key is the split's second-tail max
		secondMax, ok := tree.SecondTailMaxKey()
		if !ok {
			t.Fatalf("frac %v: no second tail after split", tc.frac)
		}
		if int(secondMax) != tc.wantLeftCount {
			t.Errorf("frac %v: left leaf kept %d entries, expected %d",
				tc.frac, secondMax, tc.wantLeftCount)
		}
		tailMin, err := tree.TailMinKey()
		if err != nil {
			t.Fatalf("frac %v: tail min: %v", tc.frac, err)
		}
		if int(tailMin) != tc.wantLeftCount+1 {
			t.Errorf("frac %v: tail min %d, expected %d", tc.frac, tailMin, tc.wantLeftCount+1)
		}
	}
}

func TestTailAppendContract(t *testing.T) {
	tree := newTestTree(t, 0.9)
	for i := 1; i <= 10; i++ {
		if err := tree.InsertToTail(common.KeyType(i), common.ValueType(i), true); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	err := tree.InsertToTail(3, 3, true)
	if !errors.Is(err, ErrTailOrder) {
		t.Fatalf("expected ErrTailOrder for append below max, got %v", err)
	}
	// equal to max is a legal append (duplicates allowed)
	if err := tree.InsertToTail(10, 100, true); err != nil {
		t.Fatalf("append equal to max: %v", err)
	}
}

func TestTailInteriorInsert(t *testing.T) {
	tree := newTestTree(t, 0.9)
	for i := 1; i <= 20; i++ {
		if err := tree.InsertToTail(common.KeyType(i*10), common.ValueType(i), true); err != nil {
			t.Fatalf("append %d: %v", i*10, err)
		}
	}
	tailMin, err := tree.TailMinKey()
	if err != nil {
		t.Fatalf("tail min: %v", err)
	}

	// a key inside the tail leaf's range goes to its sorted position
	k := tailMin + 5
	if err := tree.InsertToTail(k, 999, false); err != nil {
		t.Fatalf("interior insert %d: %v", k, err)
	}
	found, err := tree.Query(k)
	if err != nil {
		t.Fatalf("query %d: %v", k, err)
	}
	if !found {
		t.Fatalf("interior-inserted key %d not found", k)
	}

	pairs, err := tree.Scan(tree.MinKey(), tree.MaxKey())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i].Key < pairs[i-1].Key {
			t.Fatalf("leaf chain out of order at %d: %d after %d",
				i, pairs[i].Key, pairs[i-1].Key)
		}
	}
}

func TestScanRange(t *testing.T) {
	tree := newTestTree(t, 0.5)
	for i := 1; i <= 100; i++ {
		if err := tree.Insert(common.KeyType(i*2), common.ValueType(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	pairs, err := tree.Scan(10, 20)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []common.KeyType{10, 12, 14, 16, 18, 20}
	if len(pairs) != len(want) {
		t.Fatalf("scan [10,20]: expected %d pairs, got %d", len(want), len(pairs))
	}
	for i, p := range pairs {
		if p.Key != want[i] {
			t.Errorf("scan [10,20] at %d: got %d, want %d", i, p.Key, want[i])
		}
	}

	// empty range between stored keys
	pairs, err = tree.Scan(11, 11)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("scan [11,11]: expected empty, got %d", len(pairs))
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.blk")

	pager, err := storage.NewDiskPager(path, testPageSize)
	if err != nil {
		t.Fatalf("disk pager: %v", err)
	}
	opts := Options{PageSize: testPageSize, CacheCapacity: 64, SplitFrac: 0.9}
	tree, err := NewTree(pager, opts)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	const n = 300
	for i := 1; i <= n; i++ {
		if err := tree.InsertToTail(common.KeyType(i), common.ValueType(i), true); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	wantSecondMax, _ := tree.SecondTailMaxKey()
	if err := tree.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	pager2, err := storage.NewDiskPager(path, testPageSize)
	if err != nil {
		t.Fatalf("reopen pager: %v", err)
	}
	reopened, err := NewTree(pager2, opts)
	if err != nil {
		t.Fatalf("reopen tree: %v", err)
	}
	defer reopened.Close()

	if reopened.NumKeys() != n {
		t.Fatalf("num keys after reopen: expected %d, got %d", n, reopened.NumKeys())
	}
	if reopened.MinKey() != 1 || reopened.MaxKey() != n {
		t.Fatalf("min/max after reopen: got %d/%d", reopened.MinKey(), reopened.MaxKey())
	}
	if gotSecondMax, _ := reopened.SecondTailMaxKey(); gotSecondMax != wantSecondMax {
		t.Fatalf("second tail max after reopen: expected %d, got %d", wantSecondMax, gotSecondMax)
	}
	for i := 1; i <= n; i++ {
		found, err := reopened.Query(common.KeyType(i))
		if err != nil {
			t.Fatalf("query %d after reopen: %v", i, err)
		}
		if !found {
			t.Fatalf("key %d lost across reopen", i)
		}
	}

	// the tail fast path keeps working on the reopened tree
	if err := reopened.InsertToTail(n+1, n+1, true); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
}
