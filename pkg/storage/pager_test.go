package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestDiskPagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.blk")

	pager, err := NewDiskPager(path, 4096)
	if err != nil {
		t.Fatalf("create disk pager: %v", err)
	}
	defer pager.Close()

	id, err := pager.AllocatePage()
	if err != nil {
		t.Fatalf("allocate page: %v", err)
	}
	if id != 1 {
		t.Errorf("first allocated page: expected 1 (page 0 is the header), got %d", id)
	}

	data := make([]byte, 4096)
	copy(data, []byte("duodb pager round trip"))
	if err := pager.WritePage(id, data); err != nil {
		t.Fatalf("write page: %v", err)
	}

	got, err := pager.ReadPage(id)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !bytes.Equal(data, got) {
		t.Error("page data mismatch after round trip")
	}

	if err := pager.WritePage(id, []byte("short")); err == nil {
		t.Error("expected error for short page write")
	}
	if _, err := pager.ReadPage(99); err == nil {
		t.Error("expected error reading unallocated page")
	}
}

func TestDiskPagerReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.blk")
	pageSize := 4096

	pager, err := NewDiskPager(path, pageSize)
	if err != nil {
		t.Fatalf("create disk pager: %v", err)
	}

	// header page plus two data pages
	header := make([]byte, pageSize)
	copy(header, []byte("header"))
	if err := pager.WritePage(0, header); err != nil {
		t.Fatalf("write header page: %v", err)
	}
	for i := 0; i < 2; i++ {
		id, err := pager.AllocatePage()
		if err != nil {
			t.Fatalf("allocate page: %v", err)
		}
		page := make([]byte, pageSize)
		page[0] = byte(id)
		if err := pager.WritePage(id, page); err != nil {
			t.Fatalf("write page %d: %v", id, err)
		}
	}
	if err := pager.Close(); err != nil {
		t.Fatalf("close pager: %v", err)
	}

	reopened, err := NewDiskPager(path, pageSize)
	if err != nil {
		t.Fatalf("reopen disk pager: %v", err)
	}
	defer reopened.Close()

	if n := reopened.NumPages(); n != 3 {
		t.Fatalf("expected 3 pages after reopen, got %d", n)
	}
	got, err := reopened.ReadPage(2)
	if err != nil {
		t.Fatalf("read page 2 after reopen: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("page 2 content mismatch after reopen: got %d", got[0])
	}

	// new allocations continue past the existing pages
	id, err := reopened.AllocatePage()
	if err != nil {
		t.Fatalf("allocate after reopen: %v", err)
	}
	if id != 3 {
		t.Errorf("expected page 3 after reopen, got %d", id)
	}
}

func TestMemPager(t *testing.T) {
	pager := NewMemPager(512)

	id, err := pager.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	data := make([]byte, 512)
	data[0] = 7
	if err := pager.WritePage(id, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := pager.ReadPage(id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0] != 7 {
		t.Error("mem pager data mismatch")
	}

	// returned slice is a copy
	got[0] = 9
	again, _ := pager.ReadPage(id)
	if again[0] != 7 {
		t.Error("mem pager returned aliased page data")
	}

	pager.Close()
	if _, err := pager.ReadPage(id); err == nil {
		t.Error("expected read error after close")
	}
}
