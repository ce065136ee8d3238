package storage

import (
	"fmt"
	"os"
	"sync"
)

// Pager is the persistence abstraction under a tree's block cache: a flat
// sequence of fixed-size pages in one file. Page 0 is reserved for the
// owner's header and is never handed out by AllocatePage.
type Pager interface {
	ReadPage(pageID int64) ([]byte, error)
	WritePage(pageID int64, data []byte) error
	AllocatePage() (int64, error)
	NumPages() int64
	Sync() error
	Close() error
}

// DiskPager implements Pager over a single block file.
type DiskPager struct {
	file     *os.File
	filePath string
	pageSize int
	nextPage int64 // next page id to hand out
	mu       sync.RWMutex
}

func NewDiskPager(path string, pageSize int) (*DiskPager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open block file %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat block file %s: %w", path, err)
	}

	numPages := stat.Size() / int64(pageSize)
	nextPage := numPages
	if nextPage < 1 {
		nextPage = 1 // page 0 is the header page
	}

	return &DiskPager{
		file:     file,
		filePath: path,
		pageSize: pageSize,
		nextPage: nextPage,
	}, nil
}

func (p *DiskPager) ReadPage(pageID int64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.file == nil {
		return nil, fmt.Errorf("pager %s is closed", p.filePath)
	}
	if pageID < 0 || pageID >= p.nextPage {
		return nil, fmt.Errorf("read page %d: beyond end of file %s", pageID, p.filePath)
	}

	page := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(page, pageID*int64(p.pageSize)); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}
	return page, nil
}

func (p *DiskPager) WritePage(pageID int64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return fmt.Errorf("pager %s is closed", p.filePath)
	}
	if len(data) != p.pageSize {
		return fmt.Errorf("write page %d: data size %d does not match page size %d", pageID, len(data), p.pageSize)
	}

	if _, err := p.file.WriteAt(data, pageID*int64(p.pageSize)); err != nil {
		return fmt.Errorf("write page %d: %w", pageID, err)
	}
	return nil
}

func (p *DiskPager) AllocatePage() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, fmt.Errorf("pager %s is closed", p.filePath)
	}

	pageID := p.nextPage
	p.nextPage++

	// extend the file so ReadAt on the new page never sees EOF
	empty := make([]byte, p.pageSize)
	if _, err := p.file.WriteAt(empty, pageID*int64(p.pageSize)); err != nil {
		return 0, fmt.Errorf("allocate page %d: %w", pageID, err)
	}
	return pageID, nil
}

func (p *DiskPager) NumPages() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextPage
}

func (p *DiskPager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return fmt.Errorf("pager %s is closed", p.filePath)
	}
	return p.file.Sync()
}

func (p *DiskPager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}
	if err := p.file.Sync(); err != nil {
		p.file.Close()
		p.file = nil
		return fmt.Errorf("sync before close: %w", err)
	}
	err := p.file.Close()
	p.file = nil
	return err
}
