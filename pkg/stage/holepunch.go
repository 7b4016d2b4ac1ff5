package stage

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// pageHeaderSize is the minimal page header this engine understands: a
// single 4-byte big-endian compressed-size field at the start of each page.
const pageHeaderSize = 4

// PageStore opens a partition file for hole-punch inspection. Production
// code implements it directly against the filesystem; tests substitute an
// in-memory version.
type PageStore interface {
	Open(path string) (PageFile, error)
}

// PageFile exposes just enough of a partition file's page layout to drive
// the hole-punch pass: how many fixed-size pages it holds, and each page's
// advertised compressed size.
type PageFile interface {
	PageSize() int
	PageCount() int
	CompressedSize(pageIndex int) (int, error)
	PunchHole(offset, length int64) error
	Close() error
}

// OSPageStore implements PageStore directly against the filesystem, parsing
// the minimal page header spec §4.2 calls for rather than a full page
// format.
type OSPageStore struct {
	PageSize int
}

// Open opens path for hole-punch inspection.
func (s *OSPageStore) Open(path string) (PageFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &osPageFile{f: f, pageSize: pageSize, size: info.Size()}, nil
}

type osPageFile struct {
	f        *os.File
	pageSize int
	size     int64
}

func (p *osPageFile) PageSize() int { return p.pageSize }

func (p *osPageFile) PageCount() int {
	return int(p.size / int64(p.pageSize))
}

// CompressedSize reads the 4-byte big-endian compressed-size header at the
// start of pageIndex's page.
func (p *osPageFile) CompressedSize(pageIndex int) (int, error) {
	buf := make([]byte, pageHeaderSize)
	off := int64(pageIndex) * int64(p.pageSize)
	if _, err := p.f.ReadAt(buf, off); err != nil {
		return 0, fmt.Errorf("failed to read page %d header: %w", pageIndex, err)
	}
	return int(binary.BigEndian.Uint32(buf)), nil
}

// PunchHole frees the byte range [offset, offset+length) without shrinking
// the file, via FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE.
func (p *osPageFile) PunchHole(offset, length int64) error {
	return unix.Fallocate(int(p.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
}

func (p *osPageFile) Close() error {
	return p.f.Close()
}

// HolePuncher implements the hole-punching contract for compressed groups:
// for every page whose compressed size is smaller than the page size, it
// punches a hole over the unused tail. Idempotent — re-running it on an
// already-punched page is a no-op because the sparse range reads back as
// compressedSize's worth of data the punch never touched.
type HolePuncher struct {
	Store PageStore
}

// NewHolePuncher creates a HolePuncher backed by store.
func NewHolePuncher(store PageStore) *HolePuncher {
	return &HolePuncher{Store: store}
}

// Punch runs the hole-punch pass over path.
func (h *HolePuncher) Punch(path string) error {
	file, err := h.Store.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for hole punching: %w", path, err)
	}
	defer file.Close()

	pageSize := file.PageSize()
	for i := 0; i < file.PageCount(); i++ {
		compressedSize, err := file.CompressedSize(i)
		if err != nil {
			return err
		}
		if compressedSize <= 0 || compressedSize >= pageSize {
			continue
		}

		holeOffset := int64(i)*int64(pageSize) + int64(pageHeaderSize) + int64(compressedSize)
		holeLength := int64(pageSize) - int64(pageHeaderSize) - int64(compressedSize)
		if holeLength <= 0 {
			continue
		}
		if err := file.PunchHole(holeOffset, holeLength); err != nil {
			return fmt.Errorf("failed to punch hole in page %d: %w", i, err)
		}
	}
	return nil
}
