package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePageFile struct {
	pageSize        int
	compressedSizes []int
	punched         []([2]int64)
	closed          bool
}

func (f *fakePageFile) PageSize() int      { return f.pageSize }
func (f *fakePageFile) PageCount() int     { return len(f.compressedSizes) }
func (f *fakePageFile) CompressedSize(i int) (int, error) {
	return f.compressedSizes[i], nil
}
func (f *fakePageFile) PunchHole(offset, length int64) error {
	f.punched = append(f.punched, [2]int64{offset, length})
	return nil
}
func (f *fakePageFile) Close() error { f.closed = true; return nil }

type fakePageStore struct {
	file *fakePageFile
}

func (s *fakePageStore) Open(path string) (PageFile, error) {
	return s.file, nil
}

func TestHolePuncherPunchesCompressedPages(t *testing.T) {
	file := &fakePageFile{pageSize: 100, compressedSizes: []int{40, 100, 0}}
	store := &fakePageStore{file: file}

	puncher := NewHolePuncher(store)
	require.NoError(t, puncher.Punch("part-0"))

	require.Len(t, file.punched, 1)
	assert.Equal(t, int64(0)*100+int64(pageHeaderSize)+40, file.punched[0][0])
	assert.Equal(t, int64(100-pageHeaderSize-40), file.punched[0][1])
	assert.True(t, file.closed)
}

func TestHolePuncherSkipsFullPages(t *testing.T) {
	file := &fakePageFile{pageSize: 100, compressedSizes: []int{100}}
	store := &fakePageStore{file: file}

	puncher := NewHolePuncher(store)
	require.NoError(t, puncher.Punch("part-0"))

	assert.Empty(t, file.punched)
}
