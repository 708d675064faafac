// Package storage provides the random-access file plumbing shared by ptree
// and phash: positioned reads, append, truncate, sync, and an advisory
// single-owner lock.
//
// It is adapted from the teacher codebase's memory-mapped file growth and
// flush discipline (mari's IOUtils.go / Meta.go), but ptree and phash need
// their on-disk byte layout to be exact down to the last appended byte — a
// growable mmap that pads a file to the next page boundary would leave
// trailing garbage a consumer like ptree.Keys() (which scans the .key file
// until decode fails) could misread as live data. So here the file's logical
// size is always its real OS size: writes that extend the file go through
// Append/WriteAt/Truncate rather than an over-allocated mapped region.
package storage

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// File wraps an *os.File with positioned I/O and an advisory exclusive lock
// enforcing the single-owner model ptree/phash require (spec §5): a second
// process opening the same base path fails fast instead of silently
// corrupting the first owner's writes.
type File struct {
	f    *os.File
	path string
}

// Create opens path for read/write, creating it if absent, and takes an
// advisory exclusive lock on it.
func Create(path string) (*File, error) {
	return open(path, os.O_RDWR|os.O_CREATE)
}

// Open opens an existing file for read/write and takes an advisory
// exclusive lock on it. It does not create the file.
func Open(path string) (*File, error) {
	return open(path, os.O_RDWR)
}

func open(path string, flag int) (*File, error) {
	f, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	sf := &File{f: f, path: path}
	if err := sf.Lock(); err != nil {
		f.Close()
		return nil, err
	}

	return sf, nil
}

// Lock takes a non-blocking advisory exclusive flock on the underlying fd.
// Create and Open both call it before returning, so callers do not normally
// need to call it themselves; it is exported so a caller that reopens the
// descriptor (e.g. after a manual Close/reopen cycle outside Create/Open) can
// reacquire it explicitly.
func (sf *File) Lock() error {
	if err := unix.Flock(int(sf.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("storage: %s is already owned by another process: %w", sf.path, err)
	}
	return nil
}

// Path returns the path the file was opened from.
func (sf *File) Path() string { return sf.path }

// Size reports the file's current logical size in bytes.
func (sf *File) Size() (int64, error) {
	info, err := sf.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", sf.path, err)
	}
	return info.Size(), nil
}

// ReadAt fills p starting at off, failing if fewer than len(p) bytes are
// available.
func (sf *File) ReadAt(off int64, p []byte) error {
	if _, err := sf.f.ReadAt(p, off); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("storage: read %s at %d: %w", sf.path, off, err)
	}
	return nil
}

// WriteAt writes p at off, growing the file if off+len(p) exceeds its
// current size.
func (sf *File) WriteAt(off int64, p []byte) error {
	if _, err := sf.f.WriteAt(p, off); err != nil {
		return fmt.Errorf("storage: write %s at %d: %w", sf.path, off, err)
	}
	return nil
}

// Append writes p immediately after the file's current end and returns the
// offset it was written at.
func (sf *File) Append(p []byte) (int64, error) {
	off, err := sf.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("storage: seek end %s: %w", sf.path, err)
	}

	if _, err := sf.f.Write(p); err != nil {
		return 0, fmt.Errorf("storage: append %s: %w", sf.path, err)
	}

	return off, nil
}

// Truncate grows or shrinks the file to exactly size bytes.
func (sf *File) Truncate(size int64) error {
	if err := sf.f.Truncate(size); err != nil {
		return fmt.Errorf("storage: truncate %s: %w", sf.path, err)
	}
	return nil
}

// Sync flushes the file's content to disk.
func (sf *File) Sync() error {
	if err := sf.f.Sync(); err != nil {
		return fmt.Errorf("storage: sync %s: %w", sf.path, err)
	}
	return nil
}

// Close releases the advisory lock and closes the underlying file.
func (sf *File) Close() error {
	unix.Flock(int(sf.f.Fd()), unix.LOCK_UN)
	if err := sf.f.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", sf.path, err)
	}
	return nil
}

// SectionReader returns an io.Reader scoped to [off, off+n), for decoding a
// single record without hand-rolling bounds checks at each call site.
func (sf *File) SectionReader(off, n int64) *io.SectionReader {
	return io.NewSectionReader(sf.f, off, n)
}

// Reader returns an io.Reader starting at off and running to the end of the
// file — used by ptree.Keys(), which scans until decoding fails.
func (sf *File) Reader(off int64) io.Reader {
	return io.NewSectionReader(sf.f, off, 1<<62)
}
