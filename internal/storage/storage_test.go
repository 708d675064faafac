package storage

import (
	"io"
	"path/filepath"
	"testing"
)

func TestAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "x.dat"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	off1, err := f.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if off1 != 0 {
		t.Fatalf("expected first append at offset 0, got %d", off1)
	}

	off2, err := f.Append([]byte("world"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if off2 != 5 {
		t.Fatalf("expected second append at offset 5, got %d", off2)
	}

	buf := make([]byte, 5)
	if err := f.ReadAt(5, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("got %q want %q", buf, "world")
	}

	size, err := f.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 10 {
		t.Fatalf("got size %d want 10", size)
	}
}

func TestSecondOwnerIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.dat")

	f1, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f1.Close()

	if _, err := Open(path); err == nil {
		t.Fatalf("expected second concurrent owner to be rejected")
	}
}

func TestReadAtPastEndIsUnexpectedEOF(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "x.dat"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	f.Append([]byte("ab"))

	buf := make([]byte, 10)
	if err := f.ReadAt(0, buf); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF reading past end of file, got %v", err)
	}
}
