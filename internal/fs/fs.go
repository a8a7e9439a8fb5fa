// Package fs abstracts the filesystem operations the session-file engine
// performs, so tests can fail exact steps of the write sequence and verify
// that the target file survives untouched.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os]
//   - [Faulty]: testing implementation that fails selected operations
package fs

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// This interface is satisfied by [os.File] and works with all standard
// library functions that accept [io.Reader], [io.Writer], [io.Seeker] or
// [io.Closer].
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chown changes the numeric owner of the file. See [os.File.Chown].
	Chown(uid, gid int) error
}

// FS defines the filesystem operations the engine needs. All methods mirror
// their [os] equivalents but can be intercepted for testing.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with the given flags and permissions. See
	// [os.OpenFile]. The engine relies on [os.O_EXCL] semantics for its
	// temporary files.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically via a temp file
	// and rename, so readers never observe a partial write.
	WriteFileAtomic(path string, data []byte) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Rename moves a file. See [os.Rename]. Atomic on the same
	// filesystem.
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
