package fs

import (
	"errors"
	"os"
	"sync"
)

// InjectedError marks an error as intentionally injected by [Faulty]. It
// wraps the underlying error so errors.Is and errors.As keep working.
type InjectedError struct {
	Err error
}

func (e *InjectedError) Error() string {
	return e.Err.Error()
}

func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by
// [Faulty]. Returns false if err is nil.
func IsInjected(err error) bool {
	if err == nil {
		return false
	}

	var injected *InjectedError

	return errors.As(err, &injected)
}

func inject(err error) error {
	if IsInjected(err) {
		return err
	}

	return &InjectedError{Err: err}
}

// Faulty wraps another [FS] and fails selected operations, deterministically.
// Hooks that are nil never fire; a hook returning a non-nil error replaces
// the operation's result with that error, wrapped in [InjectedError].
//
// WriteBudget, when non-negative, bounds the total bytes written through
// files opened for writing; the write that would exceed it fails. This is
// how tests simulate a disk filling up mid-write.
type Faulty struct {
	Inner FS

	FailOpen     func(path string) error
	FailOpenFile func(path string, flag int) error
	FailRename   func(oldpath, newpath string) error
	FailSync     bool

	// WriteBudget < 0 means unlimited.
	WriteBudget int64

	mu      sync.Mutex
	written int64
}

// NewFaulty wraps inner with no failures armed.
func NewFaulty(inner FS) *Faulty {
	return &Faulty{Inner: inner, WriteBudget: -1}
}

func (f *Faulty) Open(path string) (File, error) {
	if f.FailOpen != nil {
		if err := f.FailOpen(path); err != nil {
			return nil, inject(err)
		}
	}

	return f.Inner.Open(path)
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if f.FailOpenFile != nil {
		if err := f.FailOpenFile(path, flag); err != nil {
			return nil, inject(err)
		}
	}

	file, err := f.Inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return &faultyFile{File: file, fs: f}, nil
	}

	return file, nil
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if f.FailOpen != nil {
		if err := f.FailOpen(path); err != nil {
			return nil, inject(err)
		}
	}

	return f.Inner.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte) error {
	if err := f.chargeWrite(int64(len(data))); err != nil {
		return err
	}

	return f.Inner.WriteFileAtomic(path, data)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	return f.Inner.MkdirAll(path, perm)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	if f.FailRename != nil {
		if err := f.FailRename(oldpath, newpath); err != nil {
			return inject(err)
		}
	}

	return f.Inner.Rename(oldpath, newpath)
}

// errNoSpace is what the budget exhaustion surfaces as.
var errNoSpace = errors.New("no space left on device")

func (f *Faulty) chargeWrite(n int64) error {
	if f.WriteBudget < 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.written+n > f.WriteBudget {
		return inject(errNoSpace)
	}

	f.written += n

	return nil
}

// faultyFile charges writes against the owning [Faulty]'s budget.
type faultyFile struct {
	File
	fs *Faulty
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if err := ff.fs.chargeWrite(int64(len(p))); err != nil {
		return 0, err
	}

	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	if ff.fs.FailSync {
		return inject(errors.New("sync failed"))
	}

	return ff.File.Sync()
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
