package sessionfile

import "errors"

// Sentinel errors returned by sessionfile operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, sessionfile.ErrNotSessionFile) {
//	    // the file belongs to something else; nothing was merged
//	}
var (
	// ErrNotSessionFile indicates the source stream does not look like a
	// session file: its framing is malformed at a point where no recovery
	// is possible (truncated frame header, reserved tag on disk, or an
	// implausible first record).
	//
	// On write this is a caveat, not a failure: the new file contents were
	// still produced from live state alone.
	ErrNotSessionFile = errors.New("sessionfile: not a session file")

	// ErrTooManyTempFiles indicates every temporary file name from
	// <target>.tmp.a through <target>.tmp.z already exists. Stale temp
	// files from crashed writers must be removed manually.
	ErrTooManyTempFiles = errors.New("sessionfile: all temp files exist")

	// ErrNotWritable indicates the target exists but cannot be replaced:
	// it is a directory, or the current user lacks write permission on it.
	ErrNotWritable = errors.New("sessionfile: target not writable")

	// ErrRenameFailed indicates the new file contents were fully written
	// to a temporary file but the atomic rename into place failed. The
	// temporary file is left on disk; the error text carries its path so
	// the data can be recovered manually.
	ErrRenameFailed = errors.New("sessionfile: rename failed")

	// errMalformedRecord marks a single record that failed schema
	// validation. It never escapes the package: malformed records are
	// dropped and decoding resumes at the next record boundary.
	errMalformedRecord = errors.New("sessionfile: malformed record")
)

// Outcome is the tri-state result of a public operation.
type Outcome int

const (
	// OutcomeFailed means the operation did not complete; the accompanying
	// error explains why. On write, the target file is untouched.
	OutcomeFailed Outcome = iota

	// OutcomeSuccess means the operation completed cleanly.
	OutcomeSuccess

	// OutcomeCaveat means the operation completed but the caller should
	// surface the accompanying error: the merged-from source was not a
	// session file, or written data awaits a manual rename.
	OutcomeCaveat
)

// String returns a short human-readable form for diagnostics.
func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeSuccess:
		return "success"
	case OutcomeCaveat:
		return "caveat"
	default:
		return "unknown"
	}
}
