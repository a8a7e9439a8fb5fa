// Package sessionfile persists and restores editor session state across
// process restarts using a single shared on-disk file.
//
// A session file is a flat sequence of framed records: search patterns,
// command/search history, registers, marks, jump lists, global variables and
// the open-buffer list. Multiple independent processes read and write the
// same file at different times; before writing, the engine merges its own
// in-memory state with whatever a prior (or concurrent) process already
// persisted, resolving conflicts per category by timestamp.
//
// # Basic Usage
//
//	eng := sessionfile.New(state, sessionfile.DefaultConfig())
//
//	// Restore state on startup.
//	outcome, err := eng.ReadFile("~/.local/state/session.dat",
//	    sessionfile.ReadInfo|sessionfile.ReadMarks)
//
//	// Persist state on shutdown (merging with the file's current contents).
//	outcome, err = eng.WriteFile("~/.local/state/session.dat", false)
//
// # Concurrency
//
// No inter-process locking is used. Writers build the new file contents in a
// temporary file next to the target and rename it into place, so readers
// never observe a partially written file. Two concurrent writers race, but
// each merges the committed state of the other before writing, and the
// per-category "greater timestamp wins" rule keeps the outcome stable.
//
// # Error Handling
//
// Operations return an [Outcome] plus an error. [OutcomeFailed] means
// nothing useful happened (the error says why). [OutcomeCaveat] means the
// operation completed but something is worth surfacing: the source did not
// look like a session file, or a written temporary file could not be renamed
// into place (the error carries the temp path so the operator can recover).
// Individually malformed records and unserializable values are skipped and
// logged, never fatal.
package sessionfile
