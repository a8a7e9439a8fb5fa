package sessionfile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadFlags selects which categories a read pass applies to live state.
type ReadFlags uint8

const (
	// ReadInfo applies histories, registers, variables, patterns and the
	// buffer list.
	ReadInfo ReadFlags = 1 << iota

	// ReadMarks applies global and local marks and change lists.
	ReadMarks

	// ReadForce applies file state even where live state is newer, and
	// replaces live histories instead of merging into them.
	ReadForce
)

// ReadFile reads the session file at path and applies it to live state. A
// missing file is not an error; there is simply nothing to restore.
func (e *Engine) ReadFile(path string, flags ReadFlags) (Outcome, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return OutcomeSuccess, nil
		}

		return OutcomeFailed, fmt.Errorf("sessionfile: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return e.Read(f, flags)
}

// Read applies the session records of r to live state. Records lose to live
// state with an equal or greater timestamp unless [ReadForce] is set.
// Individually malformed records are logged and skipped; a stream that does
// not frame as a session file at all aborts with [OutcomeCaveat] and
// [ErrNotSessionFile].
func (e *Engine) Read(r io.Reader, flags ReadFlags) (Outcome, error) {
	rp := &readPass{
		e:       e,
		force:   flags&ReadForce != 0,
		changes: make(map[string]*markList),
	}

	er := newEntryReader(r)
	want := e.wantSet(flags)

	for {
		entry, st, err := readNextEntry(er, want, e.cfg.MaxItemSize)

		switch st {
		case readFinished:
			rp.finish()

			return OutcomeSuccess, nil
		case readSuccess:
			rp.apply(entry)
		case readMalformed:
			e.log.Warn("skipping malformed record in session file", "error", err)
		case readNotSessionFile:
			return OutcomeCaveat, err
		case readError:
			return OutcomeFailed, err
		}
	}
}

func (e *Engine) wantSet(flags ReadFlags) kindSet {
	var want kindSet

	if flags&ReadInfo != 0 {
		want |= undisableableKinds

		if e.cfg.historyEnabled() {
			want |= wantKind(KindHistoryEntry)
		}

		if e.cfg.MaxRegisterLines != 0 {
			want |= wantKind(KindRegister)
		}

		if e.cfg.SaveVariables {
			want |= wantKind(KindGlobalVariable)
		}

		if e.cfg.SaveBufferList && e.cfg.ApplyBufferList {
			want |= wantKind(KindBufferList)
		}
	}

	if flags&ReadMarks != 0 {
		want |= wantKind(KindGlobalMark) | wantKind(KindLocalMark) | wantKind(KindChange)
	}

	return want
}

// readPass holds the merge structures a single read builds up before
// committing them back to live state.
type readPass struct {
	e     *Engine
	force bool

	histories [HistoryKindCount]*historyMerger

	jumps *markList

	changes      map[string]*markList
	changedFiles []string

	liveChanges map[string][]Mark
}

func (rp *readPass) apply(entry Entry) {
	st := rp.e.state

	switch entry.Kind {
	case KindSearchPattern:
		rp.applyPattern(entry)
	case KindSubstituteString:
		d := entry.Data.(SubstituteStringData)
		if live, ok := st.Replacement(); ok && !rp.force && live.Timestamp >= entry.Timestamp {
			return
		}

		st.SetReplacement(Replacement{Text: d.Sub, Timestamp: entry.Timestamp})
	case KindHistoryEntry:
		rp.applyHistory(entry)
	case KindRegister:
		rp.applyRegister(entry)
	case KindGlobalVariable:
		d := entry.Data.(VariableData)
		st.SetVariable(d.Name, d.Value)
	case KindGlobalMark:
		d := entry.Data.(MarkData)
		if live, ok := st.GlobalMark(d.Name); ok && !rp.force && live.Timestamp >= entry.Timestamp {
			return
		}

		st.SetGlobalMark(markOf(entry))
	case KindJump:
		if rp.jumps == nil {
			rp.jumps = newMarkList(true)
			for _, m := range st.Jumps() {
				rp.jumps.insert(markEntry(KindJump, m), borrowed)
			}
		}

		rp.jumps.insert(entry, owned)
	case KindBufferList:
		d := entry.Data.(BufferListData)
		positions := make([]BufferPos, 0, len(d.Buffers))

		for _, b := range d.Buffers {
			positions = append(positions, BufferPos{File: b.File, Line: b.Line, Col: b.Col})
		}

		st.SetBufferList(positions)
	case KindLocalMark:
		d := entry.Data.(MarkData)
		if live, ok := st.LocalMark(d.File, d.Name); ok && !rp.force && live.Timestamp >= entry.Timestamp {
			return
		}

		st.SetLocalMark(d.File, markOf(entry))
	case KindChange:
		rp.applyChange(entry)
	case KindHeader, KindMissing, KindUnknown:
		// Informational or uninterpretable; nothing to apply.
	}
}

func (rp *readPass) applyPattern(entry Entry) {
	st := rp.e.state
	d := entry.Data.(SearchPatternData)

	get, set := st.SearchPattern, st.SetSearchPattern
	if d.IsSubstitute {
		get, set = st.SubstitutePattern, st.SetSubstitutePattern
	}

	if live, ok := get(); ok && !rp.force && live.Timestamp >= entry.Timestamp {
		return
	}

	set(Pattern{
		Pat:              d.Pat,
		Magic:            d.Magic,
		Smartcase:        d.Smartcase,
		HasLineOffset:    d.HasLineOffset,
		PlaceCursorAtEnd: d.PlaceCursorAtEnd,
		Offset:           d.Offset,
		LastUsed:         d.IsLastUsed,
		Highlighted:      d.Highlighted,
		Backward:         d.Backward,
		Timestamp:        entry.Timestamp,
	})

	if d.IsLastUsed {
		st.SetLastUsedPattern(d.IsSubstitute, d.Highlighted)
	}
}

func (rp *readPass) applyHistory(entry Entry) {
	d := entry.Data.(HistoryEntryData)
	if d.HistKind >= HistoryKindCount {
		return
	}

	m := rp.histories[d.HistKind]
	if m == nil {
		var it func() (HistoryLine, bool)
		if !rp.force {
			// Merging read: live entries interleave by timestamp. The
			// removing iterator hands ownership of the live list to the
			// merger; SetHistory in finish writes the result back.
			it = rp.e.state.HistoryIter(d.HistKind, true)
		}

		m = newHistoryMerger(d.HistKind, rp.e.cfg.HistorySize[d.HistKind], it)
		rp.histories[d.HistKind] = m
	}

	m.insertFile(entry)
}

func (rp *readPass) applyRegister(entry Entry) {
	st := rp.e.state
	d := entry.Data.(RegisterData)

	if live, ok := st.Register(d.Name); ok && !rp.force && live.Timestamp >= entry.Timestamp {
		return
	}

	st.SetRegister(RegisterContent{
		Name:      d.Name,
		Type:      d.Type,
		Lines:     d.Lines,
		Width:     d.Width,
		Unnamed:   d.Unnamed,
		Timestamp: entry.Timestamp,
	})
}

func (rp *readPass) applyChange(entry Entry) {
	d := entry.Data.(MarkData)

	l, ok := rp.changes[d.File]
	if !ok {
		if rp.liveChanges == nil {
			rp.liveChanges = make(map[string][]Mark)
			for _, buf := range rp.e.state.Buffers() {
				rp.liveChanges[buf.File] = buf.Changes
			}
		}

		l = newMarkList(false)
		for _, m := range rp.liveChanges[d.File] {
			l.insert(markEntry(KindChange, m), borrowed)
		}

		rp.changes[d.File] = l
		rp.changedFiles = append(rp.changedFiles, d.File)
	}

	l.insert(entry, owned)
}

// finish commits the accumulated list merges back to live state. Categories
// no file record touched are left alone.
func (rp *readPass) finish() {
	st := rp.e.state

	for kind := HistoryKind(0); kind < HistoryKindCount; kind++ {
		m := rp.histories[kind]
		if m == nil {
			continue
		}

		m.insertLiveRemaining()
		st.SetHistory(kind, m.lines())
	}

	if rp.jumps != nil {
		st.SetJumps(rp.jumps.marks())
	}

	for _, file := range rp.changedFiles {
		st.SetChanges(file, rp.changes[file].marks())
	}
}

func markOf(entry Entry) Mark {
	d := entry.Data.(MarkData)

	return Mark{
		Name:      d.Name,
		Line:      d.Line,
		Col:       d.Col,
		File:      d.File,
		Timestamp: entry.Timestamp,
	}
}
