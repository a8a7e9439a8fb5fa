package sessionfile

import "sort"

// pendingEntry is one single-winner slot of the write merge: the best
// candidate seen so far for a category that persists exactly one record.
type pendingEntry struct {
	e   Entry
	src owner
	set bool
}

// setLive seeds the slot from live editor state. Live slots are seeded
// before the file is scanned, and the timestamp rule below makes them win
// exact ties, so live state beats the file uniformly.
func (p *pendingEntry) setLive(e Entry) {
	*p = pendingEntry{e: e, src: borrowed, set: true}
}

// mergeFile offers an entry parsed from the file. It wins only with a
// strictly greater timestamp.
func (p *pendingEntry) mergeFile(e Entry) {
	if p.set && p.e.Timestamp >= e.Timestamp {
		return
	}

	*p = pendingEntry{e: e, src: owned, set: true}
}

// localMarkSlots covers the per-file mark names: a-z plus the quote, caret
// and dot marks.
const localMarkSlots = 29

func localMarkIndex(name byte) int {
	switch {
	case name >= 'a' && name <= 'z':
		return int(name - 'a')
	case name == '"':
		return 26
	case name == '^':
		return 27
	case name == '.':
		return 28
	default:
		return -1
	}
}

// registerEmitOrder fixes the output order of register records. Registers
// with names outside this table still persist; they are emitted after the
// known ones, sorted by name.
var registerEmitOrder = func() []byte {
	names := []byte{'"', '-', '*', '+', '/'}
	for c := byte('a'); c <= 'z'; c++ {
		names = append(names, c)
	}

	for c := byte('0'); c <= '9'; c++ {
		names = append(names, c)
	}

	return names
}()

// fileMarks collects everything persisted per file: the named local marks,
// the change list, and any marks with unrecognized names carried through
// unchanged.
type fileMarks struct {
	marks   [localMarkSlots]pendingEntry
	extra   []Entry
	changes *markList

	// greatestTimestamp ranks files when only the top MaxFiles many keep
	// their marks in the written file.
	greatestTimestamp int64
}

// writeMergeState accumulates merge winners across a write pass: live state
// is seeded first, then the existing file is scanned and each record either
// displaces a slot, lands in a bounded list, or is dropped.
type writeMergeState struct {
	searchPat    pendingEntry
	subSearchPat pendingEntry
	replacement  pendingEntry

	globalMarks   [26]pendingEntry // A-Z
	numberedMarks [10]pendingEntry // '0' newest, kept ordered
	extraGlobal   []Entry          // global marks with unrecognized names

	registers map[byte]*pendingEntry

	jumps *markList

	files map[string]*fileMarks

	// dumpedVars names the variables already packed from live state, so
	// file records for them are not emitted again.
	dumpedVars map[string]bool

	histories [HistoryKindCount]*historyMerger
}

func newWriteMergeState() *writeMergeState {
	return &writeMergeState{
		registers:  make(map[byte]*pendingEntry),
		jumps:      newMarkList(true),
		files:      make(map[string]*fileMarks),
		dumpedVars: make(map[string]bool),
	}
}

func (w *writeMergeState) register(name byte) *pendingEntry {
	p, ok := w.registers[name]
	if !ok {
		p = &pendingEntry{}
		w.registers[name] = p
	}

	return p
}

func (w *writeMergeState) file(name string) *fileMarks {
	fm, ok := w.files[name]
	if !ok {
		fm = &fileMarks{changes: newMarkList(false)}
		w.files[name] = fm
	}

	return fm
}

func (w *writeMergeState) touchFile(name string, timestamp int64) *fileMarks {
	fm := w.file(name)
	if timestamp > fm.greatestTimestamp {
		fm.greatestTimestamp = timestamp
	}

	return fm
}

// mergeGlobalMark routes one global-mark entry. Letter marks occupy fixed
// slots, digit marks keep the numbered list in recency order, anything else
// is carried through untouched.
func (w *writeMergeState) mergeGlobalMark(e Entry, src owner) {
	name := e.Data.(MarkData).Name

	switch {
	case name >= 'A' && name <= 'Z':
		if src == borrowed {
			w.globalMarks[name-'A'].setLive(e)
		} else {
			w.globalMarks[name-'A'].mergeFile(e)
		}
	case name >= '0' && name <= '9':
		w.mergeNumberedMark(e, src)
	default:
		w.extraGlobal = append(w.extraGlobal, e)
	}
}

// mergeNumberedMark slots a digit mark into the numbered list, newest first.
// A mark pointing at a position already listed is dropped regardless of its
// name.
func (w *writeMergeState) mergeNumberedMark(e Entry, src owner) {
	mark := e.Data.(MarkData)

	for i := range w.numberedMarks {
		if !w.numberedMarks[i].set {
			continue
		}

		d := w.numberedMarks[i].e.Data.(MarkData)
		if d.Line == mark.Line && d.Col == mark.Col && d.File == mark.File {
			return
		}
	}

	for i := range w.numberedMarks {
		slot := &w.numberedMarks[i]
		if !slot.set || slot.e.Timestamp < e.Timestamp ||
			(slot.e.Timestamp == e.Timestamp && src == borrowed) {
			w.replaceNumberedMark(i, e, src)

			return
		}
	}
}

// replaceNumberedMark inserts at idx, shifting older marks down one slot.
// Shifted digit-named marks are renamed to match their new position; the
// oldest falls off the end.
func (w *writeMergeState) replaceNumberedMark(idx int, e Entry, src owner) {
	last := len(w.numberedMarks) - 1

	for i := idx; i < last; i++ {
		slot := &w.numberedMarks[i]
		if !slot.set {
			continue
		}

		d := slot.e.Data.(MarkData)
		if d.Name >= '0' && d.Name <= '9' {
			d.Name = byte('0' + i + 1)
			slot.e.Data = d
		}
	}

	copy(w.numberedMarks[idx+1:], w.numberedMarks[idx:last])
	w.numberedMarks[idx] = pendingEntry{e: e, src: src, set: true}
}

// setNumberedFromCurrent refreshes the most-recent-position slot from the
// cursor, renaming whatever digit mark held it before.
func (w *writeMergeState) setNumberedFromCurrent(pos Mark, now int64) {
	data := defaultMark()
	data.Name = '0'
	data.Line = pos.Line
	data.Col = pos.Col
	data.File = pos.File

	e := Entry{Kind: KindGlobalMark, Timestamp: now, Data: data}

	w.replaceNumberedMark(0, e, borrowed)
}

// mergeEntry routes one record parsed from the existing file. Records that
// are reproduced verbatim rather than merged (unknown kinds, untracked
// variables) are handed to emit.
func (w *writeMergeState) mergeEntry(e Entry, cfg *Config, emit func(Entry) error) error {
	switch e.Kind {
	case KindSearchPattern:
		d := e.Data.(SearchPatternData)
		if d.IsSubstitute {
			w.subSearchPat.mergeFile(e)
		} else {
			w.searchPat.mergeFile(e)
		}
	case KindSubstituteString:
		w.replacement.mergeFile(e)
	case KindHistoryEntry:
		d := e.Data.(HistoryEntryData)
		if d.HistKind < HistoryKindCount {
			w.histories[d.HistKind].insertFile(e)
		}
	case KindRegister:
		w.register(e.Data.(RegisterData).Name).mergeFile(e)
	case KindGlobalVariable:
		name := e.Data.(VariableData).Name
		if !w.dumpedVars[name] {
			w.dumpedVars[name] = true

			return emit(e)
		}
	case KindGlobalMark:
		if cfg.removable(e.Data.(MarkData).File) {
			return nil
		}

		w.mergeGlobalMark(e, owned)
	case KindJump:
		if cfg.removable(e.Data.(MarkData).File) {
			return nil
		}

		w.jumps.insert(e, owned)
	case KindLocalMark:
		d := e.Data.(MarkData)
		if cfg.removable(d.File) {
			return nil
		}

		fm := w.touchFile(d.File, e.Timestamp)
		if idx := localMarkIndex(d.Name); idx >= 0 {
			fm.marks[idx].mergeFile(e)
		} else {
			fm.extra = append(fm.extra, e)
		}
	case KindChange:
		d := e.Data.(MarkData)
		if cfg.removable(d.File) {
			return nil
		}

		w.touchFile(d.File, e.Timestamp).changes.insert(e, owned)
	case KindUnknown:
		return emit(e)
	case KindHeader, KindBufferList:
		// Regenerated fresh on every write.
	case KindMissing:
		// Unreachable: the reader rejects tag zero.
	}

	return nil
}

// rankedFiles returns the files with marks, most recently touched first.
// Ties order lexically so output is stable.
func (w *writeMergeState) rankedFiles() []string {
	names := make([]string, 0, len(w.files))
	for name := range w.files {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		a, b := w.files[names[i]], w.files[names[j]]
		if a.greatestTimestamp != b.greatestTimestamp {
			return a.greatestTimestamp > b.greatestTimestamp
		}

		return names[i] < names[j]
	})

	return names
}

// registerOrder returns all register names with pending contents in the
// fixed emit order followed by unrecognized names sorted.
func (w *writeMergeState) registerOrder() []byte {
	known := make(map[byte]bool, len(registerEmitOrder))
	out := make([]byte, 0, len(w.registers))

	for _, name := range registerEmitOrder {
		known[name] = true
		if p, ok := w.registers[name]; ok && p.set {
			out = append(out, name)
		}
	}

	var rest []byte

	for name, p := range w.registers {
		if !known[name] && p.set {
			rest = append(rest, name)
		}
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })

	return append(out, rest...)
}
