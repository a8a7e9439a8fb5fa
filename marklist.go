package sessionfile

// maxListedMarks bounds the jump list and each buffer's change list.
const maxListedMarks = 100

// markList is a timestamp-ordered bounded list of jump or change entries,
// oldest first.
type markList struct {
	items []pendingEntry

	// matchFile widens the duplicate check to the file name. Jump lists
	// span files; change lists are per-file so position alone decides.
	matchFile bool
}

func newMarkList(matchFile bool) *markList {
	return &markList{
		items:     make([]pendingEntry, 0, maxListedMarks),
		matchFile: matchFile,
	}
}

// insert places one entry in timestamp order. A duplicate of the entry at
// the insertion boundary is dropped, and an entry older than everything in a
// full list is rejected. Reports whether the entry was kept.
func (l *markList) insert(e Entry, src owner) bool {
	mark := e.Data.(MarkData)

	// Scan from the newest end for the first entry not newer than ours.
	i := len(l.items)
	for ; i > 0; i-- {
		prev := l.items[i-1]
		if prev.e.Timestamp > e.Timestamp {
			continue
		}

		if l.sameTarget(prev.e.Data.(MarkData), mark) {
			return false
		}

		break
	}

	if len(l.items) == cap(l.items) {
		if i == 0 {
			// Older than the whole list and no room to grow.
			return false
		}

		copy(l.items, l.items[1:i])
		l.items[i-1] = pendingEntry{e: e, src: src, set: true}

		return true
	}

	l.items = append(l.items, pendingEntry{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = pendingEntry{e: e, src: src, set: true}

	return true
}

func (l *markList) sameTarget(a, b MarkData) bool {
	if a.Line != b.Line || a.Col != b.Col {
		return false
	}

	return !l.matchFile || a.File == b.File
}

// entries returns the list oldest first.
func (l *markList) entries() []Entry {
	out := make([]Entry, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it.e)
	}

	return out
}

func (l *markList) marks() []Mark {
	out := make([]Mark, 0, len(l.items))

	for _, it := range l.items {
		d := it.e.Data.(MarkData)
		out = append(out, Mark{
			Name:      d.Name,
			Line:      d.Line,
			Col:       d.Col,
			File:      d.File,
			Timestamp: it.e.Timestamp,
		})
	}

	return out
}
