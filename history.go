package sessionfile

// historyMerger merges one history kind's live entries with entries read
// from a file into a bounded, timestamp-ordered, text-deduplicated list.
//
// Slots live in a flat arena and link to each other by index; -1 is the nil
// link. The arena never grows past the configured capacity, so a merge over
// an adversarially large file stays bounded.
type historyMerger struct {
	kind  HistoryKind
	slots []histSlot
	index map[string]int // entry text to slot index
	head  int            // oldest
	tail  int            // newest
	free  []int
	count int

	// Live-entry interleave state. The iterator is single-pass; one entry
	// of lookahead lets file entries slot in between live ones in
	// timestamp order.
	iter     func() (HistoryLine, bool)
	nextLive HistoryLine
	hasLive  bool
}

type histSlot struct {
	e    Entry
	src  owner
	prev int
	next int
}

const nilSlot = -1

// newHistoryMerger sets up a merger with the given capacity. iter yields
// live entries oldest first and may be nil. A zero capacity disables the
// kind entirely: every insert becomes a no-op.
func newHistoryMerger(kind HistoryKind, capacity int, iter func() (HistoryLine, bool)) *historyMerger {
	m := &historyMerger{
		kind:  kind,
		index: make(map[string]int, capacity),
		head:  nilSlot,
		tail:  nilSlot,
		iter:  iter,
	}

	if capacity > 0 {
		m.slots = make([]histSlot, 0, capacity)
	}

	if iter != nil {
		m.nextLive, m.hasLive = iter()
	}

	return m
}

func (m *historyMerger) enabled() bool {
	return cap(m.slots) > 0
}

// insertFile merges one entry parsed from the file. Live entries older than
// it are replayed first so the relative order of equal-information entries
// follows their timestamps.
func (m *historyMerger) insertFile(e Entry) {
	if !m.enabled() {
		return
	}

	for m.hasLive && m.nextLive.Timestamp < e.Timestamp {
		m.insert(m.liveEntry(m.nextLive), borrowed)
		m.nextLive, m.hasLive = m.iter()
	}

	m.insert(e, owned)
}

// insertLiveRemaining drains whatever the live iterator still holds. Called
// after the file pass, and alone when there is no file to merge.
func (m *historyMerger) insertLiveRemaining() {
	if !m.enabled() {
		m.drainIter()

		return
	}

	for m.hasLive {
		m.insert(m.liveEntry(m.nextLive), borrowed)
		m.nextLive, m.hasLive = m.iter()
	}
}

// drainIter exhausts the iterator without storing anything, so a removing
// iterator still clears live memory when the kind is disabled.
func (m *historyMerger) drainIter() {
	for m.hasLive {
		m.nextLive, m.hasLive = m.iter()
	}
}

func (m *historyMerger) liveEntry(h HistoryLine) Entry {
	return Entry{
		Kind:      KindHistoryEntry,
		Timestamp: h.Timestamp,
		Data: HistoryEntryData{
			HistKind: m.kind,
			Line:     h.Line,
			Sep:      h.Sep,
		},
	}
}

// insert places one entry into the list, deduplicating by text. On a text
// collision the greater timestamp wins; on an exact tie the live entry wins
// over the one parsed from the file.
func (m *historyMerger) insert(e Entry, src owner) {
	text := e.Data.(HistoryEntryData).Line

	if idx, ok := m.index[text]; ok {
		existing := m.slots[idx].e.Timestamp
		if e.Timestamp < existing || (e.Timestamp == existing && src == owned) {
			return
		}

		m.unlink(idx)
	}

	if m.count == cap(m.slots) {
		m.unlink(m.head)
	}

	// Scan from the newest end for the first entry not newer than ours.
	after := m.tail
	for after != nilSlot && m.slots[after].e.Timestamp > e.Timestamp {
		after = m.slots[after].prev
	}

	idx := m.alloc()
	m.slots[idx] = histSlot{e: e, src: src, prev: after, next: nilSlot}

	if after == nilSlot {
		m.slots[idx].next = m.head
		m.head = idx
	} else {
		m.slots[idx].next = m.slots[after].next
		m.slots[after].next = idx
	}

	if m.slots[idx].next == nilSlot {
		m.tail = idx
	} else {
		m.slots[m.slots[idx].next].prev = idx
	}

	m.index[text] = idx
	m.count++
}

func (m *historyMerger) alloc() int {
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]

		return idx
	}

	m.slots = append(m.slots, histSlot{})

	return len(m.slots) - 1
}

func (m *historyMerger) unlink(idx int) {
	s := m.slots[idx]

	if s.prev == nilSlot {
		m.head = s.next
	} else {
		m.slots[s.prev].next = s.next
	}

	if s.next == nilSlot {
		m.tail = s.prev
	} else {
		m.slots[s.next].prev = s.prev
	}

	delete(m.index, s.e.Data.(HistoryEntryData).Line)
	m.free = append(m.free, idx)
	m.count--
}

// entries returns the merged list oldest first.
func (m *historyMerger) entries() []Entry {
	out := make([]Entry, 0, m.count)
	for idx := m.head; idx != nilSlot; idx = m.slots[idx].next {
		out = append(out, m.slots[idx].e)
	}

	return out
}

// lines is entries converted back to the live representation.
func (m *historyMerger) lines() []HistoryLine {
	out := make([]HistoryLine, 0, m.count)
	for idx := m.head; idx != nilSlot; idx = m.slots[idx].next {
		d := m.slots[idx].e.Data.(HistoryEntryData)
		out = append(out, HistoryLine{
			Line:      d.Line,
			Sep:       d.Sep,
			Timestamp: m.slots[idx].e.Timestamp,
		})
	}

	return out
}
