package sessionfile

import (
	"fmt"
	"io"
)

// Entries decodes every record of r, including unknown ones, in file order.
// Individually malformed records are dropped. maxItemSize behaves as in
// [Config]; zero means unlimited.
//
// This is the raw view of a session file, intended for tooling; restoring
// state into an editor goes through [Engine.Read].
func Entries(r io.Reader, maxItemSize int) ([]Entry, error) {
	er := newEntryReader(r)

	var out []Entry

	for {
		entry, st, err := readNextEntry(er, ^kindSet(0), maxItemSize)

		switch st {
		case readFinished:
			return out, nil
		case readSuccess:
			out = append(out, entry)
		case readMalformed:
			continue
		default:
			return out, err
		}
	}
}

// WriteEntries frames and writes the given records to w in order.
func WriteEntries(w io.Writer, entries []Entry) error {
	ew := newEntryWriter(w)

	for _, entry := range entries {
		st, err := ew.writeEntry(entry, 0)
		if st != writeOK {
			return fmt.Errorf("sessionfile: %s record: %w", entry.Kind, err)
		}
	}

	return nil
}
