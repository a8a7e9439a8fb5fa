package sessionfile

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func jumpEntry(file string, line, ts int64) Entry {
	data := defaultMark()
	data.Line = line
	data.File = file

	return Entry{Kind: KindJump, Timestamp: ts, Data: data}
}

func listFiles(l *markList) []string {
	var out []string
	for _, e := range l.entries() {
		out = append(out, e.Data.(MarkData).File)
	}

	return out
}

func TestMarkListKeepsTimestampOrder(t *testing.T) {
	t.Parallel()

	l := newMarkList(true)

	l.insert(jumpEntry("/c", 1, 30), owned)
	l.insert(jumpEntry("/a", 1, 10), owned)
	l.insert(jumpEntry("/b", 1, 20), owned)

	want := []string{"/a", "/b", "/c"}
	if diff := cmp.Diff(want, listFiles(l)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkListDropsDuplicateAtBoundary(t *testing.T) {
	t.Parallel()

	l := newMarkList(true)

	l.insert(jumpEntry("/a", 5, 10), owned)

	if l.insert(jumpEntry("/a", 5, 20), owned) {
		t.Fatal("duplicate position was inserted")
	}

	if got := len(l.items); got != 1 {
		t.Fatalf("list has %d entries, want 1", got)
	}
}

func TestMarkListSamePositionDifferentFileKept(t *testing.T) {
	t.Parallel()

	l := newMarkList(true)

	l.insert(jumpEntry("/a", 5, 10), owned)

	if !l.insert(jumpEntry("/b", 5, 20), owned) {
		t.Fatal("same position in a different file was dropped")
	}
}

func TestMarkListChangeVariantIgnoresFile(t *testing.T) {
	t.Parallel()

	l := newMarkList(false)

	l.insert(jumpEntry("/a", 5, 10), owned)

	if l.insert(jumpEntry("/b", 5, 20), owned) {
		t.Fatal("position duplicate with differing file was kept")
	}
}

func TestMarkListEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	l := newMarkList(true)

	for i := 0; i < maxListedMarks; i++ {
		l.insert(jumpEntry(fmt.Sprintf("/f%d", i), 1, int64(i+1)), owned)
	}

	if !l.insert(jumpEntry("/new", 1, 1000), owned) {
		t.Fatal("newest entry rejected from full list")
	}

	if got := len(l.items); got != maxListedMarks {
		t.Fatalf("list has %d entries, want %d", got, maxListedMarks)
	}

	files := listFiles(l)
	if files[0] != "/f1" {
		t.Fatalf("oldest surviving entry is %s, want /f1", files[0])
	}

	if files[len(files)-1] != "/new" {
		t.Fatalf("newest entry is %s, want /new", files[len(files)-1])
	}
}

func TestMarkListRejectsTooOldWhenFull(t *testing.T) {
	t.Parallel()

	l := newMarkList(true)

	for i := 0; i < maxListedMarks; i++ {
		l.insert(jumpEntry(fmt.Sprintf("/f%d", i), 1, int64(i+100)), owned)
	}

	if l.insert(jumpEntry("/ancient", 1, 1), owned) {
		t.Fatal("entry older than a full list was inserted")
	}
}

func TestNumberedMarkInsertRenamesShiftedMarks(t *testing.T) {
	t.Parallel()

	w := newWriteMergeState()

	for i := 0; i < 3; i++ {
		data := defaultMark()
		data.Name = byte('0' + i)
		data.Line = int64(i + 1)
		data.File = fmt.Sprintf("/f%d", i)

		// Slot 0 is newest, so timestamps descend.
		w.mergeNumberedMark(Entry{
			Kind:      KindGlobalMark,
			Timestamp: int64(100 - i),
			Data:      data,
		}, owned)
	}

	newest := defaultMark()
	newest.Name = '0'
	newest.Line = 99
	newest.File = "/newest"

	w.mergeNumberedMark(Entry{Kind: KindGlobalMark, Timestamp: 200, Data: newest}, owned)

	var names []byte

	var files []string

	for i := range w.numberedMarks {
		if !w.numberedMarks[i].set {
			break
		}

		d := w.numberedMarks[i].e.Data.(MarkData)
		names = append(names, d.Name)
		files = append(files, d.File)
	}

	if diff := cmp.Diff([]byte{'0', '1', '2', '3'}, names); diff != "" {
		t.Fatalf("names after shift (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"/newest", "/f0", "/f1", "/f2"}, files); diff != "" {
		t.Fatalf("files after shift (-want +got):\n%s", diff)
	}
}

func TestNumberedMarkDuplicatePositionIgnored(t *testing.T) {
	t.Parallel()

	w := newWriteMergeState()

	data := defaultMark()
	data.Name = '0'
	data.Line = 5
	data.File = "/f"

	w.mergeNumberedMark(Entry{Kind: KindGlobalMark, Timestamp: 10, Data: data}, owned)

	dup := data
	dup.Name = '3'

	w.mergeNumberedMark(Entry{Kind: KindGlobalMark, Timestamp: 50, Data: dup}, owned)

	if w.numberedMarks[1].set {
		t.Fatal("duplicate position occupies a second slot")
	}
}
