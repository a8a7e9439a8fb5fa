package sessionfile

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"
)

func frameEntries(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer

	ew := newEntryWriter(&buf)

	for _, e := range entries {
		st, err := ew.writeEntry(e, 0)
		if st != writeOK {
			t.Fatalf("writeEntry(%v) = %v, %v", e.Kind, st, err)
		}
	}

	return buf.Bytes()
}

func readAllEntries(t *testing.T, data []byte, want kindSet, maxItemSize int) []Entry {
	t.Helper()

	er := newEntryReader(bytes.NewReader(data))

	var out []Entry

	for {
		e, st, err := readNextEntry(er, want, maxItemSize)
		switch st {
		case readFinished:
			return out
		case readSuccess:
			out = append(out, e)
		default:
			t.Fatalf("readNextEntry = %v, %v", st, err)
		}
	}
}

func TestRoundTripAllKinds(t *testing.T) {
	t.Parallel()

	pattern := defaultSearchPattern()
	pattern.Pat = `\vfoo+`
	pattern.Smartcase = true
	pattern.Offset = -3
	pattern.Backward = true

	mark := defaultMark()
	mark.Name = 'A'
	mark.Line = 42
	mark.Col = 7
	mark.File = "/home/u/notes.txt"

	jump := defaultMark()
	jump.Line = 10
	jump.File = "/home/u/other.txt"

	reg := defaultRegister()
	reg.Name = 'x'
	reg.Type = RegisterBlockwise
	reg.Lines = []string{"alpha", "beta"}
	reg.Width = 5
	reg.Unnamed = true

	entries := []Entry{
		{Kind: KindHeader, Timestamp: 100, Data: HeaderData{Fields: []HeaderField{
			{Key: "generator", Value: "sessionfile"},
			{Key: "pid", Value: int64(1234)},
		}}},
		{Kind: KindSearchPattern, Timestamp: 101, Data: pattern},
		{Kind: KindSubstituteString, Timestamp: 102, Data: SubstituteStringData{Sub: "bar"}},
		{Kind: KindHistoryEntry, Timestamp: 103, Data: HistoryEntryData{
			HistKind: HistorySearch, Line: "needle", Sep: '/',
		}},
		{Kind: KindHistoryEntry, Timestamp: 104, Data: HistoryEntryData{
			HistKind: HistoryCommand, Line: "write all",
		}},
		{Kind: KindRegister, Timestamp: 105, Data: reg},
		{Kind: KindGlobalVariable, Timestamp: 106, Data: VariableData{
			Name: "LAST_PROJECT", Value: "demo",
		}},
		{Kind: KindGlobalMark, Timestamp: 107, Data: mark},
		{Kind: KindJump, Timestamp: 108, Data: jump},
		{Kind: KindBufferList, Timestamp: 109, Data: BufferListData{Buffers: []BufferListItem{
			{File: "/home/u/a.txt", Line: 3, Col: 1},
			{File: "/home/u/b.txt", Line: 1},
		}}},
	}

	data := frameEntries(t, entries...)
	got := readAllEntries(t, data, ^kindSet(0), 0)

	if diff := cmp.Diff(entries, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultsOmittedOnEncode(t *testing.T) {
	t.Parallel()

	// A mark at line 1, col 0 with the default name only needs its file.
	mark := defaultMark()
	mark.File = "/tmp/f"

	data := frameEntries(t, Entry{Kind: KindGlobalMark, Timestamp: 1, Data: mark})

	// Frame is 3 single-byte integers; payload follows.
	payload := data[3:]

	dec := msgpack.NewDecoder(bytes.NewReader(payload))

	n, err := dec.DecodeMapLen()
	if err != nil {
		t.Fatalf("DecodeMapLen: %v", err)
	}

	if n != 1 {
		t.Fatalf("encoded map has %d keys, want 1", n)
	}
}

func TestUnknownRecordPassthrough(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Kind: KindUnknown, Timestamp: 50, Data: UnknownData{
			Tag:      42,
			Contents: []byte{0xa3, 'a', 'b', 'c'}, // msgpack "abc"
		}},
		{Kind: KindSubstituteString, Timestamp: 51, Data: SubstituteStringData{Sub: "x"}},
	}

	data := frameEntries(t, entries...)
	got := readAllEntries(t, data, ^kindSet(0), 0)

	if diff := cmp.Diff(entries, got); diff != "" {
		t.Fatalf("unknown record mismatch (-want +got):\n%s", diff)
	}

	rewritten := frameEntries(t, got...)
	if !bytes.Equal(data, rewritten) {
		t.Fatalf("rewrite not byte-identical:\n%x\n%x", data, rewritten)
	}
}

func TestExtraFieldsSurviveRewrite(t *testing.T) {
	t.Parallel()

	mark := defaultMark()
	mark.Name = 'B'
	mark.Line = 9
	mark.File = "/tmp/f"

	entry := Entry{
		Kind:      KindGlobalMark,
		Timestamp: 7,
		Data:      mark,
		Extra: []msgpack.RawMessage{
			rawString("zz"),
			{0xc3}, // true
		},
	}

	data := frameEntries(t, entry)
	got := readAllEntries(t, data, ^kindSet(0), 0)

	if diff := cmp.Diff([]Entry{entry}, got); diff != "" {
		t.Fatalf("extra fields mismatch (-want +got):\n%s", diff)
	}

	rewritten := frameEntries(t, got...)
	if !bytes.Equal(data, rewritten) {
		t.Fatalf("rewrite not byte-identical:\n%x\n%x", data, rewritten)
	}
}

func TestBufferListItemExtraFieldsSurvive(t *testing.T) {
	t.Parallel()

	entry := Entry{
		Kind:      KindBufferList,
		Timestamp: 4,
		Data: BufferListData{Buffers: []BufferListItem{{
			File: "/tmp/a.txt",
			Line: 2,
			Extra: []msgpack.RawMessage{
				rawString("zz"),
				{0x2a}, // 42
			},
		}}},
	}

	data := frameEntries(t, entry)
	got := readAllEntries(t, data, ^kindSet(0), 0)

	if diff := cmp.Diff([]Entry{entry}, got); diff != "" {
		t.Fatalf("per-item extras mismatch (-want +got):\n%s", diff)
	}

	rewritten := frameEntries(t, got...)
	if !bytes.Equal(data, rewritten) {
		t.Fatalf("rewrite not byte-identical:\n%x\n%x", data, rewritten)
	}
}

func TestReservedTagIsFatal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	for _, v := range []uint64{0, 1, 0} { // tag 0, timestamp, empty payload
		if err := putUint(&buf, v); err != nil {
			t.Fatalf("putUint: %v", err)
		}
	}

	er := newEntryReader(bytes.NewReader(buf.Bytes()))

	_, st, err := readNextEntry(er, ^kindSet(0), 0)
	if st != readNotSessionFile {
		t.Fatalf("status = %v, want readNotSessionFile", st)
	}

	if !errors.Is(err, ErrNotSessionFile) {
		t.Fatalf("err = %v, want ErrNotSessionFile", err)
	}
}

func TestForeignTextFileDetected(t *testing.T) {
	t.Parallel()

	text := bytes.Repeat([]byte("this is somebody's shopping list, not session data\n"), 10)

	er := newEntryReader(bytes.NewReader(text))

	_, st, err := readNextEntry(er, ^kindSet(0), 0)
	if st != readNotSessionFile {
		t.Fatalf("status = %v, want readNotSessionFile", st)
	}

	if !errors.Is(err, ErrNotSessionFile) {
		t.Fatalf("err = %v, want ErrNotSessionFile", err)
	}
}

func TestTruncatedStreamDetected(t *testing.T) {
	t.Parallel()

	data := frameEntries(t, Entry{
		Kind: KindSubstituteString, Timestamp: 1, Data: SubstituteStringData{Sub: "abcdef"},
	})

	er := newEntryReader(bytes.NewReader(data[:len(data)-3]))

	_, st, err := readNextEntry(er, ^kindSet(0), 0)
	if st != readNotSessionFile {
		t.Fatalf("status = %v, want readNotSessionFile", st)
	}

	if !errors.Is(err, ErrNotSessionFile) {
		t.Fatalf("err = %v, want ErrNotSessionFile", err)
	}
}

func TestOversizedRecordSkipped(t *testing.T) {
	t.Parallel()

	reg := defaultRegister()
	reg.Name = 'a'
	reg.Lines = []string{string(bytes.Repeat([]byte("x"), 500))}

	small := Entry{Kind: KindSubstituteString, Timestamp: 2, Data: SubstituteStringData{Sub: "s"}}

	data := frameEntries(t,
		Entry{Kind: KindRegister, Timestamp: 1, Data: reg},
		small,
	)

	got := readAllEntries(t, data, ^kindSet(0), 100)

	if diff := cmp.Diff([]Entry{small}, got); diff != "" {
		t.Fatalf("oversized record not skipped (-want +got):\n%s", diff)
	}
}

func TestUnwantedKindsSkipped(t *testing.T) {
	t.Parallel()

	reg := defaultRegister()
	reg.Name = 'a'
	reg.Lines = []string{"keep"}

	hist := Entry{Kind: KindHistoryEntry, Timestamp: 2, Data: HistoryEntryData{
		HistKind: HistoryCommand, Line: "quit",
	}}

	data := frameEntries(t, Entry{Kind: KindRegister, Timestamp: 1, Data: reg}, hist)

	got := readAllEntries(t, data, wantKind(KindHistoryEntry), 0)

	if diff := cmp.Diff([]Entry{hist}, got); diff != "" {
		t.Fatalf("kind filter mismatch (-want +got):\n%s", diff)
	}
}

func TestMalformedRecordIsRecoverable(t *testing.T) {
	t.Parallel()

	// A register record whose payload is a map without the required
	// contents key.
	var payload bytes.Buffer

	enc := msgpack.NewEncoder(&payload)

	if err := enc.EncodeMapLen(1); err != nil {
		t.Fatalf("EncodeMapLen: %v", err)
	}

	if err := enc.EncodeString("rw"); err != nil {
		t.Fatalf("EncodeString: %v", err)
	}

	if err := enc.EncodeUint(3); err != nil {
		t.Fatalf("EncodeUint: %v", err)
	}

	var buf bytes.Buffer

	for _, v := range []uint64{uint64(KindRegister), 1, uint64(payload.Len())} {
		if err := putUint(&buf, v); err != nil {
			t.Fatalf("putUint: %v", err)
		}
	}

	buf.Write(payload.Bytes())

	good := Entry{Kind: KindSubstituteString, Timestamp: 2, Data: SubstituteStringData{Sub: "ok"}}
	buf.Write(frameEntries(t, good))

	er := newEntryReader(bytes.NewReader(buf.Bytes()))

	_, st, err := readNextEntry(er, ^kindSet(0), 0)
	if st != readMalformed {
		t.Fatalf("first record: status = %v, err = %v, want readMalformed", st, err)
	}

	got, st, err := readNextEntry(er, ^kindSet(0), 0)
	if st != readSuccess {
		t.Fatalf("second record: status = %v, err = %v", st, err)
	}

	if diff := cmp.Diff(good, got); diff != "" {
		t.Fatalf("record after malformed one (-want +got):\n%s", diff)
	}
}

func TestHistoryLineWithZeroByteRejected(t *testing.T) {
	t.Parallel()

	var payload bytes.Buffer

	enc := msgpack.NewEncoder(&payload)

	if err := enc.EncodeArrayLen(2); err != nil {
		t.Fatalf("EncodeArrayLen: %v", err)
	}

	if err := enc.EncodeUint(uint64(HistoryCommand)); err != nil {
		t.Fatalf("EncodeUint: %v", err)
	}

	if err := enc.EncodeString("bad\x00line"); err != nil {
		t.Fatalf("EncodeString: %v", err)
	}

	var buf bytes.Buffer

	for _, v := range []uint64{uint64(KindHistoryEntry), 1, uint64(payload.Len())} {
		if err := putUint(&buf, v); err != nil {
			t.Fatalf("putUint: %v", err)
		}
	}

	buf.Write(payload.Bytes())

	er := newEntryReader(bytes.NewReader(buf.Bytes()))

	_, st, _ := readNextEntry(er, ^kindSet(0), 0)
	if st != readMalformed {
		t.Fatalf("status = %v, want readMalformed", st)
	}
}

func TestJumpRecordWithNameRejected(t *testing.T) {
	t.Parallel()

	var payload bytes.Buffer

	enc := msgpack.NewEncoder(&payload)

	if err := enc.EncodeMapLen(2); err != nil {
		t.Fatalf("EncodeMapLen: %v", err)
	}

	for _, kv := range []struct {
		key string
		val func() error
	}{
		{"f", func() error { return enc.EncodeString("/tmp/f") }},
		{"n", func() error { return enc.EncodeUint('a') }},
	} {
		if err := enc.EncodeString(kv.key); err != nil {
			t.Fatalf("EncodeString: %v", err)
		}

		if err := kv.val(); err != nil {
			t.Fatalf("encode value: %v", err)
		}
	}

	var buf bytes.Buffer

	for _, v := range []uint64{uint64(KindJump), 1, uint64(payload.Len())} {
		if err := putUint(&buf, v); err != nil {
			t.Fatalf("putUint: %v", err)
		}
	}

	buf.Write(payload.Bytes())

	er := newEntryReader(bytes.NewReader(buf.Bytes()))

	_, st, _ := readNextEntry(er, ^kindSet(0), 0)
	if st != readMalformed {
		t.Fatalf("status = %v, want readMalformed", st)
	}
}
