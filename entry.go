package sessionfile

import "github.com/vmihailenco/msgpack/v5"

// Kind identifies the category of state a record holds.
//
// The numeric values are the on-disk type tags. Tag 0 is reserved and must
// never appear in a file; encountering it is a fatal framing error. Tags
// beyond [KindChange] decode as [KindUnknown] and are carried through writes
// byte-for-byte so files written by newer engines survive a round trip.
type Kind int

const (
	// KindMissing is the zero value of an unset record slot. It is for
	// internal use only and never appears on disk.
	KindMissing Kind = 0

	KindHeader           Kind = 1
	KindSearchPattern    Kind = 2
	KindSubstituteString Kind = 3
	KindHistoryEntry     Kind = 4
	KindRegister         Kind = 5
	KindGlobalVariable   Kind = 6
	KindGlobalMark       Kind = 7
	KindJump             Kind = 8
	KindBufferList       Kind = 9
	KindLocalMark        Kind = 10
	KindChange           Kind = 11

	// KindUnknown holds a record whose on-disk tag exceeds the known set.
	// Its payload is raw bytes plus the true tag (see [UnknownData]).
	KindUnknown Kind = -1
)

// lastKnownKind is the greatest tag this engine interprets.
const lastKnownKind = uint64(KindChange)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindHeader:
		return "header"
	case KindSearchPattern:
		return "search pattern"
	case KindSubstituteString:
		return "substitute string"
	case KindHistoryEntry:
		return "history entry"
	case KindRegister:
		return "register"
	case KindGlobalVariable:
		return "global variable"
	case KindGlobalMark:
		return "global mark"
	case KindJump:
		return "jump"
	case KindBufferList:
		return "buffer list"
	case KindLocalMark:
		return "local mark"
	case KindChange:
		return "change"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Entry is one persisted unit of state: a kind, a timestamp in seconds since
// the epoch, a kind-specific payload and any extra structured fields a newer
// producer attached that this engine's schema does not interpret.
//
// Extra holds raw MessagePack values in payload order. For map-shaped
// payloads (patterns, marks, registers, header) values come in key/value
// pairs; for array-shaped payloads (history, variables, substitute string)
// they are trailing elements. They are re-emitted verbatim on write.
type Entry struct {
	Kind      Kind
	Timestamp int64
	Data      EntryData
	Extra     []msgpack.RawMessage
}

// EntryData is the closed set of per-kind payload variants.
type EntryData interface {
	entryData()
}

// HeaderField is one ordered key/value pair of a header record. Value is a
// string or an int64; headers are informational and never interpreted on
// read.
type HeaderField struct {
	Key   string
	Value any
}

// HeaderData is the payload of a [KindHeader] record: ordered metadata about
// the process that wrote the file (generator, version, pid, encoding).
type HeaderData struct {
	Fields []HeaderField
}

// SearchPatternData is the payload of a [KindSearchPattern] record. One
// record describes either the last search pattern or the last substitute
// pattern, distinguished by IsSubstitute.
type SearchPatternData struct {
	Pat              string
	Magic            bool // default true
	Smartcase        bool
	HasLineOffset    bool
	PlaceCursorAtEnd bool
	Offset           int64
	IsLastUsed       bool // default true
	IsSubstitute     bool
	Highlighted      bool
	Backward         bool
}

// SubstituteStringData is the payload of a [KindSubstituteString] record:
// the last substitution replacement text.
type SubstituteStringData struct {
	Sub string
}

// HistoryEntryData is the payload of a [KindHistoryEntry] record. Sep is
// only meaningful for search history and holds the separator character the
// search was typed with.
type HistoryEntryData struct {
	HistKind HistoryKind
	Line     string
	Sep      byte
}

// RegisterData is the payload of a [KindRegister] record.
type RegisterData struct {
	Name    byte // default '"'
	Type    RegisterType
	Lines   []string
	Width   int64
	Unnamed bool
}

// VariableData is the payload of a [KindGlobalVariable] record. Value uses
// the natural MessagePack mapping (nil, bool, int64/uint64, float64, string,
// []byte, []any, map[string]any).
type VariableData struct {
	Name  string
	Value any
}

// MarkData is the payload of [KindGlobalMark], [KindLocalMark], [KindJump]
// and [KindChange] records. Name is only meaningful for global and local
// marks; jump and change records must not carry one.
type MarkData struct {
	Name byte // default '"'
	Line int64
	Col  int64
	File string
}

// BufferListItem is one open buffer: its file path and cursor position.
// Extra holds raw key/value pairs of unrecognized item fields, re-emitted
// verbatim on write.
type BufferListItem struct {
	File  string
	Line  int64 // default 1
	Col   int64
	Extra []msgpack.RawMessage
}

// BufferListData is the payload of a [KindBufferList] record.
type BufferListData struct {
	Buffers []BufferListItem
}

// UnknownData is the payload of a [KindUnknown] record: the true on-disk
// tag and the raw, uninterpreted payload bytes.
type UnknownData struct {
	Tag      uint64
	Contents []byte
}

func (HeaderData) entryData()           {}
func (SearchPatternData) entryData()    {}
func (SubstituteStringData) entryData() {}
func (HistoryEntryData) entryData()     {}
func (RegisterData) entryData()         {}
func (VariableData) entryData()         {}
func (MarkData) entryData()             {}
func (BufferListData) entryData()       {}
func (UnknownData) entryData()          {}

// Payload field defaults. Encoding omits fields that equal their kind's
// default; decoding starts from these values so absent fields read back
// correctly.

func defaultSearchPattern() SearchPatternData {
	return SearchPatternData{Magic: true, IsLastUsed: true}
}

func defaultMark() MarkData {
	return MarkData{Name: '"', Line: 1, Col: 0}
}

func defaultRegister() RegisterData {
	return RegisterData{Name: '"', Type: RegisterCharacterwise}
}

// owner records where a merge-state record's backing data came from. A
// borrowed record was seeded from live state and wins exact-timestamp ties
// over an owned record parsed from the file.
type owner uint8

const (
	borrowed owner = iota // points into live editor state
	owned                 // parsed from the file during this pass
)
