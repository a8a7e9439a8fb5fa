package sessionfile

// HistoryKind selects one of the editor's history lists.
type HistoryKind uint8

const (
	HistoryCommand HistoryKind = iota
	HistorySearch
	HistoryExpr
	HistoryInput
	HistoryDebug

	// HistoryKindCount is the number of distinct history lists.
	HistoryKindCount
)

func (k HistoryKind) String() string {
	switch k {
	case HistoryCommand:
		return "cmd"
	case HistorySearch:
		return "search"
	case HistoryExpr:
		return "expr"
	case HistoryInput:
		return "input"
	case HistoryDebug:
		return "debug"
	default:
		return "invalid"
	}
}

// HistoryLine is one live history entry. Sep is only meaningful for search
// history.
type HistoryLine struct {
	Line      string
	Sep       byte
	Timestamp int64
}

// Pattern is the live representation of a search or substitute pattern.
type Pattern struct {
	Pat              string
	Magic            bool
	Smartcase        bool
	HasLineOffset    bool
	PlaceCursorAtEnd bool
	Offset           int64
	LastUsed         bool
	Highlighted      bool
	Backward         bool
	Timestamp        int64
}

// Replacement is the live last-substitution replacement string.
type Replacement struct {
	Text      string
	Timestamp int64
}

// RegisterType describes how register contents were yanked.
type RegisterType uint8

const (
	RegisterCharacterwise RegisterType = iota
	RegisterLinewise
	RegisterBlockwise
)

// RegisterContent is the live contents of one register.
type RegisterContent struct {
	Name      byte
	Type      RegisterType
	Lines     []string
	Width     int64
	Unnamed   bool // register is aliased by the unnamed register
	Timestamp int64
}

// Mark is a named position in a file. Name is zero for jump and change
// entries.
type Mark struct {
	Name      byte
	Line      int64
	Col       int64
	File      string
	Timestamp int64
}

// BufferPos is a file path plus a cursor position, as stored in the
// buffer-list record.
type BufferPos struct {
	File string
	Line int64
	Col  int64
}

// BufferState describes one listed, persistable buffer: its path, last
// cursor position, local marks and change list.
type BufferState struct {
	File    string
	Line    int64
	Col     int64
	Marks   []Mark
	Changes []Mark
}

// HistoryStore is the engine's contract with the editor's history lists.
type HistoryStore interface {
	// HistoryIter returns a single-pass iterator over entries of the given
	// kind, oldest first. If remove is true, entries are removed from live
	// memory as they are consumed (the merged result is written back via
	// SetHistory).
	HistoryIter(kind HistoryKind, remove bool) func() (HistoryLine, bool)

	// SetHistory replaces the named history list, oldest first.
	SetHistory(kind HistoryKind, lines []HistoryLine)
}

// PatternStore is the engine's contract with the editor's last search and
// substitute patterns and the last replacement string.
type PatternStore interface {
	SearchPattern() (Pattern, bool)
	SetSearchPattern(Pattern)
	SubstitutePattern() (Pattern, bool)
	SetSubstitutePattern(Pattern)

	// SetLastUsedPattern records which of the two patterns was used last
	// and whether its matches were highlighted.
	SetLastUsedPattern(substitute, highlighted bool)

	Replacement() (Replacement, bool)
	SetReplacement(Replacement)
}

// RegisterStore is the engine's contract with the editor's registers.
type RegisterStore interface {
	// Registers iterates over all persistable registers in any order.
	Registers() func() (RegisterContent, bool)
	Register(name byte) (RegisterContent, bool)
	SetRegister(RegisterContent)
}

// MarkStore is the engine's contract with global marks and the jump list.
type MarkStore interface {
	// GlobalMarks iterates over named and numbered global marks.
	GlobalMarks() func() (Mark, bool)
	GlobalMark(name byte) (Mark, bool)
	SetGlobalMark(Mark)

	// Jumps returns the jump list oldest first; SetJumps replaces it.
	Jumps() []Mark
	SetJumps([]Mark)

	// CurrentPosition reports the cursor position of the active buffer,
	// used to refresh the most-recent-position numbered mark on write.
	CurrentPosition() (Mark, bool)
}

// VariableStore is the engine's contract with persistable global variables.
// The iterator is expected to be pre-filtered to variables classified for
// persistence.
type VariableStore interface {
	Variables() func() (name string, value any, ok bool)
	SetVariable(name string, value any)
}

// BufferStore is the engine's contract with open buffers: the buffer list
// plus per-buffer local marks and change lists. Buffers is expected to be
// pre-filtered to listed, non-special buffers.
type BufferStore interface {
	Buffers() []BufferState

	SetBufferList([]BufferPos)

	LocalMark(file string, name byte) (Mark, bool)
	SetLocalMark(file string, m Mark)

	// SetChanges replaces the change list of the buffer for file, oldest
	// first. Buffers the editor does not have open may be ignored.
	SetChanges(file string, changes []Mark)
}

// State is the full collaborator contract with the live editor. The engine
// only ever moves data through these narrow iterator and setter interfaces;
// it does not own any editor representation.
type State interface {
	HistoryStore
	PatternStore
	RegisterStore
	MarkStore
	VariableStore
	BufferStore
}
