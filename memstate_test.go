package sessionfile

import "sort"

// memState is an in-memory State implementation for tests.
type memState struct {
	histories [HistoryKindCount][]HistoryLine

	searchPat *Pattern
	subPat    *Pattern
	repl      *Replacement

	lastUsedSubstitute  bool
	lastUsedHighlighted bool
	lastUsedSet         bool

	registers map[byte]RegisterContent

	globalMarks map[byte]Mark
	jumps       []Mark
	current     *Mark

	vars     map[string]any
	varOrder []string

	buffers    []BufferState
	bufferList []BufferPos
}

func newMemState() *memState {
	return &memState{
		registers:   make(map[byte]RegisterContent),
		globalMarks: make(map[byte]Mark),
		vars:        make(map[string]any),
	}
}

func (s *memState) HistoryIter(kind HistoryKind, remove bool) func() (HistoryLine, bool) {
	lines := s.histories[kind]
	if remove {
		s.histories[kind] = nil
	}

	i := 0

	return func() (HistoryLine, bool) {
		if i >= len(lines) {
			return HistoryLine{}, false
		}

		line := lines[i]
		i++

		return line, true
	}
}

func (s *memState) SetHistory(kind HistoryKind, lines []HistoryLine) {
	s.histories[kind] = lines
}

func (s *memState) SearchPattern() (Pattern, bool) {
	if s.searchPat == nil {
		return Pattern{}, false
	}

	return *s.searchPat, true
}

func (s *memState) SetSearchPattern(p Pattern) {
	s.searchPat = &p
}

func (s *memState) SubstitutePattern() (Pattern, bool) {
	if s.subPat == nil {
		return Pattern{}, false
	}

	return *s.subPat, true
}

func (s *memState) SetSubstitutePattern(p Pattern) {
	s.subPat = &p
}

func (s *memState) SetLastUsedPattern(substitute, highlighted bool) {
	s.lastUsedSubstitute = substitute
	s.lastUsedHighlighted = highlighted
	s.lastUsedSet = true
}

func (s *memState) Replacement() (Replacement, bool) {
	if s.repl == nil {
		return Replacement{}, false
	}

	return *s.repl, true
}

func (s *memState) SetReplacement(r Replacement) {
	s.repl = &r
}

func (s *memState) Registers() func() (RegisterContent, bool) {
	names := make([]byte, 0, len(s.registers))
	for name := range s.registers {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	i := 0

	return func() (RegisterContent, bool) {
		if i >= len(names) {
			return RegisterContent{}, false
		}

		rc := s.registers[names[i]]
		i++

		return rc, true
	}
}

func (s *memState) Register(name byte) (RegisterContent, bool) {
	rc, ok := s.registers[name]

	return rc, ok
}

func (s *memState) SetRegister(rc RegisterContent) {
	s.registers[rc.Name] = rc
}

func (s *memState) GlobalMarks() func() (Mark, bool) {
	names := make([]byte, 0, len(s.globalMarks))
	for name := range s.globalMarks {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	i := 0

	return func() (Mark, bool) {
		if i >= len(names) {
			return Mark{}, false
		}

		m := s.globalMarks[names[i]]
		i++

		return m, true
	}
}

func (s *memState) GlobalMark(name byte) (Mark, bool) {
	m, ok := s.globalMarks[name]

	return m, ok
}

func (s *memState) SetGlobalMark(m Mark) {
	s.globalMarks[m.Name] = m
}

func (s *memState) Jumps() []Mark {
	return s.jumps
}

func (s *memState) SetJumps(jumps []Mark) {
	s.jumps = jumps
}

func (s *memState) CurrentPosition() (Mark, bool) {
	if s.current == nil {
		return Mark{}, false
	}

	return *s.current, true
}

func (s *memState) Variables() func() (string, any, bool) {
	order := append([]string(nil), s.varOrder...)
	i := 0

	return func() (string, any, bool) {
		if i >= len(order) {
			return "", nil, false
		}

		name := order[i]
		i++

		return name, s.vars[name], true
	}
}

func (s *memState) SetVariable(name string, value any) {
	if _, ok := s.vars[name]; !ok {
		s.varOrder = append(s.varOrder, name)
	}

	s.vars[name] = value
}

func (s *memState) Buffers() []BufferState {
	return s.buffers
}

func (s *memState) SetBufferList(positions []BufferPos) {
	s.bufferList = positions
}

func (s *memState) buffer(file string) *BufferState {
	for i := range s.buffers {
		if s.buffers[i].File == file {
			return &s.buffers[i]
		}
	}

	s.buffers = append(s.buffers, BufferState{File: file})

	return &s.buffers[len(s.buffers)-1]
}

func (s *memState) LocalMark(file string, name byte) (Mark, bool) {
	for _, buf := range s.buffers {
		if buf.File != file {
			continue
		}

		for _, m := range buf.Marks {
			if m.Name == name {
				return m, true
			}
		}
	}

	return Mark{}, false
}

func (s *memState) SetLocalMark(file string, m Mark) {
	buf := s.buffer(file)

	for i := range buf.Marks {
		if buf.Marks[i].Name == m.Name {
			buf.Marks[i] = m

			return
		}
	}

	buf.Marks = append(buf.Marks, m)
}

func (s *memState) SetChanges(file string, changes []Mark) {
	s.buffer(file).Changes = changes
}

var _ State = (*memState)(nil)
