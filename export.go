package sessionfile

import "bytes"

// Category exports. Each returns a standalone stream of framed records for
// one category of live state, in the same format a full write produces.
// Useful for tooling that inspects or splices session data.

func (e *Engine) encodeEntries(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer

	ew := newEntryWriter(&buf)

	for _, entry := range entries {
		st, err := ew.writeEntry(entry, e.cfg.MaxItemSize)
		if st == writeFailed {
			return nil, err
		}

		if st == writeIgnored {
			e.log.Warn("skipping record", "kind", entry.Kind.String(), "error", err)
		}
	}

	return buf.Bytes(), nil
}

// EncodeRegisters serializes the live registers.
func (e *Engine) EncodeRegisters() ([]byte, error) {
	var entries []Entry

	next := e.state.Registers()
	for rc, ok := next(); ok; rc, ok = next() {
		if e.cfg.MaxRegisterLines >= 0 && len(rc.Lines) > e.cfg.MaxRegisterLines {
			continue
		}

		entries = append(entries, registerEntry(rc))
	}

	return e.encodeEntries(entries)
}

// EncodeJumpList serializes the live jump list, oldest first.
func (e *Engine) EncodeJumpList() ([]byte, error) {
	jumps := e.state.Jumps()

	entries := make([]Entry, 0, len(jumps))
	for _, m := range jumps {
		entries = append(entries, markEntry(KindJump, m))
	}

	return e.encodeEntries(entries)
}

// EncodeBufferList serializes the open-buffer list as a single record.
func (e *Engine) EncodeBufferList() ([]byte, error) {
	entry := e.bufferListEntry(e.state.Buffers(), e.now().Unix())

	return e.encodeEntries([]Entry{entry})
}

// EncodeVariables serializes the persistable global variables. Values the
// wire format cannot represent are skipped.
func (e *Engine) EncodeVariables() ([]byte, error) {
	now := e.now().Unix()

	var entries []Entry

	next := e.state.Variables()
	for name, value, ok := next(); ok; name, value, ok = next() {
		if err := checkSerializable(value); err != nil {
			e.log.Warn("skipping variable", "name", name, "error", err)

			continue
		}

		entries = append(entries, Entry{
			Kind:      KindGlobalVariable,
			Timestamp: now,
			Data:      VariableData{Name: name, Value: value},
		})
	}

	return e.encodeEntries(entries)
}
