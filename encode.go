package sessionfile

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload encoding. Fields equal to their kind's documented default are
// omitted, so files stay compact and a decode of the output reproduces the
// input exactly. Extra fields captured on read are re-emitted after the
// known ones.

func encodePayload(buf *bytes.Buffer, e Entry) error {
	if u, ok := e.Data.(UnknownData); ok {
		buf.Write(u.Contents)

		return nil
	}

	enc := msgpack.NewEncoder(buf)
	enc.UseCompactInts(true)

	switch d := e.Data.(type) {
	case HeaderData:
		return encodeHeader(enc, d)
	case SearchPatternData:
		return encodeSearchPattern(enc, d, e.Extra)
	case SubstituteStringData:
		return encodeArrayPayload(enc, e.Extra, func() error {
			return enc.EncodeString(d.Sub)
		})
	case HistoryEntryData:
		return encodeHistoryEntry(enc, d, e.Extra)
	case RegisterData:
		return encodeRegister(enc, d, e.Extra)
	case VariableData:
		return encodeVariable(enc, d, e.Extra)
	case MarkData:
		return encodeMark(enc, d, e.Extra)
	case BufferListData:
		return encodeBufferList(enc, d)
	default:
		return fmt.Errorf("unencodable kind %s", e.Kind)
	}
}

func encodeHeader(enc *msgpack.Encoder, d HeaderData) error {
	if err := enc.EncodeMapLen(len(d.Fields)); err != nil {
		return err
	}

	for _, f := range d.Fields {
		if err := enc.EncodeString(f.Key); err != nil {
			return err
		}

		if err := enc.Encode(f.Value); err != nil {
			return err
		}
	}

	return nil
}

// rawPairs writes captured key/value extras of a map payload.
func rawPairs(enc *msgpack.Encoder, extra []msgpack.RawMessage) error {
	for _, raw := range extra {
		if err := enc.Encode(raw); err != nil {
			return err
		}
	}

	return nil
}

func encodeSearchPattern(enc *msgpack.Encoder, d SearchPatternData, extra []msgpack.RawMessage) error {
	def := defaultSearchPattern()

	type field struct {
		key   string
		write func() error
		skip  bool
	}

	fields := []field{
		{"sp", func() error { return enc.EncodeString(d.Pat) }, false},
		{"sm", func() error { return enc.EncodeBool(d.Magic) }, d.Magic == def.Magic},
		{"sc", func() error { return enc.EncodeBool(d.Smartcase) }, !d.Smartcase},
		{"sl", func() error { return enc.EncodeBool(d.HasLineOffset) }, !d.HasLineOffset},
		{"se", func() error { return enc.EncodeBool(d.PlaceCursorAtEnd) }, !d.PlaceCursorAtEnd},
		{"so", func() error { return enc.EncodeInt(d.Offset) }, d.Offset == 0},
		{"su", func() error { return enc.EncodeBool(d.IsLastUsed) }, d.IsLastUsed == def.IsLastUsed},
		{"ss", func() error { return enc.EncodeBool(d.IsSubstitute) }, !d.IsSubstitute},
		{"sh", func() error { return enc.EncodeBool(d.Highlighted) }, !d.Highlighted},
		{"sb", func() error { return enc.EncodeBool(d.Backward) }, !d.Backward},
	}

	n := 0

	for _, f := range fields {
		if !f.skip {
			n++
		}
	}

	if err := enc.EncodeMapLen(n + len(extra)/2); err != nil {
		return err
	}

	for _, f := range fields {
		if f.skip {
			continue
		}

		if err := enc.EncodeString(f.key); err != nil {
			return err
		}

		if err := f.write(); err != nil {
			return err
		}
	}

	return rawPairs(enc, extra)
}

// encodeArrayPayload writes an array of the known elements produced by body
// followed by the captured trailing extras.
func encodeArrayPayload(enc *msgpack.Encoder, extra []msgpack.RawMessage, body ...func() error) error {
	if err := enc.EncodeArrayLen(len(body) + len(extra)); err != nil {
		return err
	}

	for _, f := range body {
		if err := f(); err != nil {
			return err
		}
	}

	for _, raw := range extra {
		if err := enc.Encode(raw); err != nil {
			return err
		}
	}

	return nil
}

func encodeHistoryEntry(enc *msgpack.Encoder, d HistoryEntryData, extra []msgpack.RawMessage) error {
	body := []func() error{
		func() error { return enc.EncodeUint(uint64(d.HistKind)) },
		func() error { return enc.EncodeString(d.Line) },
	}
	if d.HistKind == HistorySearch {
		body = append(body, func() error { return enc.EncodeUint(uint64(d.Sep)) })
	}

	return encodeArrayPayload(enc, extra, body...)
}

func encodeRegister(enc *msgpack.Encoder, d RegisterData, extra []msgpack.RawMessage) error {
	def := defaultRegister()

	n := 1 // "rc" is always present
	if d.Name != def.Name {
		n++
	}

	if d.Type != def.Type {
		n++
	}

	if d.Width != 0 {
		n++
	}

	if d.Unnamed {
		n++
	}

	if err := enc.EncodeMapLen(n + len(extra)/2); err != nil {
		return err
	}

	if err := enc.EncodeString("rc"); err != nil {
		return err
	}

	if err := enc.EncodeArrayLen(len(d.Lines)); err != nil {
		return err
	}

	for _, line := range d.Lines {
		if err := enc.EncodeString(line); err != nil {
			return err
		}
	}

	if d.Name != def.Name {
		if err := encodeUintPair(enc, "n", uint64(d.Name)); err != nil {
			return err
		}
	}

	if d.Type != def.Type {
		if err := encodeUintPair(enc, "rt", uint64(d.Type)); err != nil {
			return err
		}
	}

	if d.Width != 0 {
		if err := encodeUintPair(enc, "rw", uint64(d.Width)); err != nil { //nolint:gosec // width validated non-negative
			return err
		}
	}

	if d.Unnamed {
		if err := enc.EncodeString("ru"); err != nil {
			return err
		}

		if err := enc.EncodeBool(true); err != nil {
			return err
		}
	}

	return rawPairs(enc, extra)
}

func encodeUintPair(enc *msgpack.Encoder, key string, v uint64) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}

	return enc.EncodeUint(v)
}

func encodeVariable(enc *msgpack.Encoder, d VariableData, extra []msgpack.RawMessage) error {
	if err := checkSerializable(d.Value); err != nil {
		return fmt.Errorf("variable %q: %w", d.Name, err)
	}

	return encodeArrayPayload(enc, extra,
		func() error { return enc.EncodeString(d.Name) },
		func() error { return enc.Encode(d.Value) },
	)
}

// checkSerializable rejects values MessagePack has no representation for,
// so a single bad variable is skipped instead of poisoning the write.
func checkSerializable(v any) error {
	return checkSerializableDepth(reflect.ValueOf(v), 0)
}

func checkSerializableDepth(rv reflect.Value, depth int) error {
	const maxDepth = 100

	if depth > maxDepth {
		return errors.New("value is nested too deeply")
	}

	if !rv.IsValid() {
		return nil // nil encodes fine
	}

	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Errorf("cannot serialize %s value", rv.Kind())
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}

		return checkSerializableDepth(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := checkSerializableDepth(rv.Index(i), depth+1); err != nil {
				return err
			}
		}

		return nil
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := checkSerializableDepth(iter.Key(), depth+1); err != nil {
				return err
			}

			if err := checkSerializableDepth(iter.Value(), depth+1); err != nil {
				return err
			}
		}

		return nil
	default:
		return nil
	}
}

func encodeMark(enc *msgpack.Encoder, d MarkData, extra []msgpack.RawMessage) error {
	def := defaultMark()

	// Name zero means a nameless kind (jump, change); those never emit "n".
	emitName := d.Name != 0 && d.Name != def.Name

	n := 1 // "f" is always present
	if emitName {
		n++
	}

	if d.Line != def.Line {
		n++
	}

	if d.Col != def.Col {
		n++
	}

	if err := enc.EncodeMapLen(n + len(extra)/2); err != nil {
		return err
	}

	if err := enc.EncodeString("f"); err != nil {
		return err
	}

	if err := enc.EncodeString(d.File); err != nil {
		return err
	}

	if emitName {
		if err := encodeUintPair(enc, "n", uint64(d.Name)); err != nil {
			return err
		}
	}

	if d.Line != def.Line {
		if err := enc.EncodeString("l"); err != nil {
			return err
		}

		if err := enc.EncodeInt(d.Line); err != nil {
			return err
		}
	}

	if d.Col != def.Col {
		if err := enc.EncodeString("c"); err != nil {
			return err
		}

		if err := enc.EncodeInt(d.Col); err != nil {
			return err
		}
	}

	return rawPairs(enc, extra)
}

func encodeBufferList(enc *msgpack.Encoder, d BufferListData) error {
	if err := enc.EncodeArrayLen(len(d.Buffers)); err != nil {
		return err
	}

	for _, b := range d.Buffers {
		n := 1
		if b.Line != 1 {
			n++
		}

		if b.Col != 0 {
			n++
		}

		if err := enc.EncodeMapLen(n + len(b.Extra)/2); err != nil {
			return err
		}

		if err := enc.EncodeString("f"); err != nil {
			return err
		}

		if err := enc.EncodeString(b.File); err != nil {
			return err
		}

		if b.Line != 1 {
			if err := enc.EncodeString("l"); err != nil {
				return err
			}

			if err := enc.EncodeInt(b.Line); err != nil {
				return err
			}
		}

		if b.Col != 0 {
			if err := enc.EncodeString("c"); err != nil {
				return err
			}

			if err := enc.EncodeInt(b.Col); err != nil {
				return err
			}
		}

		if err := rawPairs(enc, b.Extra); err != nil {
			return err
		}
	}

	return nil
}
