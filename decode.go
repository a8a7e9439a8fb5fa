package sessionfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload decoding. Each kind validates its required sub-fields and applies
// the documented defaults for absent ones. Structured fields beyond the
// known schema are captured raw (skip-and-capture) into Entry.Extra so a
// rewrite reproduces them byte-for-byte.

func decodePayload(kind Kind, payload []byte) (EntryData, []msgpack.RawMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))

	var (
		data  EntryData
		extra []msgpack.RawMessage
		err   error
	)

	switch kind {
	case KindHeader:
		data, err = decodeHeader(dec)
	case KindSearchPattern:
		data, extra, err = decodeSearchPattern(dec)
	case KindSubstituteString:
		data, extra, err = decodeSubstituteString(dec)
	case KindHistoryEntry:
		data, extra, err = decodeHistoryEntry(dec)
	case KindRegister:
		data, extra, err = decodeRegister(dec)
	case KindGlobalVariable:
		data, extra, err = decodeVariable(dec)
	case KindGlobalMark, KindLocalMark, KindJump, KindChange:
		data, extra, err = decodeMark(dec, kind)
	case KindBufferList:
		data, err = decodeBufferList(dec)
	default:
		return nil, nil, fmt.Errorf("undecodable kind %d", kind)
	}

	if err != nil {
		return nil, nil, err
	}

	if !decoderExhausted(dec) {
		return nil, nil, errors.New("has additional bytes after payload")
	}

	return data, extra, nil
}

func decoderExhausted(dec *msgpack.Decoder) bool {
	var trailing [1]byte

	_, err := dec.Buffered().Read(trailing[:])

	return err == io.EOF
}

// captureRaw reads the next value without interpreting it.
func captureRaw(dec *msgpack.Decoder) (msgpack.RawMessage, error) {
	var raw msgpack.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// captureTrailing captures all remaining array elements raw.
func captureTrailing(dec *msgpack.Decoder, n int) ([]msgpack.RawMessage, error) {
	if n <= 0 {
		return nil, nil
	}

	extra := make([]msgpack.RawMessage, 0, n)

	for j := 0; j < n; j++ {
		raw, err := captureRaw(dec)
		if err != nil {
			return nil, fmt.Errorf("has malformed trailing element: %w", err)
		}

		extra = append(extra, raw)
	}

	return extra, nil
}

func decodeHeader(dec *msgpack.Decoder) (EntryData, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, errors.New("is not a map")
	}

	fields := make([]HeaderField, 0, n)

	for j := 0; j < n; j++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, errors.New("has a non-string key")
		}

		value, err := dec.DecodeInterface()
		if err != nil {
			return nil, fmt.Errorf("has a malformed value for %q", key)
		}

		fields = append(fields, HeaderField{Key: key, Value: normalizeValue(value)})
	}

	return HeaderData{Fields: fields}, nil
}

func decodeSearchPattern(dec *msgpack.Decoder) (EntryData, []msgpack.RawMessage, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, nil, errors.New("is not a map")
	}

	data := defaultSearchPattern()
	sawPat := false

	var extra []msgpack.RawMessage

	for j := 0; j < n; j++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, nil, errors.New("has a non-string key")
		}

		switch key {
		case "sp":
			if data.Pat, err = dec.DecodeString(); err != nil {
				return nil, nil, errors.New("has a non-string pattern")
			}

			sawPat = true
		case "sm":
			err = decodeBoolField(dec, &data.Magic, key)
		case "sc":
			err = decodeBoolField(dec, &data.Smartcase, key)
		case "sl":
			err = decodeBoolField(dec, &data.HasLineOffset, key)
		case "se":
			err = decodeBoolField(dec, &data.PlaceCursorAtEnd, key)
		case "so":
			if data.Offset, err = dec.DecodeInt64(); err != nil {
				return nil, nil, errors.New("has a non-integer offset")
			}
		case "su":
			err = decodeBoolField(dec, &data.IsLastUsed, key)
		case "ss":
			err = decodeBoolField(dec, &data.IsSubstitute, key)
		case "sh":
			err = decodeBoolField(dec, &data.Highlighted, key)
		case "sb":
			err = decodeBoolField(dec, &data.Backward, key)
		default:
			extra, err = appendRawPair(dec, extra, key)
		}

		if err != nil {
			return nil, nil, err
		}
	}

	if !sawPat {
		return nil, nil, errors.New("has no pattern")
	}

	return data, extra, nil
}

func decodeBoolField(dec *msgpack.Decoder, dst *bool, key string) error {
	v, err := dec.DecodeBool()
	if err != nil {
		return fmt.Errorf("has a non-boolean %q value", key)
	}

	*dst = v

	return nil
}

// appendRawPair captures an unknown map key and its value raw.
func appendRawPair(dec *msgpack.Decoder, extra []msgpack.RawMessage, key string) ([]msgpack.RawMessage, error) {
	raw, err := captureRaw(dec)
	if err != nil {
		return nil, fmt.Errorf("has a malformed %q value", key)
	}

	return append(extra, rawString(key), raw), nil
}

// rawString encodes a string as a raw MessagePack value, for re-emitting
// captured map keys.
func rawString(s string) msgpack.RawMessage {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	_ = enc.EncodeString(s)

	return buf.Bytes()
}

func decodeSubstituteString(dec *msgpack.Decoder) (EntryData, []msgpack.RawMessage, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 1 {
		return nil, nil, errors.New("is not an array with enough elements")
	}

	sub, err := dec.DecodeString()
	if err != nil {
		return nil, nil, errors.New("has a non-string replacement")
	}

	extra, err := captureTrailing(dec, n-1)
	if err != nil {
		return nil, nil, err
	}

	return SubstituteStringData{Sub: sub}, extra, nil
}

func decodeHistoryEntry(dec *msgpack.Decoder) (EntryData, []msgpack.RawMessage, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 2 {
		return nil, nil, errors.New("is not an array with enough elements")
	}

	histKind, err := dec.DecodeInt64()
	if err != nil || histKind < 0 {
		return nil, nil, errors.New("has a malformed history kind")
	}

	line, err := dec.DecodeString()
	if err != nil {
		return nil, nil, errors.New("has a non-string history line")
	}

	if strings.IndexByte(line, 0) >= 0 {
		return nil, nil, errors.New("contains a zero byte inside the history line")
	}

	data := HistoryEntryData{HistKind: HistoryKind(histKind), Line: line}
	consumed := 2

	if data.HistKind == HistorySearch {
		if n < 3 {
			return nil, nil, errors.New("search history entry has no separator")
		}

		sep, err := dec.DecodeInt64()
		if err != nil || sep < 0 || sep > 0xff {
			return nil, nil, errors.New("has a malformed separator")
		}

		data.Sep = byte(sep)
		consumed = 3
	}

	extra, err := captureTrailing(dec, n-consumed)
	if err != nil {
		return nil, nil, err
	}

	return data, extra, nil
}

func decodeRegister(dec *msgpack.Decoder) (EntryData, []msgpack.RawMessage, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, nil, errors.New("is not a map")
	}

	data := defaultRegister()
	sawContents := false

	var extra []msgpack.RawMessage

	for j := 0; j < n; j++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, nil, errors.New("has a non-string key")
		}

		switch key {
		case "rc":
			lines, decErr := decodeStringArray(dec)
			if decErr != nil {
				return nil, nil, errors.New("has malformed contents")
			}

			data.Lines = lines
			sawContents = true
		case "n":
			name, decErr := dec.DecodeInt64()
			if decErr != nil || name < 0 || name > 0xff {
				return nil, nil, errors.New("has a malformed name")
			}

			data.Name = byte(name)
		case "rt":
			t, decErr := dec.DecodeInt64()
			if decErr != nil {
				return nil, nil, errors.New("has a malformed type")
			}

			if t != int64(RegisterCharacterwise) && t != int64(RegisterLinewise) && t != int64(RegisterBlockwise) {
				return nil, nil, fmt.Errorf("has unknown register type %d", t)
			}

			data.Type = RegisterType(t)
		case "rw":
			if data.Width, err = dec.DecodeInt64(); err != nil || data.Width < 0 {
				return nil, nil, errors.New("has a malformed width")
			}
		case "ru":
			err = decodeBoolField(dec, &data.Unnamed, key)
		default:
			extra, err = appendRawPair(dec, extra, key)
		}

		if err != nil {
			return nil, nil, err
		}
	}

	if !sawContents || len(data.Lines) == 0 {
		return nil, nil, errors.New("has missing or empty contents")
	}

	return data, extra, nil
}

func decodeStringArray(dec *msgpack.Decoder) ([]string, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 0 {
		return nil, errors.New("not an array")
	}

	lines := make([]string, 0, n)

	for j := 0; j < n; j++ {
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}

		lines = append(lines, s)
	}

	return lines, nil
}

func decodeVariable(dec *msgpack.Decoder) (EntryData, []msgpack.RawMessage, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 2 {
		return nil, nil, errors.New("is not an array with enough elements")
	}

	name, err := dec.DecodeString()
	if err != nil {
		return nil, nil, errors.New("has a non-string variable name")
	}

	value, err := dec.DecodeInterface()
	if err != nil {
		return nil, nil, errors.New("has a value that cannot be decoded")
	}

	extra, err := captureTrailing(dec, n-2)
	if err != nil {
		return nil, nil, err
	}

	return VariableData{Name: name, Value: normalizeValue(value)}, extra, nil
}

// normalizeValue widens the decoder's assorted numeric types so equal
// values compare equal regardless of how compactly they were encoded.
// Integers become int64 (uint64 only past the int64 range), floats become
// float64; containers are normalized recursively.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return normalizeValue(uint64(x))
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}

		return x
	case float32:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}

		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeValue(x[k])
		}

		return x
	case map[any]any:
		out := make(map[any]any, len(x))
		for k, val := range x {
			out[normalizeValue(k)] = normalizeValue(val)
		}

		return out
	default:
		return v
	}
}

func decodeMark(dec *msgpack.Decoder, kind Kind) (EntryData, []msgpack.RawMessage, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, nil, errors.New("is not a map")
	}

	data := defaultMark()
	sawFile := false

	var extra []msgpack.RawMessage

	for j := 0; j < n; j++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, nil, errors.New("has a non-string key")
		}

		switch key {
		case "n":
			if kind == KindJump || kind == KindChange {
				return nil, nil, errors.New("has a name, which is only valid for marks")
			}

			name, decErr := dec.DecodeInt64()
			if decErr != nil || name < 0 || name > 0xff {
				return nil, nil, errors.New("has a malformed name")
			}

			data.Name = byte(name)
		case "l":
			if data.Line, err = dec.DecodeInt64(); err != nil {
				return nil, nil, errors.New("has a malformed line number")
			}
		case "c":
			if data.Col, err = dec.DecodeInt64(); err != nil {
				return nil, nil, errors.New("has a malformed column number")
			}
		case "f":
			if data.File, err = dec.DecodeString(); err != nil {
				return nil, nil, errors.New("has a non-string file name")
			}

			sawFile = true
		default:
			extra, err = appendRawPair(dec, extra, key)
		}

		if err != nil {
			return nil, nil, err
		}
	}

	if !sawFile || data.File == "" {
		return nil, nil, errors.New("is missing the file name")
	}

	if data.Line <= 0 {
		return nil, nil, errors.New("has an invalid line number")
	}

	if data.Col < 0 {
		return nil, nil, errors.New("has an invalid column number")
	}

	return data, extra, nil
}

func decodeBufferList(dec *msgpack.Decoder) (EntryData, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 0 {
		return nil, errors.New("is not an array")
	}

	buffers := make([]BufferListItem, 0, n)

	for j := 0; j < n; j++ {
		m, err := dec.DecodeMapLen()
		if err != nil {
			return nil, errors.New("contains a non-map item")
		}

		item := BufferListItem{Line: 1}
		sawFile := false

		for j2 := 0; j2 < m; j2++ {
			key, err := dec.DecodeString()
			if err != nil {
				return nil, errors.New("contains an item with a non-string key")
			}

			switch key {
			case "f":
				if item.File, err = dec.DecodeString(); err != nil {
					return nil, errors.New("contains an item with a non-string file name")
				}

				sawFile = true
			case "l":
				if item.Line, err = dec.DecodeInt64(); err != nil {
					return nil, errors.New("contains an item with a malformed line number")
				}
			case "c":
				if item.Col, err = dec.DecodeInt64(); err != nil {
					return nil, errors.New("contains an item with a malformed column number")
				}
			default:
				if item.Extra, err = appendRawPair(dec, item.Extra, key); err != nil {
					return nil, err
				}
			}
		}

		if !sawFile || item.File == "" {
			return nil, errors.New("contains an item without a file name")
		}

		if item.Line <= 0 {
			return nil, errors.New("contains an item with an invalid line number")
		}

		if item.Col < 0 {
			return nil, errors.New("contains an item with an invalid column number")
		}

		buffers = append(buffers, item)
	}

	return BufferListData{Buffers: buffers}, nil
}
