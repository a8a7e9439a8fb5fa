package sessionfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame layout: every record is three MessagePack unsigned integers (kind
// tag, timestamp, payload length) followed by exactly that many payload
// bytes. The three integers are read and written by hand so the stream
// position is always exact; no buffering decoder sits between the framing
// and the payload bytes.

// readStatus classifies the result of reading one record, mirroring the
// error taxonomy: per-record malformation is recoverable, framing damage
// declares the whole stream foreign, I/O failure aborts the pass.
type readStatus int

const (
	readSuccess readStatus = iota
	readFinished
	readMalformed
	readNotSessionFile
	readError
)

// kindSet selects which record kinds a read pass materializes; records
// outside the set are skipped at the framing layer without payload decoding.
type kindSet uint32

const wantUnknown kindSet = 1 << 12

func wantKind(k Kind) kindSet {
	return 1 << uint(k)
}

// undisableableKinds are always materialized on a plain read: patterns,
// replacement string and jumps cannot be switched off individually.
const undisableableKinds = kindSet(1<<uint(KindSearchPattern)) |
	kindSet(1<<uint(KindSubstituteString)) |
	kindSet(1<<uint(KindJump))

func (s kindSet) has(k Kind) bool {
	return s&wantKind(k) != 0
}

// entryReader decodes framed records from a byte stream, tracking the
// absolute position for diagnostics.
type entryReader struct {
	r   io.Reader
	pos uint64

	one [1]byte
}

func newEntryReader(r io.Reader) *entryReader {
	return &entryReader{r: r}
}

func (er *entryReader) readFull(buf []byte) (readStatus, error) {
	n, err := io.ReadFull(er.r, buf)
	er.pos += uint64(n)

	if err == nil {
		return readSuccess, nil
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// A frame promised more bytes than the file holds.
		return readNotSessionFile, fmt.Errorf("%w: record at %d truncated", ErrNotSessionFile, er.pos)
	}

	return readError, fmt.Errorf("sessionfile: read: %w", err)
}

func (er *entryReader) skip(n uint64) (readStatus, error) {
	copied, err := io.CopyN(io.Discard, er.r, int64(n)) //nolint:gosec // length validated by caller
	er.pos += uint64(copied)

	if err == nil {
		return readSuccess, nil
	}

	if err == io.EOF {
		return readNotSessionFile, fmt.Errorf("%w: record at %d truncated", ErrNotSessionFile, er.pos)
	}

	return readError, fmt.Errorf("sessionfile: read: %w", err)
}

// readUint reads one MessagePack unsigned integer directly from the stream,
// consuming exactly as many bytes as the value occupies. Anything that is
// not a positive fixint or a uint8/16/32/64 is a framing error.
func (er *entryReader) readUint(allowEOF bool) (uint64, readStatus, error) {
	n, err := io.ReadFull(er.r, er.one[:])
	er.pos += uint64(n)

	if err != nil {
		if err == io.EOF && allowEOF {
			return 0, readFinished, nil
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, readNotSessionFile,
				fmt.Errorf("%w: expected integer at %d, got end of file", ErrNotSessionFile, er.pos)
		}

		return 0, readError, fmt.Errorf("sessionfile: read: %w", err)
	}

	first := er.one[0]
	if first&0x80 == 0 {
		// Positive fixint.
		return uint64(first), readSuccess, nil
	}

	var width int

	switch first {
	case 0xcc:
		width = 1
	case 0xcd:
		width = 2
	case 0xce:
		width = 4
	case 0xcf:
		width = 8
	default:
		return 0, readNotSessionFile,
			fmt.Errorf("%w: expected positive integer at %d", ErrNotSessionFile, er.pos-1)
	}

	var buf [8]byte

	st, err := er.readFull(buf[8-width:])
	if st != readSuccess {
		return 0, st, err
	}

	return binary.BigEndian.Uint64(buf[:]), readSuccess, nil
}

// rawEntry is one frame with its payload still undecoded.
type rawEntry struct {
	tag       uint64
	timestamp int64
	payload   []byte
	start     uint64 // stream offset of the frame, for diagnostics
}

// next reads the next frame. want and maxItemSize decide which payloads are
// skipped at this layer; skipped frames are consumed and never surface.
//
// The very first record gets special treatment: if its tag is implausible
// (unknown, or '\n', the strongest hint that this is somebody's text file),
// the payload must parse as one complete MessagePack value or the whole
// stream is declared foreign.
func (er *entryReader) next(want kindSet, maxItemSize int) (rawEntry, readStatus, error) {
	for {
		start := er.pos

		tag, st, err := er.readUint(true)
		if st != readSuccess {
			return rawEntry{}, st, err
		}

		timestamp, st, err := er.readUint(false)
		if st != readSuccess {
			return rawEntry{}, st, err
		}

		length, st, err := er.readUint(false)
		if st != readSuccess {
			return rawEntry{}, st, err
		}

		if tag == 0 {
			// Tag 0 is the reserved in-memory sentinel; a file that
			// contains it was not produced by this engine.
			return rawEntry{}, readNotSessionFile,
				fmt.Errorf("%w: reserved record tag at %d", ErrNotSessionFile, start)
		}

		if length > uint64(1<<31) {
			return rawEntry{}, readNotSessionFile,
				fmt.Errorf("%w: record at %d is implausibly long", ErrNotSessionFile, start)
		}

		var wanted bool
		if tag > lastKnownKind {
			wanted = want&wantUnknown != 0
		} else {
			wanted = want.has(Kind(tag))
		}

		if maxItemSize > 0 && length > uint64(maxItemSize) {
			wanted = false
		}

		verifyOnly := false

		if !wanted {
			// An implausible first record means the file is most likely
			// not ours at all; prove it by parsing the payload.
			if start == 0 && (tag == '\n' || tag > lastKnownKind) {
				verifyOnly = true
			} else {
				if st, err := er.skip(length); st != readSuccess {
					return rawEntry{}, st, err
				}

				continue
			}
		}

		payload := make([]byte, length)
		if st, err := er.readFull(payload); st != readSuccess {
			return rawEntry{}, st, err
		}

		if verifyOnly || (start == 0 && (tag == '\n' || tag > lastKnownKind)) {
			if !isSingleMsgpackValue(payload) {
				return rawEntry{}, readNotSessionFile,
					fmt.Errorf("%w: first record payload is not valid", ErrNotSessionFile)
			}

			if verifyOnly {
				continue
			}
		}

		return rawEntry{
			tag:       tag,
			timestamp: int64(timestamp), //nolint:gosec // timestamps fit
			payload:   payload,
			start:     start,
		}, readSuccess, nil
	}
}

// isSingleMsgpackValue reports whether buf holds exactly one complete
// MessagePack value.
func isSingleMsgpackValue(buf []byte) bool {
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	if err := dec.Skip(); err != nil {
		return false
	}

	// Anything left over means the payload was not one value.
	var trailing [1]byte

	_, err := dec.Buffered().Read(trailing[:])

	return err == io.EOF
}

// readNextEntry decodes the next materialized record. Malformed payloads
// return readMalformed with the record consumed, so the caller can continue
// at the next frame.
func readNextEntry(er *entryReader, want kindSet, maxItemSize int) (Entry, readStatus, error) {
	raw, st, err := er.next(want, maxItemSize)
	if st != readSuccess {
		return Entry{}, st, err
	}

	if raw.tag > lastKnownKind {
		return Entry{
			Kind:      KindUnknown,
			Timestamp: raw.timestamp,
			Data:      UnknownData{Tag: raw.tag, Contents: raw.payload},
		}, readSuccess, nil
	}

	data, extra, err := decodePayload(Kind(raw.tag), raw.payload)
	if err != nil {
		return Entry{}, readMalformed,
			fmt.Errorf("%w: %s record at %d: %w", errMalformedRecord, Kind(raw.tag), raw.start, err)
	}

	return Entry{
		Kind:      Kind(raw.tag),
		Timestamp: raw.timestamp,
		Data:      data,
		Extra:     extra,
	}, readSuccess, nil
}

// entryWriter encodes framed records to a sink.
type entryWriter struct {
	w   io.Writer
	buf bytes.Buffer
}

func newEntryWriter(w io.Writer) *entryWriter {
	return &entryWriter{w: w}
}

// putUint writes one MessagePack unsigned integer in its smallest encoding.
func putUint(w io.Writer, v uint64) error {
	var buf [9]byte

	var n int

	switch {
	case v < 0x80:
		buf[0] = byte(v)
		n = 1
	case v <= 0xff:
		buf[0], buf[1] = 0xcc, byte(v)
		n = 2
	case v <= 0xffff:
		buf[0] = 0xcd
		binary.BigEndian.PutUint16(buf[1:3], uint16(v))
		n = 3
	case v <= 0xffffffff:
		buf[0] = 0xce
		binary.BigEndian.PutUint32(buf[1:5], uint32(v))
		n = 5
	default:
		buf[0] = 0xcf
		binary.BigEndian.PutUint64(buf[1:9], v)
		n = 9
	}

	_, err := w.Write(buf[:n])

	return err
}

// writeStatus classifies the result of writing one record.
type writeStatus int

const (
	writeOK writeStatus = iota
	writeFailed
	writeIgnored // single item could not be serialized; skipped
)

// writeEntry frames and writes one record. Records whose payload exceeds
// maxItemSize are suppressed (writeIgnored), matching the read-side skip.
func (ew *entryWriter) writeEntry(e Entry, maxItemSize int) (writeStatus, error) {
	ew.buf.Reset()

	if err := encodePayload(&ew.buf, e); err != nil {
		return writeIgnored, err
	}

	if maxItemSize > 0 && ew.buf.Len() > maxItemSize {
		return writeIgnored, fmt.Errorf("sessionfile: %s record exceeds max item size", e.Kind)
	}

	tag := uint64(e.Kind)
	if e.Kind == KindUnknown {
		tag = e.Data.(UnknownData).Tag
	}

	ts := e.Timestamp
	if ts < 0 {
		ts = 0
	}

	if err := putUint(ew.w, tag); err != nil {
		return writeFailed, fmt.Errorf("sessionfile: write: %w", err)
	}

	if err := putUint(ew.w, uint64(ts)); err != nil {
		return writeFailed, fmt.Errorf("sessionfile: write: %w", err)
	}

	if err := putUint(ew.w, uint64(ew.buf.Len())); err != nil {
		return writeFailed, fmt.Errorf("sessionfile: write: %w", err)
	}

	if _, err := ew.w.Write(ew.buf.Bytes()); err != nil {
		return writeFailed, fmt.Errorf("sessionfile: write: %w", err)
	}

	return writeOK, nil
}
