package sessionfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/sessionfile/internal/fs"
)

// Version identifies this engine in the header record of files it writes.
const Version = "0.1.0"

// Engine reads and writes session files on behalf of one editor instance.
// It holds no session data itself; everything flows through the [State]
// collaborator.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	state State
	cfg   Config
	fs    fs.FS
	log   *slog.Logger
	now   func() time.Time
}

// Option configures an [Engine].
type Option func(*Engine)

// WithFS substitutes the filesystem, for tests.
func WithFS(fsys fs.FS) Option {
	return func(e *Engine) { e.fs = fsys }
}

// WithLogger sets the logger for skipped-record and fallback diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine bound to the given live state and configuration.
func New(state State, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		state: state,
		cfg:   cfg,
		fs:    fs.NewReal(),
		log:   slog.Default(),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WriteFile persists the live state to path, by default merging with
// whatever a concurrent instance wrote there since our last read. With
// nomerge set the existing file is ignored and overwritten in place.
//
// The merging write goes through a temporary sibling file and an atomic
// rename, so a reader never observes a half-written file. If the existing
// file turns out not to be a session file at all, the fully written
// temporary is kept, the target is left untouched, and the returned error
// names the temporary so the caller can surface it
// ([OutcomeCaveat], [ErrNotSessionFile]).
func (e *Engine) WriteFile(path string, nomerge bool) (Outcome, error) {
	var src fs.File

	if !nomerge {
		f, err := e.fs.Open(path)

		switch {
		case err == nil:
			src = f
			defer f.Close() //nolint:errcheck // read-only
		case errors.Is(err, os.ErrNotExist):
			nomerge = true
		default:
			e.log.Warn("cannot open existing session file, writing without merging",
				"path", path, "error", err)

			nomerge = true
		}
	}

	if nomerge {
		return e.writeFresh(path)
	}

	return e.writeMerged(path, src)
}

// Dump writes the live state to w without consulting any existing file.
func (e *Engine) Dump(w io.Writer) error {
	_, err := e.writePass(w, nil)

	return err
}

// writeFresh writes directly to the target, creating parent directories as
// needed. No temporary file: there is nothing to merge and nothing worth
// preserving on failure.
func (e *Engine) writeFresh(path string) (Outcome, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := e.fs.MkdirAll(dir, 0o700); err != nil {
			return OutcomeFailed, fmt.Errorf("sessionfile: create directory for %s: %w", path, err)
		}
	}

	f, err := e.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("sessionfile: open %s: %w", path, err)
	}

	outcome, werr := e.writePass(f, nil)
	if werr == nil {
		werr = f.Sync()
	}

	if cerr := f.Close(); werr == nil && cerr != nil {
		werr = cerr
	}

	if werr != nil {
		return OutcomeFailed, fmt.Errorf("sessionfile: write %s: %w", path, werr)
	}

	return outcome, nil
}

func (e *Engine) writeMerged(path string, src fs.File) (Outcome, error) {
	perm := os.FileMode(0o600)
	oldUID, oldGID := -1, -1

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil {
		// Inherit the old permissions but guarantee owner read/write and
		// strip any setuid/setgid bits.
		perm = os.FileMode(st.Mode&0o777) | 0o600
		oldUID, oldGID = int(st.Uid), int(st.Gid)
	}

	tmp, tmpPath, err := e.openTemp(path, perm)
	if err != nil {
		return OutcomeFailed, err
	}

	outcome, werr := e.writePass(tmp, src)

	// Sync on the caveat path as well: the fully written temporary is what
	// the caller is told to recover from.
	if outcome != OutcomeFailed {
		if serr := tmp.Sync(); serr != nil {
			outcome, werr = OutcomeFailed, serr
		}
	}

	if outcome == OutcomeSuccess && werr == nil && oldUID >= 0 && unix.Geteuid() == 0 {
		// Only root may hand the file back to its previous owner.
		if oldUID != unix.Getuid() || oldGID != unix.Getgid() {
			if cherr := tmp.Chown(oldUID, oldGID); cherr != nil {
				e.log.Warn("cannot restore session file ownership",
					"path", tmpPath, "error", cherr)
			}
		}
	}

	if cerr := tmp.Close(); werr == nil && cerr != nil {
		werr = cerr
	}

	if werr != nil || outcome != OutcomeSuccess {
		// The temporary holds everything that was written; keep it so
		// nothing merged so far is lost.
		if errors.Is(werr, ErrNotSessionFile) {
			return OutcomeCaveat, fmt.Errorf(
				"sessionfile: did not replace %s because it does not look like a session file; "+
					"the merged result was kept at %s, remove it or rename it manually: %w",
				path, tmpPath, werr)
		}

		return OutcomeFailed, fmt.Errorf(
			"sessionfile: write %s failed, partial result left at %s: %w", path, tmpPath, werr)
	}

	if err := e.checkReplaceable(path); err != nil {
		return OutcomeFailed, fmt.Errorf(
			"sessionfile: %w; the merged result was kept at %s, remove it or rename it manually",
			err, tmpPath)
	}

	if err := e.fs.Rename(tmpPath, path); err != nil {
		return OutcomeFailed, fmt.Errorf(
			"%w: %s to %s: %v; remove the temporary or rename it manually",
			ErrRenameFailed, tmpPath, path, err)
	}

	return OutcomeSuccess, nil
}

// openTemp creates an exclusive temporary sibling of path. Up to 26 stale
// temporaries from crashed instances are tolerated; after that the caller
// has to clean up.
func (e *Engine) openTemp(path string, perm os.FileMode) (fs.File, string, error) {
	for c := byte('a'); c <= 'z'; c++ {
		tmpPath := fmt.Sprintf("%s.tmp.%c", path, c)

		f, err := e.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL|unix.O_NOFOLLOW, perm)
		if err == nil {
			return f, tmpPath, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("sessionfile: open temporary %s: %w", tmpPath, err)
		}
	}

	return nil, "", fmt.Errorf("%w: all 26 temporary names for %s are taken", ErrTooManyTempFiles, path)
}

// checkReplaceable verifies the rename target can actually be replaced, so
// a doomed rename does not silently discard the merge.
func (e *Engine) checkReplaceable(path string) error {
	var st unix.Stat_t

	err := unix.Stat(path, &st)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil // vanished since the merge; rename will create it
		}

		return fmt.Errorf("cannot stat %s: %w", path, err)
	}

	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return fmt.Errorf("%w: %s is a directory", ErrNotWritable, path)
	}

	euid := unix.Geteuid()
	if euid == 0 {
		return nil
	}

	var want uint32

	switch {
	case int(st.Uid) == euid:
		want = 0o200
	case int(st.Gid) == unix.Getegid():
		want = 0o020
	default:
		want = 0o002
	}

	if st.Mode&want == 0 {
		return fmt.Errorf("%w: %s", ErrNotWritable, path)
	}

	return nil
}

// writePass performs one full serialization: seed the merge state from live
// editor state, fold in the records of src (when merging), then emit every
// surviving record to w.
func (e *Engine) writePass(w io.Writer, src io.Reader) (Outcome, error) {
	now := e.now().Unix()
	wms := newWriteMergeState()

	for kind := HistoryKind(0); kind < HistoryKindCount; kind++ {
		var it func() (HistoryLine, bool)
		if e.cfg.HistorySize[kind] > 0 {
			it = e.state.HistoryIter(kind, false)
		}

		wms.histories[kind] = newHistoryMerger(kind, e.cfg.HistorySize[kind], it)
	}

	ew := newEntryWriter(w)

	emit := func(entry Entry) error {
		st, err := ew.writeEntry(entry, e.cfg.MaxItemSize)
		switch st {
		case writeOK:
			return nil
		case writeIgnored:
			e.log.Warn("skipping record", "kind", entry.Kind.String(), "error", err)

			return nil
		default:
			return err
		}
	}

	if err := emit(e.headerEntry(now)); err != nil {
		return OutcomeFailed, err
	}

	buffers := e.state.Buffers()

	if e.cfg.SaveBufferList {
		if err := emit(e.bufferListEntry(buffers, now)); err != nil {
			return OutcomeFailed, err
		}
	}

	if e.cfg.SaveVariables {
		if err := e.emitLiveVariables(wms, emit, now); err != nil {
			return OutcomeFailed, err
		}
	}

	e.seedLive(wms, buffers)

	var caveat error

	if src != nil {
		switch outcome, err := e.mergeSource(wms, src, emit); outcome {
		case OutcomeFailed:
			return OutcomeFailed, err
		case OutcomeCaveat:
			// The source is not a session file and nothing was merged from
			// it, but the pass still runs to completion so the kept
			// temporary holds the full live state.
			caveat = err
		case OutcomeSuccess:
		}
	}

	if e.cfg.SaveGlobalMarks {
		if pos, ok := e.state.CurrentPosition(); ok && pos.File != "" && !e.cfg.removable(pos.File) {
			wms.setNumberedFromCurrent(pos, now)
		}
	}

	if err := e.emitMerged(wms, emit); err != nil {
		return OutcomeFailed, err
	}

	if caveat != nil {
		return OutcomeCaveat, caveat
	}

	return OutcomeSuccess, nil
}

// mergeSource folds every record of the existing file into wms. Individual
// malformed records are logged and skipped; framing damage means the source
// is not a session file and aborts the merge.
func (e *Engine) mergeSource(wms *writeMergeState, src io.Reader, emit func(Entry) error) (Outcome, error) {
	er := newEntryReader(src)
	want := ^kindSet(0)

	for {
		entry, st, err := readNextEntry(er, want, e.cfg.MaxItemSize)

		switch st {
		case readFinished:
			return OutcomeSuccess, nil
		case readSuccess:
			if err := wms.mergeEntry(entry, &e.cfg, emit); err != nil {
				return OutcomeFailed, err
			}
		case readMalformed:
			e.log.Warn("skipping malformed record in existing session file", "error", err)
		case readNotSessionFile:
			return OutcomeCaveat, err
		case readError:
			return OutcomeFailed, err
		}
	}
}

func (e *Engine) headerEntry(now int64) Entry {
	fields := []HeaderField{
		{Key: "generator", Value: "sessionfile"},
		{Key: "version", Value: Version},
		{Key: "encoding", Value: "utf-8"},
		{Key: "pid", Value: int64(os.Getpid())},
	}
	if e.cfg.MaxItemSize > 0 {
		fields = append(fields, HeaderField{Key: "max_item_size", Value: int64(e.cfg.MaxItemSize)})
	}

	return Entry{Kind: KindHeader, Timestamp: now, Data: HeaderData{Fields: fields}}
}

func (e *Engine) bufferListEntry(buffers []BufferState, now int64) Entry {
	items := make([]BufferListItem, 0, len(buffers))

	for _, b := range buffers {
		if b.File == "" || e.cfg.removable(b.File) {
			continue
		}

		line := b.Line
		if line < 1 {
			line = 1
		}

		items = append(items, BufferListItem{File: b.File, Line: line, Col: b.Col})
	}

	return Entry{Kind: KindBufferList, Timestamp: now, Data: BufferListData{Buffers: items}}
}

// emitLiveVariables writes the live variables immediately and records their
// names so file records for them are dropped during the merge. A value the
// wire format cannot represent skips just that variable.
func (e *Engine) emitLiveVariables(wms *writeMergeState, emit func(Entry) error, now int64) error {
	next := e.state.Variables()
	for name, value, ok := next(); ok; name, value, ok = next() {
		if err := checkSerializable(value); err != nil {
			e.log.Warn("skipping variable", "name", name, "error", err)

			continue
		}

		wms.dumpedVars[name] = true

		err := emit(Entry{
			Kind:      KindGlobalVariable,
			Timestamp: now,
			Data:      VariableData{Name: name, Value: value},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// seedLive populates the merge slots from live editor state, before the
// existing file is scanned. Seeding first is what lets live state win exact
// timestamp ties.
func (e *Engine) seedLive(wms *writeMergeState, buffers []BufferState) {
	if p, ok := e.state.SearchPattern(); ok {
		wms.searchPat.setLive(patternEntry(p, false))
	}

	if p, ok := e.state.SubstitutePattern(); ok {
		wms.subSearchPat.setLive(patternEntry(p, true))
	}

	if r, ok := e.state.Replacement(); ok {
		wms.replacement.setLive(Entry{
			Kind:      KindSubstituteString,
			Timestamp: r.Timestamp,
			Data:      SubstituteStringData{Sub: r.Text},
		})
	}

	if e.cfg.SaveGlobalMarks {
		next := e.state.GlobalMarks()
		for m, ok := next(); ok; m, ok = next() {
			if e.cfg.removable(m.File) {
				continue
			}

			wms.mergeGlobalMark(markEntry(KindGlobalMark, m), borrowed)
		}
	}

	if e.cfg.MaxRegisterLines != 0 {
		next := e.state.Registers()
		for rc, ok := next(); ok; rc, ok = next() {
			// The line limit applies to live registers only; registers
			// merged from the file keep whatever length they were written
			// with.
			if e.cfg.MaxRegisterLines >= 0 && len(rc.Lines) > e.cfg.MaxRegisterLines {
				continue
			}

			wms.register(rc.Name).setLive(registerEntry(rc))
		}
	}

	if e.cfg.MaxFiles > 0 {
		for _, m := range e.state.Jumps() {
			if e.cfg.removable(m.File) {
				continue
			}

			wms.jumps.insert(markEntry(KindJump, m), borrowed)
		}

		e.seedLocalMarks(wms, buffers)
	}
}

func (e *Engine) seedLocalMarks(wms *writeMergeState, buffers []BufferState) {
	for _, buf := range buffers {
		if buf.File == "" || e.cfg.removable(buf.File) {
			continue
		}

		for _, m := range buf.Marks {
			fm := wms.touchFile(buf.File, m.Timestamp)
			if idx := localMarkIndex(m.Name); idx >= 0 {
				fm.marks[idx].setLive(markEntry(KindLocalMark, m))
			} else {
				fm.extra = append(fm.extra, markEntry(KindLocalMark, m))
			}
		}

		for _, m := range buf.Changes {
			wms.touchFile(buf.File, m.Timestamp).changes.insert(markEntry(KindChange, m), borrowed)
		}
	}
}

// emitMerged writes out every merged category in a fixed order: marks,
// registers, jumps, patterns, per-file data, histories.
func (e *Engine) emitMerged(wms *writeMergeState, emit func(Entry) error) error {
	if e.cfg.SaveGlobalMarks {
		for i := range wms.globalMarks {
			if err := emitPending(&wms.globalMarks[i], emit); err != nil {
				return err
			}
		}

		for i := range wms.numberedMarks {
			if err := emitPending(&wms.numberedMarks[i], emit); err != nil {
				return err
			}
		}

		for _, entry := range wms.extraGlobal {
			if err := emit(entry); err != nil {
				return err
			}
		}
	}

	for _, name := range wms.registerOrder() {
		if err := emit(wms.registers[name].e); err != nil {
			return err
		}
	}

	if e.cfg.MaxFiles > 0 {
		for _, entry := range wms.jumps.entries() {
			if err := emit(entry); err != nil {
				return err
			}
		}
	}

	if err := emitPending(&wms.searchPat, emit); err != nil {
		return err
	}

	if err := emitPending(&wms.subSearchPat, emit); err != nil {
		return err
	}

	if err := emitPending(&wms.replacement, emit); err != nil {
		return err
	}

	if e.cfg.MaxFiles > 0 {
		if err := e.emitFileMarks(wms, emit); err != nil {
			return err
		}
	}

	for kind := HistoryKind(0); kind < HistoryKindCount; kind++ {
		m := wms.histories[kind]
		m.insertLiveRemaining()

		for _, entry := range m.entries() {
			if err := emit(entry); err != nil {
				return err
			}
		}
	}

	return nil
}

func emitPending(p *pendingEntry, emit func(Entry) error) error {
	if !p.set {
		return nil
	}

	return emit(p.e)
}

// emitFileMarks writes local marks and change lists for the MaxFiles most
// recently touched files; everything beyond the cap is dropped.
func (e *Engine) emitFileMarks(wms *writeMergeState, emit func(Entry) error) error {
	names := wms.rankedFiles()
	if len(names) > e.cfg.MaxFiles {
		names = names[:e.cfg.MaxFiles]
	}

	for _, name := range names {
		fm := wms.files[name]

		for i := range fm.marks {
			if err := emitPending(&fm.marks[i], emit); err != nil {
				return err
			}
		}

		for _, entry := range fm.extra {
			if err := emit(entry); err != nil {
				return err
			}
		}

		for _, entry := range fm.changes.entries() {
			if err := emit(entry); err != nil {
				return err
			}
		}
	}

	return nil
}

// Live-to-record conversions.

func patternEntry(p Pattern, substitute bool) Entry {
	data := defaultSearchPattern()
	data.Pat = p.Pat
	data.Magic = p.Magic
	data.Smartcase = p.Smartcase
	data.HasLineOffset = p.HasLineOffset
	data.PlaceCursorAtEnd = p.PlaceCursorAtEnd
	data.Offset = p.Offset
	data.IsLastUsed = p.LastUsed
	data.IsSubstitute = substitute
	data.Highlighted = p.Highlighted
	data.Backward = p.Backward

	return Entry{Kind: KindSearchPattern, Timestamp: p.Timestamp, Data: data}
}

func registerEntry(rc RegisterContent) Entry {
	return Entry{
		Kind:      KindRegister,
		Timestamp: rc.Timestamp,
		Data: RegisterData{
			Name:    rc.Name,
			Type:    rc.Type,
			Lines:   rc.Lines,
			Width:   rc.Width,
			Unnamed: rc.Unnamed,
		},
	}
}

func markEntry(kind Kind, m Mark) Entry {
	return Entry{
		Kind:      kind,
		Timestamp: m.Timestamp,
		Data: MarkData{
			Name: m.Name,
			Line: m.Line,
			Col:  m.Col,
			File: m.File,
		},
	}
}
