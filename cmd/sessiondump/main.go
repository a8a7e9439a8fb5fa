// sessiondump is a CLI for inspecting and editing session files.
//
// Usage:
//
//	sessiondump <session-file>                 Open a session file in a REPL
//	sessiondump dump <session-file>            Print every record and exit
//	sessiondump strip [opts] <session-file>    Rewrite the file keeping only
//	                                           selected record kinds
//
// Options:
//
//	-c, --config        Engine config file (JSONC)
//	-o, --output        Output path for 'strip' (default: in place)
//	-k, --keep          Comma-separated kinds to keep for 'strip'
//	                    (header, search, sub, history, register, variable,
//	                    globalmark, jump, bufferlist, localmark, change,
//	                    unknown)
//
// Commands (in REPL):
//
//	ls [kind]        List records, optionally of one kind
//	info             Show header records
//	hist [name]      Show history entries (cmd, search, expr, input, debug)
//	regs             Show registers
//	marks            Show global and local marks
//	jumps            Show the jump list
//	bufs             Show the buffer list
//	vars             Show global variables
//	stats            Show record counts per kind
//	help             Show this help
//	exit / quit / q  Exit
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sessionfile"
	"github.com/calvinalkan/sessionfile/internal/fs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := flag.NewFlagSet("sessiondump", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	configPath := flags.StringP("config", "c", "", "engine config file")
	output := flags.StringP("output", "o", "", "output path for strip")
	keep := flags.StringP("keep", "k", "", "comma-separated kinds to keep")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage()

			return nil
		}

		return err
	}

	args := flags.Args()
	if len(args) == 0 {
		printUsage()

		return errors.New("missing command or session file path")
	}

	cfg, err := sessionfile.LoadConfig(*configPath, *configPath != "")
	if err != nil {
		return err
	}

	switch args[0] {
	case "dump":
		if len(args) != 2 {
			return errors.New("usage: sessiondump dump <session-file>")
		}

		return cmdDump(args[1], cfg)
	case "strip":
		if len(args) != 2 {
			return errors.New("usage: sessiondump strip [opts] <session-file>")
		}

		return cmdStrip(args[1], *output, *keep, cfg)
	default:
		if len(args) != 1 {
			printUsage()

			return fmt.Errorf("unknown command: %s", args[0])
		}

		return runREPL(args[0], cfg)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  sessiondump <session-file>                 Inspect a session file in a REPL")
	fmt.Println("  sessiondump dump <session-file>            Print every record and exit")
	fmt.Println("  sessiondump strip [opts] <session-file>    Keep only selected record kinds")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --config   Engine config file (JSONC)")
	fmt.Println("  -o, --output   Output path for 'strip' (default: in place)")
	fmt.Println("  -k, --keep     Comma-separated kinds to keep for 'strip'")
}

func loadEntries(path string, cfg sessionfile.Config) ([]sessionfile.Entry, error) {
	data, err := fs.NewReal().ReadFile(path)
	if err != nil {
		return nil, err
	}

	entries, err := sessionfile.Entries(bytes.NewReader(data), cfg.MaxItemSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return entries, nil
}

func cmdDump(path string, cfg sessionfile.Config) error {
	entries, err := loadEntries(path, cfg)
	if err != nil {
		return err
	}

	for i, e := range entries {
		fmt.Printf("%4d  %-17s %s  %s\n", i, e.Kind, formatTime(e.Timestamp), summarize(e))
	}

	return nil
}

// kindAliases maps the names accepted by --keep to record kinds.
var kindAliases = map[string]sessionfile.Kind{
	"header":     sessionfile.KindHeader,
	"search":     sessionfile.KindSearchPattern,
	"sub":        sessionfile.KindSubstituteString,
	"history":    sessionfile.KindHistoryEntry,
	"register":   sessionfile.KindRegister,
	"variable":   sessionfile.KindGlobalVariable,
	"globalmark": sessionfile.KindGlobalMark,
	"jump":       sessionfile.KindJump,
	"bufferlist": sessionfile.KindBufferList,
	"localmark":  sessionfile.KindLocalMark,
	"change":     sessionfile.KindChange,
	"unknown":    sessionfile.KindUnknown,
}

func cmdStrip(path, output, keep string, cfg sessionfile.Config) error {
	if keep == "" {
		return errors.New("strip needs --keep with at least one kind")
	}

	keepKinds := make(map[sessionfile.Kind]bool)

	for _, name := range strings.Split(keep, ",") {
		kind, ok := kindAliases[strings.TrimSpace(strings.ToLower(name))]
		if !ok {
			return fmt.Errorf("unknown record kind: %s", name)
		}

		keepKinds[kind] = true
	}

	entries, err := loadEntries(path, cfg)
	if err != nil {
		return err
	}

	kept := entries[:0]

	for _, e := range entries {
		if keepKinds[e.Kind] {
			kept = append(kept, e)
		}
	}

	if output == "" {
		output = path
	}

	var buf bytes.Buffer
	if err := sessionfile.WriteEntries(&buf, kept); err != nil {
		return err
	}

	if err := fs.NewReal().WriteFileAtomic(output, buf.Bytes()); err != nil {
		return err
	}

	fmt.Printf("kept %d of %d records in %s\n", len(kept), len(entries), output)

	return nil
}

// repl holds the state of one interactive session.
type repl struct {
	path    string
	entries []sessionfile.Entry
	liner   *liner.State
}

var replCommands = []string{
	"ls", "info", "hist", "regs", "marks", "jumps", "bufs", "vars",
	"stats", "help", "exit", "quit",
}

func runREPL(path string, cfg sessionfile.Config) error {
	entries, err := loadEntries(path, cfg)
	if err != nil {
		return err
	}

	r := &repl{path: path, entries: entries, liner: liner.NewLiner()}
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(func(line string) []string {
		var out []string

		for _, cmd := range replCommands {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				out = append(out, cmd)
			}
		}

		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("sessiondump - %s (%d records)\n", path, len(entries))
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("sessiondump> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil
		case "help", "?":
			r.printHelp()
		case "ls":
			r.cmdLs(args)
		case "info":
			r.cmdKind(sessionfile.KindHeader)
		case "hist":
			r.cmdHist(args)
		case "regs":
			r.cmdKind(sessionfile.KindRegister)
		case "marks":
			r.cmdKind(sessionfile.KindGlobalMark, sessionfile.KindLocalMark)
		case "jumps":
			r.cmdKind(sessionfile.KindJump)
		case "bufs":
			r.cmdKind(sessionfile.KindBufferList)
		case "vars":
			r.cmdKind(sessionfile.KindGlobalVariable)
		case "stats":
			r.cmdStats()
		default:
			fmt.Printf("unknown command: %s (try 'help')\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func historyFile() string {
	return filepath.Join(os.TempDir(), ".sessiondump_history")
}

func (r *repl) saveHistory() {
	f, err := os.Create(historyFile())
	if err != nil {
		return
	}
	defer f.Close()

	r.liner.WriteHistory(f)
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  ls [kind]        List records, optionally filtered by kind name")
	fmt.Println("  info             Show header records")
	fmt.Println("  hist [name]      Show history entries (cmd, search, expr, input, debug)")
	fmt.Println("  regs             Show registers")
	fmt.Println("  marks            Show global and local marks")
	fmt.Println("  jumps            Show the jump list")
	fmt.Println("  bufs             Show the buffer list")
	fmt.Println("  vars             Show global variables")
	fmt.Println("  stats            Show record counts per kind")
	fmt.Println("  exit             Exit")
}

func (r *repl) cmdLs(args []string) {
	var filter *sessionfile.Kind

	if len(args) > 0 {
		kind, ok := kindAliases[strings.ToLower(args[0])]
		if !ok {
			fmt.Printf("unknown kind: %s\n", args[0])

			return
		}

		filter = &kind
	}

	for i, e := range r.entries {
		if filter != nil && e.Kind != *filter {
			continue
		}

		fmt.Printf("%4d  %-17s %s  %s\n", i, e.Kind, formatTime(e.Timestamp), summarize(e))
	}
}

func (r *repl) cmdKind(kinds ...sessionfile.Kind) {
	found := false

	for _, e := range r.entries {
		for _, kind := range kinds {
			if e.Kind == kind {
				fmt.Printf("  %-17s %s  %s\n", e.Kind, formatTime(e.Timestamp), summarize(e))

				found = true
			}
		}
	}

	if !found {
		fmt.Println("  (none)")
	}
}

var histNames = map[string]sessionfile.HistoryKind{
	"cmd":    sessionfile.HistoryCommand,
	"search": sessionfile.HistorySearch,
	"expr":   sessionfile.HistoryExpr,
	"input":  sessionfile.HistoryInput,
	"debug":  sessionfile.HistoryDebug,
}

func (r *repl) cmdHist(args []string) {
	var filter *sessionfile.HistoryKind

	if len(args) > 0 {
		kind, ok := histNames[strings.ToLower(args[0])]
		if !ok {
			fmt.Printf("unknown history: %s\n", args[0])

			return
		}

		filter = &kind
	}

	found := false

	for _, e := range r.entries {
		if e.Kind != sessionfile.KindHistoryEntry {
			continue
		}

		d := e.Data.(sessionfile.HistoryEntryData)
		if filter != nil && d.HistKind != *filter {
			continue
		}

		fmt.Printf("  %-7s %s  %s\n", d.HistKind, formatTime(e.Timestamp), d.Line)

		found = true
	}

	if !found {
		fmt.Println("  (none)")
	}
}

func (r *repl) cmdStats() {
	counts := make(map[sessionfile.Kind]int)

	for _, e := range r.entries {
		counts[e.Kind]++
	}

	kinds := make([]sessionfile.Kind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		fmt.Printf("  %-17s %d\n", kind, counts[kind])
	}

	fmt.Printf("  %-17s %d\n", "total", len(r.entries))
}

func formatTime(ts int64) string {
	if ts == 0 {
		return "                   "
	}

	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

func summarize(e sessionfile.Entry) string {
	switch d := e.Data.(type) {
	case sessionfile.HeaderData:
		parts := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
		}

		return strings.Join(parts, " ")
	case sessionfile.SearchPatternData:
		role := "search"
		if d.IsSubstitute {
			role = "substitute"
		}

		return fmt.Sprintf("%s %q", role, d.Pat)
	case sessionfile.SubstituteStringData:
		return fmt.Sprintf("replacement %q", d.Sub)
	case sessionfile.HistoryEntryData:
		return fmt.Sprintf("%s %q", d.HistKind, d.Line)
	case sessionfile.RegisterData:
		return fmt.Sprintf("%q register, %d lines", d.Name, len(d.Lines))
	case sessionfile.VariableData:
		return fmt.Sprintf("%s = %v", d.Name, d.Value)
	case sessionfile.MarkData:
		if e.Kind == sessionfile.KindJump || e.Kind == sessionfile.KindChange {
			return fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Col)
		}

		return fmt.Sprintf("'%c' %s:%d:%d", d.Name, d.File, d.Line, d.Col)
	case sessionfile.BufferListData:
		files := make([]string, 0, len(d.Buffers))
		for _, b := range d.Buffers {
			files = append(files, b.File)
		}

		return strings.Join(files, " ")
	case sessionfile.UnknownData:
		return fmt.Sprintf("tag %d, %d bytes", d.Tag, len(d.Contents))
	default:
		return ""
	}
}
