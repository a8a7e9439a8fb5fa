package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds the resolved limits and switches that decide which categories
// are persisted and how much of each. The surrounding option parsing that
// produces these values is the caller's business; the engine only consumes
// the results.
type Config struct {
	// HistorySize is the retained entry count per history kind. Zero
	// disables persisting that kind.
	HistorySize [HistoryKindCount]int

	// MaxFiles bounds how many distinct files keep local marks and change
	// lists in the written file. Zero disables local marks, change lists
	// and the jump list.
	MaxFiles int

	// MaxRegisterLines skips live registers with more lines than this when
	// they are dumped. Registers merged from an existing file are kept at
	// whatever length they were written with. Negative means unlimited;
	// zero disables registers entirely.
	MaxRegisterLines int

	// MaxItemSize bounds the payload size of a single record, in bytes.
	// Oversized records are skipped on read and suppressed on write. Zero
	// means unlimited.
	MaxItemSize int

	SaveBufferList  bool
	SaveGlobalMarks bool
	SaveVariables   bool

	// ApplyBufferList gates restoring the open-buffer list on read. The
	// caller typically clears it when the process was started with file
	// arguments of its own.
	ApplyBufferList bool

	// Removable reports whether a path must be excluded from persistence,
	// e.g. because it lives on removable media. Nil means nothing is
	// excluded.
	Removable func(path string) bool
}

// DefaultConfig mirrors the traditional defaults: 100 entries per history,
// marks for 100 files, unlimited register lines, 10 KiB item ceiling,
// global marks on, buffer list and variables off.
func DefaultConfig() Config {
	cfg := Config{
		MaxFiles:         100,
		MaxRegisterLines: -1,
		MaxItemSize:      10 * 1024,
		SaveGlobalMarks:  true,
		ApplyBufferList:  true,
	}
	for i := range cfg.HistorySize {
		cfg.HistorySize[i] = 100
	}

	return cfg
}

func (c *Config) removable(path string) bool {
	return c.Removable != nil && c.Removable(path)
}

// historyEnabled reports whether any history kind is persisted.
func (c *Config) historyEnabled() bool {
	for _, n := range c.HistorySize {
		if n > 0 {
			return true
		}
	}

	return false
}

var (
	errConfigFileNotFound = errors.New("sessionfile: config file not found")
	errConfigInvalid      = errors.New("sessionfile: invalid config file")
)

// configFile is the JSONC schema read by [LoadConfig].
type configFile struct {
	History struct {
		Cmd    *int `json:"cmd"`
		Search *int `json:"search"`
		Expr   *int `json:"expr"`
		Input  *int `json:"input"`
		Debug  *int `json:"debug"`
	} `json:"history"`
	MaxFiles         *int     `json:"max_files"`         //nolint:tagliatelle // snake_case for config file
	MaxRegisterLines *int     `json:"max_register_lines"` //nolint:tagliatelle
	MaxItemSize      *int     `json:"max_item_size"`      //nolint:tagliatelle
	BufferList       *bool    `json:"buffer_list"`        //nolint:tagliatelle
	GlobalMarks      *bool    `json:"global_marks"`       //nolint:tagliatelle
	Variables        *bool    `json:"variables"`
	RemovablePaths   []string `json:"removable_paths"` //nolint:tagliatelle
}

// LoadConfig reads a JSONC config file and overlays it onto the defaults.
// A missing file is not an error unless mustExist is set: the defaults are
// returned unchanged.
func LoadConfig(path string, mustExist bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	var file configFile

	if err := json.Unmarshal(standardized, &file); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	applyInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	applyBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	applyInt(&cfg.HistorySize[HistoryCommand], file.History.Cmd)
	applyInt(&cfg.HistorySize[HistorySearch], file.History.Search)
	applyInt(&cfg.HistorySize[HistoryExpr], file.History.Expr)
	applyInt(&cfg.HistorySize[HistoryInput], file.History.Input)
	applyInt(&cfg.HistorySize[HistoryDebug], file.History.Debug)
	applyInt(&cfg.MaxFiles, file.MaxFiles)
	applyInt(&cfg.MaxRegisterLines, file.MaxRegisterLines)
	applyInt(&cfg.MaxItemSize, file.MaxItemSize)
	applyBool(&cfg.SaveBufferList, file.BufferList)
	applyBool(&cfg.SaveGlobalMarks, file.GlobalMarks)
	applyBool(&cfg.SaveVariables, file.Variables)

	if len(file.RemovablePaths) > 0 {
		prefixes := make([]string, len(file.RemovablePaths))
		copy(prefixes, file.RemovablePaths)
		cfg.Removable = func(path string) bool {
			for _, p := range prefixes {
				if strings.HasPrefix(path, p) {
					return true
				}
			}

			return false
		}
	}

	for kind, n := range cfg.HistorySize {
		if n < 0 {
			return Config{}, fmt.Errorf("%w %s: negative %s history size", errConfigInvalid, path, HistoryKind(kind))
		}
	}

	return cfg, nil
}
