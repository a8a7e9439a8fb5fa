package sessionfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	for kind, n := range cfg.HistorySize {
		if n != 100 {
			t.Errorf("history size for %s = %d, want 100", HistoryKind(kind), n)
		}
	}

	if cfg.MaxFiles != 100 {
		t.Errorf("MaxFiles = %d, want 100", cfg.MaxFiles)
	}

	if cfg.MaxRegisterLines != -1 {
		t.Errorf("MaxRegisterLines = %d, want unlimited", cfg.MaxRegisterLines)
	}

	if !cfg.SaveGlobalMarks {
		t.Error("global marks disabled by default")
	}

	if cfg.SaveVariables || cfg.SaveBufferList {
		t.Error("variables or buffer list enabled by default")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.jsonc"), false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.MaxFiles != DefaultConfig().MaxFiles {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfigMissingFileMustExist(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.jsonc"), true)
	if !errors.Is(err, errConfigFileNotFound) {
		t.Fatalf("err = %v, want errConfigFileNotFound", err)
	}
}

func TestLoadConfigOverlaysValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		// command history is all we care about
		"history": {"cmd": 500, "search": 0},
		"max_files": 10,
		"max_register_lines": 50,
		"variables": true,
		"removable_paths": ["/media/", "/mnt/usb"],
	}`)

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HistorySize[HistoryCommand] != 500 {
		t.Errorf("cmd history = %d, want 500", cfg.HistorySize[HistoryCommand])
	}

	if cfg.HistorySize[HistorySearch] != 0 {
		t.Errorf("search history = %d, want 0", cfg.HistorySize[HistorySearch])
	}

	if cfg.HistorySize[HistoryExpr] != 100 {
		t.Errorf("expr history = %d, want untouched default", cfg.HistorySize[HistoryExpr])
	}

	if cfg.MaxFiles != 10 || cfg.MaxRegisterLines != 50 {
		t.Errorf("limits = %d, %d", cfg.MaxFiles, cfg.MaxRegisterLines)
	}

	if !cfg.SaveVariables {
		t.Error("variables not enabled")
	}

	if !cfg.removable("/media/usb/f.txt") || cfg.removable("/home/u/f.txt") {
		t.Error("removable predicate wrong")
	}
}

func TestLoadConfigRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"history": [}`)

	_, err := LoadConfig(path, true)
	if !errors.Is(err, errConfigInvalid) {
		t.Fatalf("err = %v, want errConfigInvalid", err)
	}
}

func TestLoadConfigRejectsNegativeHistory(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"history": {"cmd": -1}}`)

	_, err := LoadConfig(path, true)
	if !errors.Is(err, errConfigInvalid) {
		t.Fatalf("err = %v, want errConfigInvalid", err)
	}
}
