package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/tmp/FlareOn.exe", "/tmp/FlareOn-flared.exe"},
		{"dir/lib.dll", "dir/lib-flared.dll"},
		{"noext", "noext-flared"},
		{"a.b.exe", "a.b-flared.exe"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := outputPath(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"FLARED_LOG_LEVEL", "FLARED_NO_WAIT", "FLARED_NO_COLOR", "FLARED_SECTION", "FLARED_KEEP_SECTIONS"} {
			t.Setenv(k, "")
		}
		cfg, err := loadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LogLevel != log.InfoLevel || cfg.NoWait || cfg.NoColor || cfg.KeepSections || cfg.SectionName != ".flared" {
			t.Errorf("got %+v", cfg)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("FLARED_LOG_LEVEL", "debug")
		t.Setenv("FLARED_NO_WAIT", "1")
		t.Setenv("FLARED_SECTION", ".fix")
		t.Setenv("FLARED_KEEP_SECTIONS", "true")
		cfg, err := loadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LogLevel != log.DebugLevel || !cfg.NoWait || !cfg.KeepSections || cfg.SectionName != ".fix" {
			t.Errorf("got %+v", cfg)
		}
	})

	t.Run("reads changes between calls", func(t *testing.T) {
		t.Setenv("FLARED_SECTION", ".one")
		if _, err := loadConfig(); err != nil {
			t.Fatal(err)
		}
		t.Setenv("FLARED_SECTION", ".two")
		cfg, err := loadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.SectionName != ".two" {
			t.Errorf("got %q, want %q", cfg.SectionName, ".two")
		}
	})

	t.Run("bad level", func(t *testing.T) {
		t.Setenv("FLARED_LOG_LEVEL", "loud")
		if _, err := loadConfig(); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestRootCmdErrors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.exe")
	if err := os.WriteFile(bad, []byte("MZ not really"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", []string{}},
		{"two arguments", []string{"a", "b"}},
		{"missing file", []string{filepath.Join(t.TempDir(), "none.exe")}},
		{"not an assembly", []string{bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd(&config{NoWait: true, NoColor: true, SectionName: ".flared"})
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)
			if err := cmd.Execute(); err == nil {
				t.Error("expected error, got nil")
			}
			if strings.Contains(out.String(), "File written") {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}
