package main

import (
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/xyproto/env/v2"

	"github.com/daimatz/flared/pkg/dotnet"
)

// config is read from the environment.
type config struct {
	LogLevel     log.Level
	NoWait       bool
	NoColor      bool
	SectionName  string
	KeepSections bool
}

// loadConfig reloads the environment cache before reading it.
func loadConfig() (*config, error) {
	env.Load()
	level, err := log.ParseLevel(env.Str("FLARED_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	return &config{
		LogLevel:     level,
		NoWait:       env.Bool("FLARED_NO_WAIT"),
		NoColor:      env.Bool("FLARED_NO_COLOR"),
		SectionName:  env.Str("FLARED_SECTION", dotnet.DefaultSectionName),
		KeepSections: env.Bool("FLARED_KEEP_SECTIONS"),
	}, nil
}

// outputPath returns <dir>/<stem>-flared<ext> for path.
func outputPath(path string) string {
	ext := filepath.Ext(path)
	return filepath.Join(filepath.Dir(path), strings.TrimSuffix(filepath.Base(path), ext)+"-flared"+ext)
}
