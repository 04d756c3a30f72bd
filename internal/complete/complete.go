// Package complete supplies candidate completions for the prompt. It is
// consulted synchronously while the session is at the prompt, never
// during execution.
package complete

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxSuggestions = 10

// HistorySource provides past inputs matching a prefix.
type HistorySource interface {
	PrefixSearch(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Engine merges three candidate sources: history prefix matches, PATH
// executables, and entries of the working directory.
type Engine struct {
	history  HistorySource
	pathDirs []string
	logger   *slog.Logger
}

// New creates an engine. history may be nil (no history persistence);
// pathDirs is the executable search path, typically from the session
// environment.
func New(history HistorySource, pathDirs []string, logger *slog.Logger) *Engine {
	return &Engine{history: history, pathDirs: pathDirs, logger: logger}
}

// Suggest returns up to maxSuggestions candidate input lines for the
// partial input, ordered history first, then executables, then files.
func (e *Engine) Suggest(ctx context.Context, input, cwd string) []string {
	trimmed := strings.TrimRight(input, " \t")
	if strings.TrimSpace(trimmed) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(candidate string) {
		if len(out) >= maxSuggestions || seen[candidate] || candidate == input {
			return
		}
		seen[candidate] = true
		out = append(out, candidate)
	}

	if e.history != nil {
		matches, err := e.history.PrefixSearch(ctx, trimmed, maxSuggestions)
		if err != nil {
			e.logger.Debug("history completion failed", slog.String("error", err.Error()))
		}
		for _, m := range matches {
			add(m)
		}
	}

	if !strings.ContainsAny(trimmed, " \t") {
		for _, name := range e.executables(trimmed) {
			add(name)
		}
	} else {
		base, last := splitLastToken(trimmed)
		for _, name := range e.dirEntries(cwd, last) {
			add(base + name)
		}
	}

	return out
}

// executables returns PATH binaries starting with prefix, sorted.
func (e *Engine) executables(prefix string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, dir := range e.pathDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, prefix) || seen[name] {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.IsDir() || info.Mode()&0111 == 0 {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// dirEntries returns names in dir starting with prefix, directories
// suffixed with a separator, sorted.
func (e *Engine) dirEntries(dir, prefix string) []string {
	searchDir := dir
	namePrefix := prefix
	if idx := strings.LastIndexByte(prefix, '/'); idx >= 0 {
		searchDir = filepath.Join(dir, prefix[:idx+1])
		namePrefix = prefix[idx+1:]
		if filepath.IsAbs(prefix) {
			searchDir = prefix[:idx+1]
		}
	}

	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		full := prefix[:len(prefix)-len(namePrefix)] + name
		if entry.IsDir() {
			full += string(filepath.Separator)
		}
		names = append(names, full)
	}
	sort.Strings(names)
	return names
}

// splitLastToken divides input into everything up to the final
// whitespace and the trailing partial token.
func splitLastToken(input string) (base, last string) {
	idx := strings.LastIndexAny(input, " \t")
	return input[:idx+1], input[idx+1:]
}
