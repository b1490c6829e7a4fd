package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	// syftxfer
	".syftxfer.tmp-*",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	"*.swp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// List is a gitignore style rule set evaluated against paths relative to the local root.
type List struct {
	lines  []string
	ignore *gitignore.GitIgnore
}

// New compiles the default rules followed by the given lines
func New(lines ...string) *List {
	l := &List{}
	l.compile(lines)
	return l
}

// NewWithoutDefaults compiles only the given lines
func NewWithoutDefaults(lines ...string) *List {
	l := &List{}
	l.lines = cleanLines(lines)
	l.ignore = gitignore.CompileIgnoreLines(l.lines...)
	return l
}

// Load compiles the defaults, the given lines and the rules of an ignore file.
// A missing ignore file is not an error.
func Load(ignoreFile string, lines ...string) (*List, error) {
	all := append([]string{}, lines...)

	if ignoreFile != "" {
		fileLines, err := readLines(ignoreFile)
		switch {
		case err == nil:
			slog.Info("loaded ignore file", "path", ignoreFile, "rules", len(fileLines))
			all = append(all, fileLines...)
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("ignore file not found", "path", ignoreFile)
		default:
			return nil, fmt.Errorf("read ignore file %s: %w", ignoreFile, err)
		}
	}

	return New(all...), nil
}

func (l *List) compile(lines []string) {
	l.lines = append(append([]string{}, defaultIgnoreLines...), cleanLines(lines)...)
	l.ignore = gitignore.CompileIgnoreLines(l.lines...)
}

// Lines returns the compiled rules, defaults included
func (l *List) Lines() []string {
	return append([]string{}, l.lines...)
}

// ShouldIgnore reports whether relPath is excluded. Directory-only rules ("dist/")
// match when isDir is set.
func (l *List) ShouldIgnore(relPath string, isDir bool) bool {
	if l == nil || l.ignore == nil {
		return false
	}

	relPath = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(relPath, "\\", "/")), "/")
	if relPath == "" {
		return false
	}

	if l.ignore.MatchesPath(relPath) {
		return true
	}
	return isDir && l.ignore.MatchesPath(relPath+"/")
}

func readLines(name string) ([]string, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cleanLines(lines), nil
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
