package textproc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// defaultFilterPatterns seed a freshly created filter file. They target the
// stock hallucinations transcription engines emit on silence or music.
var defaultFilterPatterns = []string{
	`^\.+$`,
	`subtitles by`,
	`subs by`,
	`transcription by`,
	`amara\.org`,
	`^\s*bye-bye\.?\s*$`,
	`^\s*\[.*music.*\]\s*$`,
	`^\s*\(.*applause.*\)\s*$`,
}

// LoadPatterns reads one regex per line from path, ignoring blank lines and
// `#` comments. A missing file is created and seeded with the default
// patterns.
func LoadPatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if werr := writeLines(path, defaultFilterPatterns); werr != nil {
			return nil, fmt.Errorf("textproc: create filter file %q: %w", path, werr)
		}
		slog.Info("created default filter file", "path", path)
		return append([]string(nil), defaultFilterPatterns...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("textproc: open filter file %q: %w", path, err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("textproc: read filter file %q: %w", path, err)
	}
	return patterns, nil
}

// LoadReplacements reads a JSON object of pattern→replacement pairs from
// path. A missing file is created holding an empty object.
func LoadReplacements(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if werr := os.WriteFile(path, []byte("{}\n"), 0o644); werr != nil {
			return nil, fmt.Errorf("textproc: create replacements file %q: %w", path, werr)
		}
		slog.Info("created empty replacements file", "path", path)
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("textproc: read replacements file %q: %w", path, err)
	}

	rules := map[string]string{}
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("textproc: parse replacements file %q: %w", path, err)
	}
	return rules, nil
}

func writeLines(path string, lines []string) error {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
