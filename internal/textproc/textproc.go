// Package textproc post-processes transcription output: regex replacement
// rules first, then line filters. Both transforms are pure functions over
// pre-compiled rule sets.
package textproc

import (
	"log/slog"
	"regexp"
	"strings"
)

// parenthetical and bracketed match annotation spans transcription engines
// like to emit for non-speech sounds.
var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	bracketed     = regexp.MustCompile(`\[[^\]]*\]`)
)

// Replacement is one compiled replace rule.
type Replacement struct {
	Pattern *regexp.Regexp
	With    string
}

// CompileReplacements turns pattern→replacement pairs into compiled rules.
// Patterns are matched case-insensitively; invalid patterns are logged and
// skipped.
func CompileReplacements(rules map[string]string) []Replacement {
	out := make([]Replacement, 0, len(rules))
	for pattern, with := range rules {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			slog.Warn("invalid replacement pattern, skipping", "pattern", pattern, "error", err)
			continue
		}
		out = append(out, Replacement{Pattern: re, With: with})
	}
	return out
}

// CompilePatterns compiles filter regexes case-insensitively, logging and
// skipping invalid ones.
func CompilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Warn("invalid filter pattern, skipping", "pattern", p, "error", err)
			continue
		}
		out = append(out, re)
	}
	return out
}

// ApplyReplacements runs every rule over text in turn and returns the result.
// Replacements run before filtering so that a rule may rewrite a line into a
// form the filters then keep.
func ApplyReplacements(text string, rules []Replacement) string {
	if text == "" || len(rules) == 0 {
		return text
	}
	for _, r := range rules {
		text = r.Pattern.ReplaceAllString(text, r.With)
	}
	return text
}

// Filter drops unwanted content from text: optionally strips parenthetical
// and bracketed spans, then removes every line matching any pattern, and
// rejoins what remains. Empty lines never survive.
func Filter(text string, patterns []*regexp.Regexp, dropParenthetical bool) string {
	if text == "" {
		return ""
	}

	cleaned := text
	if dropParenthetical {
		cleaned = strings.TrimSpace(parenthetical.ReplaceAllString(cleaned, ""))
		cleaned = strings.TrimSpace(bracketed.ReplaceAllString(cleaned, ""))
	}

	var kept []string
	for _, line := range strings.SplitAfter(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		unwanted := false
		for _, p := range patterns {
			if p.MatchString(line) {
				unwanted = true
				break
			}
		}
		if unwanted {
			slog.Debug("line filtered", "line", line)
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
