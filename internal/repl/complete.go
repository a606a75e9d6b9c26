// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package repl

import (
	"sort"

	"github.com/chzyer/readline"
)

// Inspector lists the names completion draws from.
type Inspector interface {
	Globals() ([]string, error)
}

// keywords completed alongside globals
var keywords = []string{
	"break", "case", "catch", "class", "const", "continue", "delete", "do",
	"else", "false", "finally", "for", "function", "if", "in", "instanceof",
	"let", "new", "null", "return", "switch", "this", "throw", "true", "try",
	"typeof", "undefined", "var", "void", "while",
}

// Completer completes the identifier under the cursor against the
// context's globals and the language keywords.
type Completer struct {
	source Inspector
}

// NewCompleter creates a completer reading names from source.
func NewCompleter(source Inspector) *Completer {
	return &Completer{source: source}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r > 0x7f
}

// Do implements readline.AutoCompleter.
func (c *Completer) Do(line []rune, pos int) ([][]rune, int) {
	if pos > len(line) {
		pos = len(line)
	}
	start := pos
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	// property access: globals do not apply after a dot
	if start > 0 && line[start-1] == '.' {
		return nil, 0
	}
	prefix := string(line[start:pos])

	return suggestionsPartial(filterByPrefix(c.candidates(), prefix), len(prefix)), len([]rune(prefix))
}

func (c *Completer) candidates() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	// a busy context refuses Globals; keywords still complete
	if names, err := c.source.Globals(); err == nil {
		for _, n := range names {
			add(n)
		}
	}
	for _, k := range keywords {
		add(k)
	}
	sort.Strings(out)
	return out
}

// filterByPrefix returns strings that start with prefix (case-sensitive)
func filterByPrefix(strs []string, prefix string) []string {
	var result []string
	for _, s := range strs {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			result = append(result, s)
		}
	}
	return result
}

// suggestionsPartial converts strings to suggestions showing only the remaining part
func suggestionsPartial(strs []string, partialLen int) [][]rune {
	suggestions := make([][]rune, 0, len(strs))
	for _, s := range strs {
		if partialLen < len(s) {
			suggestions = append(suggestions, []rune(s[partialLen:]))
		}
	}
	return suggestions
}

var _ readline.AutoCompleter = (*Completer)(nil)
