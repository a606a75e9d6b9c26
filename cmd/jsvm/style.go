// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aplane-algo/jsvm/internal/repl"
	"github.com/aplane-algo/jsvm/internal/util"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// render applies style line by line so lipgloss does not pad a block to
// equal width. Plain text is returned when the terminal has no color.
func render(style lipgloss.Style, text string) string {
	if !util.SupportsColor() || text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func styleError(text string) string {
	return render(errorStyle, text)
}

func banner() string {
	title, hint, _ := strings.Cut(repl.Banner(), "\n")
	return render(titleStyle, title) + "\n" + render(hintStyle, hint) + "\n"
}

func prompt(pending bool) string {
	if pending {
		return render(promptStyle, "...") + " "
	}
	return render(promptStyle, ">>>") + " "
}
