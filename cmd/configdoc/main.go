// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// configdoc generates markdown documentation from Go struct tags.
// Usage: go run ./cmd/configdoc > doc/CONFIG_REFERENCE.md
package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/aplane-algo/jsvm/internal/util"
)

type envVar struct {
	Name        string
	Description string
	UsedBy      string
}

var envVars = []envVar{
	{"JSVM_DATA", "Data directory (config.yaml, modules, history)", "jsvm, jsvmd"},
	{"JSVM_DEBUG", "Set to any value to enable debug logging", "jsvm, jsvmd"},
	{"JSVM_BACKEND", "Set to 1 in the environment of a spawned backend process", "backend processes"},
	{"NO_COLOR", "Disable colored terminal output", "jsvm"},
}

func main() {
	writeReference(os.Stdout)
}

func writeReference(w io.Writer) {
	fmt.Fprintln(w, "# Configuration Reference")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Auto-generated from Go struct tags. Do not edit manually.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "---")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "File: `%s` in the data directory (`-d`, `JSVM_DATA` or `~/.jsvm`). Shared by jsvm and jsvmd.\n", util.ConfigFile)
	fmt.Fprintln(w)
	writeStructTable(w, reflect.TypeOf(util.Config{}))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Environment Variables")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Variable | Description | Used By |")
	fmt.Fprintln(w, "|----------|-------------|---------|")
	for _, env := range envVars {
		fmt.Fprintf(w, "| `%s` | %s | %s |\n", env.Name, env.Description, env.UsedBy)
	}
}

func writeStructTable(w io.Writer, t reflect.Type) {
	fmt.Fprintln(w, "| Field | Type | Default | Description |")
	fmt.Fprintln(w, "|-------|------|---------|-------------|")

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]

		desc := field.Tag.Get("description")
		if desc == "" {
			desc = "(no description)"
		}

		def := field.Tag.Get("default")
		switch def {
		case "":
			def = "(none)"
		case `""`:
			def = "(empty string)"
		}

		fmt.Fprintf(w, "| `%s` | %s | `%s` | %s |\n", name, formatType(field.Type), def, desc)
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func formatType(t reflect.Type) string {
	if t == durationType {
		return "duration"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Bool:
		return "bool"
	case reflect.Slice:
		return "[]" + formatType(t.Elem())
	default:
		return t.String()
	}
}
