// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestWriteReference(t *testing.T) {
	var buf bytes.Buffer
	writeReference(&buf)
	out := buf.String()

	for _, want := range []string{
		"| `poll_interval` | duration | `1ms` |",
		"| `listen_port` | int | `8765` |",
		"| `backend` | []string | `[]` |",
		"| `JSVM_DATA` |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("reference missing %q", want)
		}
	}
}

func TestFormatType(t *testing.T) {
	tests := []struct {
		v    interface{}
		want string
	}{
		{"", "string"},
		{0, "int"},
		{true, "bool"},
		{[]string{}, "[]string"},
		{time.Second, "duration"},
	}
	for _, tt := range tests {
		if got := formatType(reflect.TypeOf(tt.v)); got != tt.want {
			t.Errorf("formatType(%T) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
