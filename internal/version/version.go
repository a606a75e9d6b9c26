// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package version reports which jsvm build is running.
//
// Release builds stamp Version with -ldflags:
//
//	go build -ldflags "-X github.com/aplane-algo/jsvm/internal/version.Version=0.3.0"
//
// Commit and build time otherwise come from the VCS data the Go toolchain
// embeds in the binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Version is the release of the interpreter and its tools.
var Version = "dev"

// Info describes one build.
type Info struct {
	Version   string
	Commit    string
	Time      string
	Modified  bool
	GoVersion string
	Platform  string
}

var (
	buildOnce sync.Once
	build     Info
)

// Get returns the running build, read once from the binary.
func Get() Info {
	buildOnce.Do(func() {
		build = fromBuildInfo(debug.ReadBuildInfo())
	})
	info := build
	info.Version = Version
	return info
}

func fromBuildInfo(bi *debug.BuildInfo, ok bool) Info {
	info := Info{
		GoVersion: runtime.Version(),
		Platform:  Platform(),
	}
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			if len(info.Commit) > 12 {
				info.Commit = info.Commit[:12]
			}
		case "vcs.time":
			info.Time = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String formats the build for -version output, leaving out what is unknown.
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	var parts []string
	if i.Commit != "" {
		commit := i.Commit
		if i.Modified {
			commit += "+dirty"
		}
		parts = append(parts, "commit "+commit)
	}
	if i.Time != "" {
		parts = append(parts, "built "+i.Time)
	}
	parts = append(parts, i.GoVersion, i.Platform)
	b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	return b.String()
}

// String is Get().String().
func String() string {
	return Get().String()
}

// Platform returns the os/arch pair shown in the REPL banner.
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
