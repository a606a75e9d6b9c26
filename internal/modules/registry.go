// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package modules keeps the set of importable script units available to
// require(), loaded from a directory of .js files.
package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ext is the file extension of a module source file.
const Ext = ".js"

// Installer is anything that accepts module registrations.
type Installer interface {
	AddModule(name, source string) (bool, error)
}

// Registry maps module names to source text. Every change bumps Version so
// consumers can tell when to reinstall.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]string
	version uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]string)}
}

// Put adds or replaces a module.
func (r *Registry) Put(name, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sources[name]; ok && old == source {
		return
	}
	r.sources[name] = source
	r.version++
}

// Remove deletes a module, reporting whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; !ok {
		return false
	}
	delete(r.sources, name)
	r.version++
	return true
}

// Replace swaps in a complete set of modules as one change. Version is
// bumped once, and only if the set differs.
func (r *Registry) Replace(sources map[string]string) {
	next := make(map[string]string, len(sources))
	for name, src := range sources {
		next[name] = src
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sameSources(r.sources, next) {
		return
	}
	r.sources = next
	r.version++
}

func sameSources(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, src := range a {
		if other, ok := b[name]; !ok || other != src {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every module together with the version it
// corresponds to.
func (r *Registry) Snapshot() (map[string]string, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.sources))
	for name, src := range r.sources {
		out[name] = src
	}
	return out, r.version
}

// Get returns the source of a module.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Names returns the sorted module names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version returns the change counter.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// NameFor returns the module name for a source path, or "" if the path is
// not a module file.
func NameFor(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) || strings.HasPrefix(base, ".") {
		return ""
	}
	return strings.TrimSuffix(base, Ext)
}

// LoadDir makes the registry mirror dir: every *.js file becomes a module
// named after its stem and modules without a file are removed.
// A missing directory yields an empty registry.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read modules directory: %w", err)
	}

	found := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := NameFor(entry.Name())
		if name == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return 0, fmt.Errorf("failed to read module %s: %w", name, err)
		}
		found[name] = string(data)
	}

	r.Replace(found)
	return len(found), nil
}

// InstallInto registers every module of one snapshot with target. It
// returns the names of modules that failed to compile; errors from target
// abort the install.
func (r *Registry) InstallInto(target Installer) ([]string, error) {
	failed, _, err := r.InstallVersion(target)
	return failed, err
}

// InstallVersion is InstallInto that also reports the version installed.
func (r *Registry) InstallVersion(target Installer) ([]string, uint64, error) {
	sources, version := r.Snapshot()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		ok, err := target.AddModule(name, sources[name])
		if err != nil {
			return failed, version, fmt.Errorf("failed to install module %s: %w", name, err)
		}
		if !ok {
			failed = append(failed, name)
		}
	}
	return failed, version, nil
}
