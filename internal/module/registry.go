// ABOUTME: Registry that loads modules in order and resolves commands to them
// ABOUTME: Enforces non-empty, case-insensitive unique module names

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrEmptyName indicates a module reported an empty name.
var ErrEmptyName = errors.New("module name is empty")

// ErrNameConflict indicates a module name is already taken.
var ErrNameConflict = errors.New("module name conflict")

// LoadError records a module candidate that failed to construct or initialize.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading module from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type entry struct {
	module Module
	desc   Descriptor
}

// Registry holds the loaded modules in load order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	byName  map[string]int // lower-cased name -> index in entries
	mctx    Context
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. mctx is passed to every Init.
func NewRegistry(mctx Context, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if mctx.Logger == nil {
		mctx.Logger = logger
	}
	return &Registry{
		byName: make(map[string]int),
		mctx:   mctx,
		logger: logger.With("component", "modules"),
	}
}

type candidate struct {
	source string
	build  func() (Module, error)
}

// LoadAll instantiates factories in order, then the manifests in dir sorted by
// file name. Failed candidates are skipped and reported in errs. dir may be
// empty to load factories only.
func (r *Registry) LoadAll(ctx context.Context, factories []Factory, dir string) (loaded []Descriptor, errs []error) {
	var candidates []candidate
	for _, f := range factories {
		candidates = append(candidates, candidate{source: SourceBuiltin, build: f})
	}

	if dir != "" {
		paths, err := manifestPaths(dir)
		if err != nil {
			errs = append(errs, &LoadError{Source: dir, Err: err})
		}
		for _, p := range paths {
			candidates = append(candidates, candidate{source: p, build: func() (Module, error) {
				return LoadManifest(p)
			}})
		}
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		desc, err := r.load(c)
		if err != nil {
			r.logger.Warn("module not loaded", "source", c.source, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, desc)
	}

	r.logger.Info("modules loaded", "loaded", len(loaded), "failed", len(errs))
	return loaded, errs
}

func (r *Registry) load(c candidate) (Descriptor, error) {
	m, err := c.build()
	if err != nil {
		return Descriptor{}, &LoadError{Source: c.source, Err: err}
	}
	if m == nil {
		return Descriptor{}, &LoadError{Source: c.source, Err: errors.New("factory returned no module")}
	}

	name := strings.TrimSpace(m.Name())
	if name == "" {
		return Descriptor{}, fmt.Errorf("%w (source %s)", ErrEmptyName, c.source)
	}

	if prior, taken := r.Describe(name); taken {
		return Descriptor{}, fmt.Errorf("%w: %q from %s already registered by %s",
			ErrNameConflict, name, c.source, prior.Source)
	}

	if err := m.Init(r.mctx); err != nil {
		return Descriptor{}, &LoadError{Source: c.source, Err: fmt.Errorf("init %s: %w", name, err)}
	}

	if m.Version() == "" {
		r.logger.Warn("module has no version", "module", name, "source", c.source)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	desc := Descriptor{Name: name, Version: m.Version(), Source: c.source, Index: len(r.entries)}
	r.entries = append(r.entries, entry{module: m, desc: desc})
	r.byName[strings.ToLower(name)] = desc.Index

	r.logger.Info("=== MODULE LOADED ===",
		"module", desc.Name,
		"version", desc.Version,
		"source", desc.Source,
		"index", desc.Index,
	)
	return desc, nil
}

// manifestPaths returns the *.toml files in dir sorted by name.
// A missing directory has no manifests.
func manifestPaths(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading module directory: %w", err)
	}

	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, de.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Resolve returns the first module in load order that can handle command.
func (r *Registry) Resolve(command string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.module.CanHandle(command) {
			return e.module, true
		}
	}
	return nil, false
}

// Describe returns the descriptor of the module named name, ignoring case.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, false
	}
	return r.entries[i].desc, true
}

// List returns all descriptors in load order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.desc
	}
	return out
}

// Len returns the number of loaded modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
