package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"doc-redactor/internal/logger"
)

// PatternRegistry holds custom patterns added at runtime on top of the
// built-ins. Readers get an immutable Library snapshot, so detection in
// flight never sees a half-applied change. Custom patterns are persisted
// with atomic file writes and restored on start.
type PatternRegistry struct {
	mu          sync.Mutex
	custom      map[string]Pattern
	current     atomic.Pointer[Library]
	persistPath string // empty = no persistence
	log         *logger.Logger
}

// NewPatternRegistry loads custom patterns from persistPath when it exists.
// Entries that no longer compile are skipped with a warning.
func NewPatternRegistry(persistPath string, log *logger.Logger) *PatternRegistry {
	if log == nil {
		log = logger.Nop()
	}
	r := &PatternRegistry{custom: make(map[string]Pattern), persistPath: persistPath, log: log}
	if persistPath != "" {
		patterns, err := r.loadFromDisk()
		switch {
		case err == nil:
			for _, p := range patterns {
				c, err := p.Compile()
				if err != nil {
					log.Warnf("load_patterns", "skipping persisted pattern %q: %v", p.Name, err)
					continue
				}
				if IsBuiltin(c.Name) {
					log.Warnf("load_patterns", "skipping persisted pattern %q: shadows a built-in", c.Name)
					continue
				}
				r.custom[c.Name] = Pattern{Name: c.Name, Expr: c.Expr, Label: c.Label, Replacement: c.Replacement, Priority: c.Priority}
			}
			log.Infof("load_patterns", "loaded %d custom patterns from %s", len(r.custom), persistPath)
		case !os.IsNotExist(err):
			log.Warnf("load_patterns", "failed to load %s: %v", persistPath, err)
		}
	}
	if err := r.rebuild(); err != nil {
		log.Errorf("load_patterns", "custom patterns rejected, using built-ins only: %v", err)
		r.custom = make(map[string]Pattern)
		r.current.Store(DefaultLibrary())
	}
	return r
}

// Library implements LibrarySource.
func (r *PatternRegistry) Library() *Library { return r.current.Load() }

// Add compiles p and adds or replaces it. Built-in names cannot be
// overridden.
func (r *PatternRegistry) Add(p Pattern) (Pattern, error) {
	c, err := p.Compile()
	if err != nil {
		return Pattern{}, err
	}
	if IsBuiltin(c.Name) {
		return Pattern{}, fmt.Errorf("pattern %s is built in", c.Name)
	}
	stored := Pattern{Name: c.Name, Expr: c.Expr, Label: c.Label, Replacement: c.Replacement, Priority: c.Priority}

	r.mu.Lock()
	prev, existed := r.custom[c.Name]
	r.custom[c.Name] = stored
	if err := r.rebuild(); err != nil {
		if existed {
			r.custom[c.Name] = prev
		} else {
			delete(r.custom, c.Name)
		}
		r.mu.Unlock()
		return Pattern{}, err
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snapshot)
	return stored, nil
}

// Remove deletes a custom pattern. It reports whether the name existed.
func (r *PatternRegistry) Remove(name string) bool {
	r.mu.Lock()
	if _, ok := r.custom[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.custom, name)
	_ = r.rebuild() // removing a pattern cannot introduce a compile error
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snapshot)
	return true
}

// Custom returns the custom patterns sorted by name.
func (r *PatternRegistry) Custom() []Pattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// rebuild compiles built-ins followed by custom patterns in name order.
// Caller must hold r.mu, except during construction.
func (r *PatternRegistry) rebuild() error {
	all := append(BuiltinPatterns(), r.snapshotLocked()...)
	lib, err := NewLibrary(all...)
	if err != nil {
		return err
	}
	r.current.Store(lib)
	return nil
}

func (r *PatternRegistry) snapshotLocked() []Pattern {
	out := make([]Pattern, 0, len(r.custom))
	for _, p := range r.custom {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *PatternRegistry) loadFromDisk() ([]Pattern, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var patterns []Pattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	return patterns, nil
}

// persist writes the snapshot atomically: temp file in the same directory,
// then rename. It does not hold r.mu.
func (r *PatternRegistry) persist(patterns []Pattern) {
	if r.persistPath == "" {
		return
	}
	data, err := json.MarshalIndent(patterns, "", "  ")
	if err != nil {
		r.log.Errorf("persist_patterns", "marshal: %v", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.persistPath), ".patterns-*.tmp")
	if err != nil {
		r.log.Errorf("persist_patterns", "create temp: %v", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		r.log.Errorf("persist_patterns", "write: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		r.log.Errorf("persist_patterns", "close: %v", err)
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		r.log.Errorf("persist_patterns", "rename: %v", err)
	}
}
