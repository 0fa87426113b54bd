// Package toolstore persists generated tools on disk and keeps an
// in-memory registry of them, optionally refreshed by a filesystem
// watcher.
package toolstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"seagent/internal/codegen"
	"seagent/internal/logging"
)

// ErrToolNotFound indicates the registry holds no tool with that name.
var ErrToolNotFound = errors.New("tool not found")

// Metadata is the sidecar record written next to each tool source file.
type Metadata struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	InputSpec    string    `json:"input_spec,omitempty"`
	OutputSpec   string    `json:"output_spec,omitempty"`
	SourceTraces []string  `json:"source_traces,omitempty"`
	TestAttempts int       `json:"test_attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entry is a registered tool: its metadata plus the source.
type Entry struct {
	Metadata
	Code string `json:"-"`
	Path string `json:"path"`
}

// Store is the on-disk tool repository. Loading is explicit: New does
// not scan the directory, call LoadFromDir.
type Store struct {
	dir string

	mu    sync.RWMutex
	tools map[string]*Entry

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates the tool directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tools directory: %w", err)
	}
	return &Store{dir: dir, tools: make(map[string]*Entry)}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveTool writes the tool source and its metadata sidecar atomically
// and registers the tool. Implements the generator's Saver.
func (s *Store) SaveTool(tool *codegen.GeneratedTool) (string, error) {
	if strings.TrimSpace(tool.Name) == "" {
		return "", fmt.Errorf("tool has no name")
	}

	path := filepath.Join(s.dir, tool.Name+".go")
	if err := writeAtomic(path, []byte(tool.Code)); err != nil {
		return "", fmt.Errorf("failed to write tool source: %w", err)
	}

	meta := Metadata{
		Name:         tool.Name,
		TestAttempts: len(tool.TestAttempts),
		CreatedAt:    tool.CreatedAt,
	}
	if tool.Spec != nil {
		meta.Description = tool.Spec.Description
		meta.InputSpec = tool.Spec.InputSpec
		meta.OutputSpec = tool.Spec.OutputSpec
		meta.SourceTraces = tool.Spec.SourceTrace
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool metadata: %w", err)
	}
	if err := writeAtomic(metadataPath(path), metaBytes); err != nil {
		return "", fmt.Errorf("failed to write tool metadata: %w", err)
	}

	s.register(&Entry{Metadata: meta, Code: tool.Code, Path: path})
	logging.Tools("Saved tool %s (%d bytes)", tool.Name, len(tool.Code))
	return path, nil
}

// LoadFromDir scans the tool directory and registers every tool found.
// Returns the number of tools loaded.
func (s *Store) LoadFromDir() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read tools directory: %w", err)
	}

	loaded := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".go") {
			continue
		}
		if err := s.loadFile(filepath.Join(s.dir, de.Name())); err != nil {
			logging.Get(logging.CategoryTools).Warn("Skipping tool %s: %v", de.Name(), err)
			continue
		}
		loaded++
	}

	logging.Tools("Loaded %d tools from %s", loaded, s.dir)
	return loaded, nil
}

// loadFile registers one tool source file, reading the sidecar when
// present and falling back to the seatool marker otherwise.
func (s *Store) loadFile(path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(path), ".go")
	entry := &Entry{
		Metadata: Metadata{Name: name},
		Code:     string(code),
		Path:     path,
	}

	if metaBytes, err := os.ReadFile(metadataPath(path)); err == nil {
		var meta Metadata
		if err := json.Unmarshal(metaBytes, &meta); err == nil && meta.Name != "" {
			entry.Metadata = meta
		}
	}
	if entry.Description == "" {
		entry.Description = markerDescription(string(code))
	}

	s.register(entry)
	return nil
}

// Get returns a registered tool by name.
func (s *Store) Get(name string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return entry, nil
}

// List returns registered tools sorted by name.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.tools))
	for _, entry := range s.tools {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a tool is registered.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// Names returns registered tool names sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools)
}

// Watch starts a filesystem watcher that registers tools written to the
// directory by other processes and drops removed ones. Stop with Close.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop()

	logging.Tools("Watching %s for tool changes", s.dir)
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".go") {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				if err := s.loadFile(event.Name); err != nil {
					logging.Get(logging.CategoryTools).Warn("Failed to reload %s: %v", event.Name, err)
				}
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				s.unregister(strings.TrimSuffix(filepath.Base(event.Name), ".go"))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryTools).Error("Watcher error: %v", err)
		case <-s.done:
			return
		}
	}
}

// Close stops the watcher if one is running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

func (s *Store) register(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[entry.Name] = entry
}

func (s *Store) unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
}

func metadataPath(toolPath string) string {
	return strings.TrimSuffix(toolPath, ".go") + ".json"
}

// markerDescription pulls the text after the seatool marker, if any.
func markerDescription(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "// seatool:") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "// seatool:"))
		}
	}
	return ""
}

// writeAtomic writes via a temp file and rename so a crash cannot leave
// a half-written tool.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
