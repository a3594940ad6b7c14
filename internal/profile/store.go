package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	fileExt       = ".json.enc"
	legacyExt     = ".json"
	watchDebounce = 100 * time.Millisecond
	maxNameLen    = 64
)

var (
	ErrNotFound       = errors.New("profile not found")
	ErrExists         = errors.New("profile already exists")
	ErrDefaultProfile = errors.New("the default profile cannot be deleted or renamed")
	ErrInvalidName    = errors.New("invalid profile name")
	ErrInvalidProfile = errors.New("invalid profile document")
)

// Store is a directory of sealed profile documents, one file per profile.
type Store struct {
	dir    string
	sealer *Sealer
	log    *slog.Logger

	mu sync.Mutex // serializes read-modify-write sequences
}

// Open creates dir if needed and loads (or creates) the master key.
func Open(dir, keyFile string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	key, err := LoadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	sealer, err := NewSealer(key)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, sealer: sealer, log: log}, nil
}

// Dir returns the profile directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// ValidName checks that name can be used as a file name.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLen)
	case strings.HasPrefix(name, "__"):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// List returns the sorted profile names.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		if strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a profile file exists.
func (s *Store) Exists(name string) bool {
	if ValidName(name) != nil {
		return false
	}
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Save seals and writes the profile, replacing any existing one.
func (s *Store) Save(name string, shortcuts []Shortcut) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(name, shortcuts)
}

func (s *Store) saveLocked(name string, shortcuts []Shortcut) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if shortcuts == nil {
		shortcuts = []Shortcut{}
	}
	p := &Profile{Name: name, Shortcuts: shortcuts}
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.writeSealed(s.path(name), data); err != nil {
		return fmt.Errorf("save profile %s: %w", name, err)
	}
	s.log.Debug("profile saved", "name", name, "shortcuts", len(shortcuts))
	return nil
}

// writeSealed writes atomically through a temp file in the same directory.
func (s *Store) writeSealed(path string, plaintext []byte) error {
	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) readSealed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.sealer.Open(data)
}

// Load decrypts and decodes a profile.
func (s *Store) Load(name string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(name)
}

func (s *Store) loadLocked(name string) (*Profile, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	plain, err := s.readSealed(s.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", name, err)
	}
	var p Profile
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, name, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Name = name
	return &p, nil
}

// Delete removes a profile. The default profile cannot be deleted; a
// missing profile is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(name)
}

func (s *Store) deleteLocked(name string) error {
	if name == DefaultName {
		return ErrDefaultProfile
	}
	if err := ValidName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	return nil
}

// Rename moves a profile to a new name that must not exist yet.
func (s *Store) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldName == DefaultName {
		return ErrDefaultProfile
	}
	if err := ValidName(newName); err != nil {
		return err
	}
	p, err := s.loadLocked(oldName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(s.path(newName)); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, newName)
	}
	if err := s.saveLocked(newName, p.Shortcuts); err != nil {
		return err
	}
	return s.deleteLocked(oldName)
}

// Duplicate copies src to dst, replacing dst if it exists.
func (s *Store) Duplicate(src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked(src)
	if err != nil {
		return err
	}
	return s.saveLocked(dst, p.Shortcuts)
}

// Merge appends shortcuts to target, creating it if missing.
func (s *Store) Merge(target string, additional []Shortcut) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []Shortcut
	p, err := s.loadLocked(target)
	switch {
	case err == nil:
		existing = p.Shortcuts
	case !errors.Is(err, ErrNotFound):
		return err
	}
	merged := make([]Shortcut, 0, len(existing)+len(additional))
	merged = append(merged, existing...)
	merged = append(merged, additional...)
	return s.saveLocked(target, merged)
}

// Import validates a plaintext JSON document and saves it under name,
// ignoring the name inside the document.
func (s *Store) Import(data []byte, name string) error {
	p, err := Parse(data)
	if err != nil {
		return err
	}
	return s.Save(name, p.Shortcuts)
}

// Export returns the plaintext JSON document.
func (s *Store) Export(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidName(name); err != nil {
		return nil, err
	}
	plain, err := s.readSealed(s.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("export profile %s: %w", name, err)
	}
	return plain, nil
}

// Stats summarizes one profile.
type Stats struct {
	Name           string           `json:"name"`
	ShortcutCount  int              `json:"shortcutCount"`
	CategoryCounts map[Category]int `json:"categoryCounts"`
	EmptyShortcuts int              `json:"emptyShortcuts"`
	LastModified   time.Time        `json:"lastModified"`
	FileSize       int64            `json:"fileSize"`
}

// Stats returns counts and file metadata for a profile.
func (s *Store) Stats(name string) (*Stats, error) {
	p, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("stat profile %s: %w", name, err)
	}
	st := &Stats{
		Name:           name,
		ShortcutCount:  len(p.Shortcuts),
		CategoryCounts: make(map[Category]int),
		LastModified:   fi.ModTime(),
		FileSize:       fi.Size(),
	}
	for _, sc := range p.Shortcuts {
		st.CategoryCounts[sc.Category]++
		if sc.IsEmpty {
			st.EmptyShortcuts++
		}
	}
	return st, nil
}

// InitDefault writes the default profile if it does not exist and reports
// whether it did.
func (s *Store) InitDefault() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(DefaultName)); err == nil {
		return false, nil
	}
	if err := s.saveLocked(DefaultName, DefaultShortcuts()); err != nil {
		return false, err
	}
	return true, nil
}

// MigrateLegacy seals plain .json profiles left by older versions and removes
// the originals. It returns how many were migrated.
func (s *Store) MigrateLegacy() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read profile directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || filepath.Ext(fn) != legacyExt || strings.HasPrefix(fn, "__") {
			continue
		}
		name := strings.TrimSuffix(fn, legacyExt)
		if ValidName(name) != nil {
			continue
		}
		legacy := filepath.Join(s.dir, fn)
		data, err := os.ReadFile(legacy)
		if err != nil {
			s.log.Warn("read legacy profile failed", "file", fn, "error", err)
			continue
		}
		if err := s.writeSealed(s.path(name), data); err != nil {
			s.log.Warn("migrate legacy profile failed", "file", fn, "error", err)
			continue
		}
		if err := os.Remove(legacy); err != nil {
			s.log.Warn("remove legacy profile failed", "file", fn, "error", err)
		}
		n++
	}
	if n > 0 {
		s.log.Info("migrated legacy profiles", "count", n)
	}
	return n, nil
}

// Clear removes every profile, including the default one.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SelfTest seals, writes, reads back and removes a scratch document.
func (s *Store) SelfTest() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "__selftest__"+fileExt)
	defer os.Remove(path)
	want := []byte("streampad self test")
	if err := s.writeSealed(path, want); err != nil {
		return fmt.Errorf("self test write: %w", err)
	}
	got, err := s.readSealed(path)
	if err != nil {
		return fmt.Errorf("self test read: %w", err)
	}
	if string(got) != string(want) {
		return fmt.Errorf("self test: round trip mismatch")
	}
	return nil
}

// Watch calls fn with the current profile list whenever profile files in
// the directory change, until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func([]string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				base := filepath.Base(event.Name)
				if !strings.HasSuffix(base, fileExt) || strings.HasPrefix(base, "__") {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(watchDebounce, func() {
					if ctx.Err() != nil {
						return
					}
					names, err := s.List()
					if err != nil {
						s.log.Warn("list profiles failed", "error", err)
						return
					}
					fn(names)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("profile watcher error", "error", err)
			}
		}
	}()
	return nil
}
