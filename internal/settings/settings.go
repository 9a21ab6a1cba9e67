// Package settings persists operator preferences, including the chosen
// scale descriptor, in a small TOML document next to the database.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"tillpoint/internal/devices"
)

// Keys accepted by Get and Set.
const (
	KeyTheme       = "theme"
	KeyDevices     = "devices"
	KeyScaleDevice = "devices.scale"
)

var (
	// ErrUnknownKey reports a key outside the settings document.
	ErrUnknownKey = errors.New("unknown settings key")
	// ErrInvalid reports a value that cannot be decoded or fails validation.
	ErrInvalid = errors.New("invalid settings value")
)

// Devices groups peripheral selections.
type Devices struct {
	Scale *devices.Descriptor `toml:"scale,omitempty" json:"scale,omitempty"`
}

// Settings is the whole persisted document.
type Settings struct {
	Theme   string  `toml:"theme" json:"theme"`
	Devices Devices `toml:"devices" json:"devices"`
}

// Defaults returns the document used when no file exists yet.
func Defaults() Settings {
	return Settings{Theme: "dark"}
}

// Validate checks every field of the document.
func (s Settings) Validate() error {
	switch s.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("theme must be dark or light, got %q", s.Theme)
	}
	if s.Devices.Scale != nil {
		if err := s.Devices.Scale.Validate(); err != nil {
			return fmt.Errorf("devices.scale: %w", err)
		}
	}
	return nil
}

// Store is the process-wide settings document backed by a file.
type Store struct {
	path string
	lock *flock.Flock

	mu      sync.RWMutex
	current Settings
}

// Open loads the settings file, falling back to defaults when it is absent.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("settings path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}
	s := &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the file from disk.
func (s *Store) Reload() error {
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	loaded, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

func readFile(path string) (Settings, error) {
	doc := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if doc.Theme == "" {
		doc.Theme = Defaults().Theme
	}
	return doc, nil
}

// GetAll returns a copy of the whole document.
func (s *Store) GetAll() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, error) {
	doc := s.GetAll()
	switch strings.TrimSpace(key) {
	case KeyTheme:
		return doc.Theme, nil
	case KeyDevices:
		return doc.Devices, nil
	case KeyScaleDevice:
		return doc.Devices.Scale, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}

// ScaleDevice returns the configured scale, if any.
func (s *Store) ScaleDevice() (devices.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.Devices.Scale == nil {
		return devices.Descriptor{}, false
	}
	return *s.current.Devices.Scale, true
}

// Set decodes a JSON value into key and persists the document. A JSON null
// clears devices.scale.
func (s *Store) Set(key string, value json.RawMessage) error {
	return s.update(func(doc *Settings) error {
		switch strings.TrimSpace(key) {
		case KeyTheme:
			var theme string
			if err := json.Unmarshal(value, &theme); err != nil {
				return fmt.Errorf("%w: decode theme: %v", ErrInvalid, err)
			}
			doc.Theme = strings.ToLower(strings.TrimSpace(theme))
		case KeyDevices:
			var devs Devices
			if err := json.Unmarshal(value, &devs); err != nil {
				return fmt.Errorf("%w: decode devices: %v", ErrInvalid, err)
			}
			doc.Devices = devs
		case KeyScaleDevice:
			var desc *devices.Descriptor
			if err := json.Unmarshal(value, &desc); err != nil {
				return fmt.Errorf("%w: decode scale device: %v", ErrInvalid, err)
			}
			doc.Devices.Scale = desc
		default:
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		return nil
	})
}

// SetScaleDevice stores desc as the configured scale; nil clears it.
func (s *Store) SetScaleDevice(desc *devices.Descriptor) error {
	return s.update(func(doc *Settings) error {
		if desc == nil {
			doc.Devices.Scale = nil
			return nil
		}
		copied := *desc
		doc.Devices.Scale = &copied
		return nil
	})
}

// SetAll replaces the whole document.
func (s *Store) SetAll(doc Settings) error {
	return s.update(func(current *Settings) error {
		*current = clone(doc)
		return nil
	})
}

func (s *Store) update(mutate func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := clone(s.current)
	if err := mutate(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := writeFile(s.path, next); err != nil {
		return err
	}
	s.current = next
	return nil
}

func writeFile(path string, doc Settings) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func clone(doc Settings) Settings {
	out := doc
	if doc.Devices.Scale != nil {
		scale := *doc.Devices.Scale
		out.Devices.Scale = &scale
	}
	return out
}
