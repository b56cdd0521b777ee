// Package persist snapshots named units of store state to disk and restores them.
//
// Every save goes to a temp file in the target directory and is renamed over the
// target, so a reader sees either the previous snapshot or the new one. Missing and
// corrupt units both load as ErrNotFound: a store that cannot restore starts cold.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Load when a unit is missing or unreadable.
	ErrNotFound = errors.New("persisted unit not found")
	// ErrPersistence wraps every disk fault raised while saving or removing a unit.
	ErrPersistence = errors.New("persistence failure")
)

// Temp files end in tempSuffix. Unit files always end in a codec extension,
// so no unit name can collide with one.
const tempSuffix = ".tmp"

// SchemaProvider is implemented by payloads that want their JSON form validated
// before it is decoded.
type SchemaProvider interface {
	Schema() string
}

// Manager reads and writes units below a single directory.
type Manager struct {
	dir     string
	codec   Codec
	log     *zap.Logger
	schemas sync.Map // map[string]*gojsonschema.Schema
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec sets the on-disk encoding. Defaults to Plain.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager prepares dir for use and removes temp files left behind by an
// interrupted save.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("persist: storage directory is required")
	}
	m := &Manager{
		dir:   dir,
		codec: Plain(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("persist: create storage dir: %w", err)
	}
	m.removeStaleTemps()
	return m, nil
}

// Dir returns the storage directory.
func (m *Manager) Dir() string { return m.dir }

// Extension returns the file extension of the configured codec.
func (m *Manager) Extension() string { return m.codec.Extension() }

// Path returns the file a unit is stored in.
func (m *Manager) Path(unit string) (string, error) {
	if unit == "" {
		return "", errors.New("persist: empty unit name")
	}
	clean := filepath.Clean(filepath.FromSlash(unit))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("persist: invalid unit name %q", unit)
	}
	return filepath.Join(m.dir, clean+m.codec.Extension()), nil
}

// Save encodes payload and atomically replaces the unit on disk.
func (m *Manager) Save(unit string, payload any) error {
	path, err := m.Path(unit)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, unit, err)
	}
	data, err = m.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("%w: compress %s: %w", ErrPersistence, unit, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		m.removeQuietly(tmpName)
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, unit, writeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		m.removeQuietly(tmpName)
		return fmt.Errorf("%w: rename %s: %w", ErrPersistence, unit, err)
	}

	m.log.Debug("unit saved", zap.String("unit", unit), zap.Int("bytes", len(data)))
	return nil
}

// Load decodes the unit into dst. Missing, unreadable and corrupt units all
// return an error wrapping ErrNotFound.
func (m *Manager) Load(unit string, dst any) error {
	path, err := m.Path(unit)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, unit)
		}
		m.log.Warn("unit unreadable, starting cold", zap.String("unit", unit), zap.Error(err))
		return fmt.Errorf("%w: read %s: %w", ErrNotFound, unit, err)
	}

	data, err := m.codec.Decode(raw)
	if err != nil {
		return m.corrupt(unit, err)
	}
	if sp, ok := dst.(SchemaProvider); ok {
		if err := m.validate(sp.Schema(), data); err != nil {
			return m.corrupt(unit, err)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return m.corrupt(unit, err)
	}

	m.log.Debug("unit loaded", zap.String("unit", unit), zap.Int("bytes", len(raw)))
	return nil
}

// Remove deletes a unit. Removing a missing unit is not an error.
func (m *Manager) Remove(unit string) error {
	path, err := m.Path(unit)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %w", ErrPersistence, unit, err)
	}
	return nil
}

// List returns the names of the units stored directly below sub.
func (m *Manager) List(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, filepath.FromSlash(sub)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %w", ErrPersistence, sub, err)
	}

	ext := m.codec.Extension()
	var units []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		if base == "" {
			continue
		}
		units = append(units, sub+"/"+base)
	}
	return units, nil
}

func (m *Manager) corrupt(unit string, cause error) error {
	m.log.Warn("unit corrupt, starting cold", zap.String("unit", unit), zap.Error(cause))
	return fmt.Errorf("%w: %s is corrupt: %w", ErrNotFound, unit, cause)
}

func (m *Manager) validate(schema string, doc []byte) error {
	compiled, err := m.compile(schema)
	if err != nil {
		return fmt.Errorf("invalid schema definition: %w", err)
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation execution failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	msg := errs[0].String()
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(errs)-1)
	}
	return fmt.Errorf("schema validation failed: %s", msg)
}

func (m *Manager) compile(schema string) (*gojsonschema.Schema, error) {
	if v, ok := m.schemas.Load(schema); ok {
		return v.(*gojsonschema.Schema), nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, err
	}
	m.schemas.Store(schema, compiled)
	return compiled, nil
}

func (m *Manager) removeStaleTemps() {
	stale, err := doublestar.Glob(os.DirFS(m.dir), "**/.*"+tempSuffix)
	if err != nil {
		m.log.Debug("stale temp scan failed", zap.Error(err))
		return
	}
	for _, rel := range stale {
		m.removeQuietly(filepath.Join(m.dir, filepath.FromSlash(rel)))
	}
	if len(stale) > 0 {
		m.log.Info("removed stale temp files", zap.Int("count", len(stale)))
	}
}

func (m *Manager) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Debug("failed to remove file", zap.String("file", path), zap.Error(err))
	}
}
