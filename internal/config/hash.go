package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest written next to config.yaml by "config lock".
const ChecksumFile = ".checksums"

const manifestVersion = 1

var (
	// ErrNotLocked means the directory has no manifest.
	ErrNotLocked = errors.New("config is not locked (run 'threaddispatch config lock')")
	// ErrTampered means a file no longer matches its recorded hash.
	ErrTampered = errors.New("hash mismatch")
)

// Manifest is the on-disk format of .checksums: BLAKE3 hex digests keyed by
// file name relative to the config directory.
type Manifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Covers reports whether name has a recorded hash.
func (m *Manifest) Covers(name string) bool {
	_, ok := m.Hashes[name]
	return ok
}

// Verify hashes dir/name and compares it with the recorded digest.
func (m *Manifest) Verify(dir, name string) error {
	want, ok := m.Hashes[name]
	if !ok {
		return fmt.Errorf("%s is not covered by %s", name, ChecksumFile)
	}
	got, err := HashFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w for %s: locked %.12s, now %.12s", ErrTampered, name, want, got)
	}
	return nil
}

// LockedFile is one entry of a LockReport. Missing files are reported but not
// recorded.
type LockedFile struct {
	Name    string
	Path    string
	Present bool
	Hash    string
}

// LockReport describes what Lock hashed and where the manifest goes.
type LockReport struct {
	Dir          string
	ManifestPath string
	Written      bool
	Files        []LockedFile
}

// HashFile returns the BLAKE3-256 hex digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lock hashes files in dir and writes the manifest unless dryRun is set.
func Lock(dir string, files []string, dryRun bool) (*LockReport, error) {
	m := Manifest{
		Version:     manifestVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	report := &LockReport{
		Dir:          dir,
		ManifestPath: filepath.Join(dir, ChecksumFile),
	}

	for _, name := range files {
		entry := LockedFile{Name: name, Path: filepath.Join(dir, name)}
		sum, err := HashFile(entry.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			entry.Present, entry.Hash = true, sum
			m.Hashes[name] = sum
		}
		report.Files = append(report.Files, entry)
	}

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ChecksumFile, err)
	}
	if err := os.WriteFile(report.ManifestPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", ChecksumFile, err)
	}
	report.Written = true
	return report, nil
}

// ReadManifest loads dir/.checksums. It returns ErrNotLocked if there is none.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ChecksumFile, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ChecksumFile, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported %s version %d", ChecksumFile, m.Version)
	}
	return &m, nil
}

// verifyLocked checks path against the manifest in its directory. An unlocked
// directory passes.
func verifyLocked(path string) error {
	dir, name := filepath.Split(path)
	dir = filepath.Clean(dir)

	m, err := ReadManifest(dir)
	if errors.Is(err, ErrNotLocked) {
		return nil
	}
	if err != nil {
		return err
	}

	if !m.Covers(name) {
		return fmt.Errorf("%s is not covered by %s in %s\nRun: threaddispatch config lock --config %s",
			name, ChecksumFile, dir, dir)
	}
	if err := m.Verify(dir, name); err != nil {
		return fmt.Errorf("config verification failed: %w\nIf the edit was intentional, run: threaddispatch config lock --config %s",
			err, dir)
	}
	return nil
}
