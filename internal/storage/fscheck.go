package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrRemoteFilesystem is returned when the journal would live on a network
// mount, where SQLite file locking is unreliable.
var ErrRemoteFilesystem = errors.New("journal must be on a local filesystem")

// fsInfo describes the filesystem holding a directory.
type fsInfo struct {
	Type   string
	Remote bool
}

type fsStatter func(dir string) (fsInfo, error)

func validateSQLiteFilesystem(path string) error {
	return checkJournalLocation(path, statFilesystem)
}

// checkJournalLocation inspects the closest directory of path that already
// exists, since the database file and its parents may not be created yet.
func checkJournalLocation(path string, stat fsStatter) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return err
	}

	info, err := stat(dir)
	if err != nil {
		return fmt.Errorf("stat filesystem of %q: %w", dir, err)
	}
	if info.Remote {
		return fmt.Errorf("%w: %q is on %s; set journal.path to a local file or disable the journal",
			ErrRemoteFilesystem, path, info.Type)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing directory above %q", path)
		}
		p = parent
	}
}
