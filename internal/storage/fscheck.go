package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NetworkFilesystemError reports a ledger path on a network mount, where
// SQLite file locking cannot be trusted.
type NetworkFilesystemError struct {
	Path   string
	FSType string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("ledger path %q is on network filesystem %q; SQLite needs a local disk for locking. "+
		"Point state.path (or --db) at a local directory", e.Path, e.FSType)
}

// fsDetector names the filesystem holding an existing path.
type fsDetector func(path string) (string, error)

func isNetworkFilesystem(fsType string) bool {
	switch strings.ToLower(strings.TrimSpace(fsType)) {
	case "nfs", "nfs4", "cifs", "smbfs", "smb2", "afpfs", "webdav", "9p":
		return true
	}
	return false
}

func checkLocalFilesystem(path string, detect fsDetector) error {
	if path == "" {
		return errors.New("sqlite path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve ledger path %q: %w", path, err)
	}
	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if isNetworkFilesystem(fsType) {
		return &NetworkFilesystemError{Path: path, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path to the first entry that exists; the
// database file and its directory may not have been created yet.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		p = parent
	}
}
