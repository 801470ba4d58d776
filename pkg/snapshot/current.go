package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/fsutil"
)

const (
	currentFile    = "CURRENT"
	currentVersion = 1
)

// pointer is the on-disk content of CURRENT. Replacing it is the commit point
// of a snapshot capture.
type pointer struct {
	Version  int  `json:"version"`
	Snapshot Meta `json:"snapshot"`
}

func readCurrent(dir string) (*Meta, error) {
	path := filepath.Join(dir, currentFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var p pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, dberrors.Corruption("%s: %v", path, err)
	}
	if p.Version != currentVersion {
		return nil, dberrors.Corruption("%s: unsupported version %d", path, p.Version)
	}
	if p.Snapshot.File == "" || filepath.Base(p.Snapshot.File) != p.Snapshot.File {
		return nil, dberrors.Corruption("%s: invalid snapshot file name %q", path, p.Snapshot.File)
	}

	return &p.Snapshot, nil
}

func writeCurrent(dir string, meta Meta) error {
	data, err := json.MarshalIndent(pointer{Version: currentVersion, Snapshot: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", currentFile, err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, currentFile), data, 0o600)
}
