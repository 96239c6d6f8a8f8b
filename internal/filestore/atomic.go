// Package filestore provides the atomic-write-then-rename discipline and a
// generic map-backed collection type shared by the Key/Value Store and the
// Goal/Milestone store, adapted from the teacher's internal/infra/filestore.
package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// EnsureDir creates path and all missing parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// EnsureParentDir creates the parent directory of filePath.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// AtomicWrite writes data to filePath via a sibling temp file plus
// os.Rename, so a crash mid-write never leaves a half-written file in
// filePath's place. Orphaned *.tmp files from a prior crash are harmless;
// the next successful write overwrites them.
func AtomicWrite(filePath string, data []byte, perm os.FileMode) error {
	if err := EnsureParentDir(filePath); err != nil {
		return err
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ReadFileOrEmpty reads path, returning (nil, nil) when it doesn't exist.
func ReadFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// ResolvePath expands a leading ~ and any $VAR references in configured,
// falling back to defaultPath when configured is empty.
func ResolvePath(configured, defaultPath string) string {
	path := configured
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return path
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			switch {
			case len(path) > 1 && path[1] == '/':
				path = filepath.Join(home, path[2:])
			case len(path) == 1:
				path = home
			default:
				path = filepath.Join(home, path[1:])
			}
		}
	}
	return os.ExpandEnv(path)
}

// MarshalJSONIndent marshals v as indented JSON with a trailing newline.
func MarshalJSONIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
