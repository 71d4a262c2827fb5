package textfile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openmined/readmesync/internal/utils"
)

// FS is the slice of the filesystem the sync agent touches.
type FS interface {
	ReadFile(path string) ([]byte, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	EnsureDir(path string) error
}

// OS is the real filesystem.
type OS struct{}

func (OS) ReadFile(path string) ([]byte, error)       { return os.ReadFile(path) }
func (OS) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }
func (OS) EnsureDir(path string) error                { return utils.EnsureDir(path) }

// ReadText reads and decodes one file.
func ReadText(fsys FS, path string) (string, error) {
	raw, err := fsys.ReadFile(path)
	if err != nil {
		return "", err
	}
	text, err := Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return text, nil
}

// Find lists dir and returns the qualifying regular file, if any.
func Find(fsys FS, m *Matcher, dir string) (string, bool, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return "", false, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	name, ok := m.Select(names)
	if !ok {
		return "", false, nil
	}
	return filepath.Join(dir, name), true, nil
}
