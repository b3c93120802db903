package source

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is one input blob handed to the pipeline, from disk or from a
// mail attachment.
type File struct {
	Name    string
	Content []byte
}

// ListDirectory reads every regular file in path into memory. Reports
// are small, buffering them fully is fine. Classification by
// extension is left to the archive resolver.
func ListDirectory(path string) ([]File, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %s: %w", path, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(path, entry.Name())) // nolint: gosec
		if err != nil {
			return nil, fmt.Errorf("could not read file %s: %w", entry.Name(), err)
		}
		files = append(files, File{Name: entry.Name(), Content: content})
	}
	return files, nil
}
