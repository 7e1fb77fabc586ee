package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
)

const scopeDirPattern = "mixdown-*"

// Scope owns the temporary directory of one merge invocation. Every
// intermediate file is created inside it, and Close removes the whole
// directory, so no exit path can leak intermediates.
type Scope struct {
	dir string
	log *logger.Logger
}

// NewScope creates a fresh temporary directory under parent. An empty parent
// falls back to the system temp directory.
func NewScope(parent string, log *logger.Logger) (*Scope, error) {
	if parent == "" {
		parent = os.TempDir()
	}

	dirErr := os.MkdirAll(parent, 0o750)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create scope parent '%s': %w", parent, dirErr)
	}

	dir, tmpErr := os.MkdirTemp(parent, scopeDirPattern)
	if tmpErr != nil {
		return nil, fmt.Errorf("failed to create scope directory: %w", tmpErr)
	}

	return &Scope{
		dir: dir,
		log: log,
	}, nil
}

// Dir returns the scope's directory.
func (s *Scope) Dir() string {
	return s.dir
}

// Path returns the path of a named file inside the scope.
func (s *Scope) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// WriteFile writes data to a named file inside the scope and returns its
// full path.
func (s *Scope) WriteFile(name string, data []byte) (string, error) {
	path := s.Path(name)

	writeErr := os.WriteFile(path, data, 0o600)
	if writeErr != nil {
		return "", fmt.Errorf("failed to write scope file '%s': %w", path, writeErr)
	}

	return path, nil
}

// Close removes the scope directory and everything inside it.
func (s *Scope) Close() {
	removeErr := os.RemoveAll(s.dir)
	if removeErr != nil {
		s.log.Warn("Failed to remove scope directory '%s': %v", s.dir, removeErr)
	}
}
