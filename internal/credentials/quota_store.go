package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File permissions.
const (
	quotaFilePerm = 0o600
	quotaDirPerm  = 0o750
)

// FileQuotaStore persists accounting records as a JSON document. Writes go
// through a temp file and rename so a crash cannot leave a torn document.
type FileQuotaStore struct {
	path string
}

// NewFileQuotaStore creates a store backed by the given path.
func NewFileQuotaStore(path string) *FileQuotaStore {
	return &FileQuotaStore{path: path}
}

// Load reads the persisted records. A missing file is an empty store.
func (s *FileQuotaStore) Load() (map[string]QuotaRecord, error) {
	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return map[string]QuotaRecord{}, nil
		}

		return nil, fmt.Errorf("failed to read quota file: %w", readErr)
	}

	records := make(map[string]QuotaRecord)

	unmarshalErr := json.Unmarshal(data, &records)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse quota file: %w", unmarshalErr)
	}

	return records, nil
}

// Save replaces the persisted records.
func (s *FileQuotaStore) Save(records map[string]QuotaRecord) error {
	mkdirErr := os.MkdirAll(filepath.Dir(s.path), quotaDirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create quota directory: %w", mkdirErr)
	}

	data, marshalErr := json.MarshalIndent(records, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal quota records: %w", marshalErr)
	}

	tempPath := s.path + ".tmp"

	writeErr := os.WriteFile(tempPath, data, quotaFilePerm)
	if writeErr != nil {
		return fmt.Errorf("failed to write quota file: %w", writeErr)
	}

	renameErr := os.Rename(tempPath, s.path)
	if renameErr != nil {
		return fmt.Errorf("failed to replace quota file: %w", renameErr)
	}

	return nil
}
