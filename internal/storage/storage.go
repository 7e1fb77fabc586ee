// Package storage provides the interchangeable artifact storage backends,
// the backend selector, and the shared metadata catalog.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/config"
	"github.com/book-expert/mixdown-service/internal/core"
)

// Config file extension for companion documents.
const configExtension = ".json"

// Static errors.
var (
	ErrNotFound           = errors.New("artifact not found")
	ErrUnknownBackend     = errors.New("unknown storage backend")
	ErrNoCompanionForJSON = errors.New("json artifacts have no companion config")
)

// New selects and constructs the backend named by the configuration.
// Callers hold the result as a core.ArtifactStore and never branch on
// backend identity.
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (core.ArtifactStore, error) {
	switch core.Backend(cfg.Backend) {
	case core.BackendRemote:
		return NewRemoteStore(cfg.Remote, log), nil
	case core.BackendS3:
		return NewS3Store(ctx, cfg.S3, log)
	case core.BackendDrive:
		return NewDriveStore(ctx, cfg.Drive, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// DeriveConfigKey maps an artifact key to its companion config document key
// by naming convention: the same base name with a .json extension. JSON
// artifacts are their own document and have no companion.
func DeriveConfigKey(audioKey string) (string, error) {
	if strings.HasSuffix(audioKey, configExtension) {
		return "", ErrNoCompanionForJSON
	}

	dotIndex := strings.LastIndex(audioKey, ".")
	if dotIndex <= 0 {
		return audioKey + configExtension, nil
	}

	return audioKey[:dotIndex] + configExtension, nil
}

// splitKey breaks a key into the base name and extension (without the dot)
// for unique-name generation.
func splitKey(key string) (base, ext string) {
	dotIndex := strings.LastIndex(key, ".")
	if dotIndex <= 0 {
		return key, ""
	}

	return key[:dotIndex], key[dotIndex+1:]
}
