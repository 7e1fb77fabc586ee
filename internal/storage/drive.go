package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/config"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/fsutil"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Upload chunk size for Drive media uploads.
const driveChunkSize = 2 * 1024 * 1024

// Query and field selections for Drive calls.
const (
	driveFileFields   = "id, name, webViewLink, webContentLink"
	driveListFields   = "nextPageToken, files(id, name)"
	driveByNameFormat = "name = '%s' and '%s' in parents and trashed = false"
	driveInFolder     = "'%s' in parents and trashed = false"
	driveListPageSize = 100
)

// DriveStore keeps artifacts as files inside one Google Drive folder. Drive
// allows duplicate names, so the client resolves names to ids before every
// operation and applies the collision policy on upload.
type DriveStore struct {
	service  *gdrive.Service
	folderID string
	log      *logger.Logger
}

// NewDriveStore creates the backend from configuration using service
// account key material.
func NewDriveStore(ctx context.Context, cfg config.DriveStorageConfig, log *logger.Logger) (*DriveStore, error) {
	service, serviceErr := gdrive.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	if serviceErr != nil {
		return nil, fmt.Errorf("%w: failed to create drive service: %v", core.ErrStorage, serviceErr)
	}

	return NewDriveStoreWithService(service, cfg.FolderID, log), nil
}

// NewDriveStoreWithService creates the backend over an existing service.
// This constructor is primarily for testing.
func NewDriveStoreWithService(service *gdrive.Service, folderID string, log *logger.Logger) *DriveStore {
	return &DriveStore{
		service:  service,
		folderID: folderID,
		log:      log,
	}
}

// Upload stores the payload under a collision-free variant of key.
func (s *DriveStore) Upload(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	base, ext := splitKey(key)

	uniqueKey := fsutil.UniqueNameFunc(base, ext, func(candidate string) bool {
		found, findErr := s.findFile(ctx, candidate)

		return findErr == nil && found != nil
	})

	return s.create(ctx, uniqueKey, data, contentType)
}

// Fetch downloads the artifact stored under key.
func (s *DriveStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	file, findErr := s.mustFind(ctx, key)
	if findErr != nil {
		return nil, findErr
	}

	resp, downloadErr := s.service.Files.Get(file.Id).Context(ctx).Download()
	if downloadErr != nil {
		return nil, fmt.Errorf("%w: download of '%s' failed: %v", core.ErrStorage, key, downloadErr)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			s.log.Warn("Failed to close download body for '%s': %v", key, closeErr)
		}
	}()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read '%s': %v", core.ErrStorage, key, readErr)
	}

	return data, nil
}

// Delete removes the artifact, and with alsoConfig set, its companion
// config document. An absent companion is not an error.
func (s *DriveStore) Delete(ctx context.Context, key string, alsoConfig bool) error {
	deleteErr := s.deleteOne(ctx, key, false)
	if deleteErr != nil {
		return deleteErr
	}

	if !alsoConfig {
		return nil
	}

	configKey, deriveErr := DeriveConfigKey(key)
	if deriveErr != nil {
		return nil
	}

	return s.deleteOne(ctx, configKey, true)
}

// Replace overwrites the artifact in place, keeping its key. A missing
// artifact is created instead, which covers the first catalog write.
func (s *DriveStore) Replace(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	file, findErr := s.findFile(ctx, key)
	if findErr != nil {
		return nil, findErr
	}

	if file == nil {
		return s.create(ctx, key, data, contentType)
	}

	media := []googleapi.MediaOption{googleapi.ChunkSize(driveChunkSize)}

	updated, updateErr := s.service.Files.Update(file.Id, &gdrive.File{}).
		Context(ctx).
		Media(bytes.NewReader(data), media...).
		Fields(driveFileFields).
		Do()
	if updateErr != nil {
		return nil, fmt.Errorf("%w: replace of '%s' failed: %v", core.ErrStorage, key, updateErr)
	}

	return &core.PutResult{
		Key: key,
		URL: fileURL(updated),
	}, nil
}

// SaveConfig stores the companion config document for an artifact.
func (s *DriveStore) SaveConfig(ctx context.Context, key string, data []byte) (*core.PutResult, error) {
	configKey, deriveErr := DeriveConfigKey(key)
	if deriveErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorage, deriveErr)
	}

	return s.Replace(ctx, configKey, data, "application/json")
}

// List returns every stored artifact key in the folder.
func (s *DriveStore) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	pageToken := ""

	for {
		call := s.service.Files.List().
			Context(ctx).
			Q(fmt.Sprintf(driveInFolder, s.folderID)).
			Fields(driveListFields).
			PageSize(driveListPageSize)

		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, listErr := call.Do()
		if listErr != nil {
			return nil, fmt.Errorf("%w: list failed: %v", core.ErrStorage, listErr)
		}

		for _, file := range page.Files {
			keys = append(keys, file.Name)
		}

		if page.NextPageToken == "" {
			return keys, nil
		}

		pageToken = page.NextPageToken
	}
}

// Purge removes every stored artifact in the folder.
func (s *DriveStore) Purge(ctx context.Context) error {
	keys, listErr := s.List(ctx)
	if listErr != nil {
		return listErr
	}

	for _, key := range keys {
		deleteErr := s.deleteOne(ctx, key, true)
		if deleteErr != nil {
			return deleteErr
		}
	}

	return nil
}

func (s *DriveStore) create(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	file := &gdrive.File{
		Name:     key,
		MimeType: contentType,
	}

	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}

	media := []googleapi.MediaOption{googleapi.ChunkSize(driveChunkSize)}

	created, createErr := s.service.Files.Create(file).
		Context(ctx).
		Media(bytes.NewReader(data), media...).
		Fields(driveFileFields).
		Do()
	if createErr != nil {
		return nil, fmt.Errorf("%w: upload of '%s' failed: %v", core.ErrStorage, key, createErr)
	}

	return &core.PutResult{
		Key: key,
		URL: fileURL(created),
	}, nil
}

func (s *DriveStore) deleteOne(ctx context.Context, key string, missingOK bool) error {
	file, findErr := s.findFile(ctx, key)
	if findErr != nil {
		return findErr
	}

	if file == nil {
		if missingOK {
			return nil
		}

		return fmt.Errorf("%w: %v: %s", core.ErrStorage, ErrNotFound, key)
	}

	deleteErr := s.service.Files.Delete(file.Id).Context(ctx).Do()
	if deleteErr != nil {
		return fmt.Errorf("%w: delete of '%s' failed: %v", core.ErrStorage, key, deleteErr)
	}

	return nil
}

// mustFind resolves a key to its Drive file or fails with ErrNotFound.
func (s *DriveStore) mustFind(ctx context.Context, key string) (*gdrive.File, error) {
	file, findErr := s.findFile(ctx, key)
	if findErr != nil {
		return nil, findErr
	}

	if file == nil {
		return nil, fmt.Errorf("%w: %v: %s", core.ErrStorage, ErrNotFound, key)
	}

	return file, nil
}

// findFile resolves a name inside the folder to its Drive file. A missing
// file is a nil result, not an error.
func (s *DriveStore) findFile(ctx context.Context, key string) (*gdrive.File, error) {
	query := fmt.Sprintf(driveByNameFormat, escapeQueryValue(key), s.folderID)

	page, listErr := s.service.Files.List().
		Context(ctx).
		Q(query).
		Fields(driveListFields).
		PageSize(1).
		Do()
	if listErr != nil {
		return nil, fmt.Errorf("%w: lookup of '%s' failed: %v", core.ErrStorage, key, listErr)
	}

	if len(page.Files) == 0 {
		return nil, nil
	}

	return page.Files[0], nil
}

func fileURL(file *gdrive.File) string {
	if file.WebContentLink != "" {
		return file.WebContentLink
	}

	return file.WebViewLink
}

// escapeQueryValue escapes single quotes and backslashes for a Drive query
// string literal.
func escapeQueryValue(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)

	return strings.ReplaceAll(escaped, `'`, `\'`)
}
