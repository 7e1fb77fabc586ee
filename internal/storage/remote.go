package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/config"
	"github.com/book-expert/mixdown-service/internal/core"
)

// API endpoints and paths.
const (
	apiUpload    = "/upload"
	apiAudio     = "/audio/"
	apiAudioList = "/audio/list"
)

// Multipart form fields.
const (
	fieldAudio    = "audio"
	fieldName     = "name"
	fieldCategory = "category"
)

// Default values.
const remoteDefaultTimeout = 60 * time.Second

// remoteUploadResponse is the server's reply to an upload or replace.
type remoteUploadResponse struct {
	URL string `json:"url"`
}

// remoteErrorResponse is the server's structured error shape.
type remoteErrorResponse struct {
	Error string `json:"error"`
}

// remoteListEntry is the slice of a server-side metadata row the client
// needs to recover artifact keys.
type remoteListEntry struct {
	URL string `json:"url"`
}

// RemoteStore talks to the standalone file-storage HTTP service. The server
// owns unique naming, so uploads report back the final key.
type RemoteStore struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewRemoteStore creates the backend from configuration.
func NewRemoteStore(cfg config.RemoteStorageConfig, log *logger.Logger) *RemoteStore {
	timeout := remoteDefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return NewRemoteStoreWithClient(cfg.BaseURL, &http.Client{Timeout: timeout}, log)
}

// NewRemoteStoreWithClient creates the backend with a custom HTTP client.
// This constructor is primarily for testing.
func NewRemoteStoreWithClient(baseURL string, httpClient *http.Client, log *logger.Logger) *RemoteStore {
	return &RemoteStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// Upload stores the payload under a server-chosen unique variant of key.
func (s *RemoteStore) Upload(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	body, formContentType, formErr := buildUploadForm(key, data, contentType)
	if formErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorage, formErr)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+apiUpload, body)
	if reqErr != nil {
		return nil, fmt.Errorf("%w: failed to create upload request: %v", core.ErrStorage, reqErr)
	}

	req.Header.Set("Content-Type", formContentType)

	return s.doUpload(req)
}

// Fetch downloads the artifact stored under key.
func (s *RemoteStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, s.audioURL(key), http.NoBody)
	if reqErr != nil {
		return nil, fmt.Errorf("%w: failed to create fetch request: %v", core.ErrStorage, reqErr)
	}

	resp, doErr := s.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("%w: fetch failed: %v", core.ErrStorage, doErr)
	}

	defer s.closeBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %v: %s", core.ErrStorage, ErrNotFound, key)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, s.parseErrorResponse(resp, "fetch")
	}

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read artifact: %v", core.ErrStorage, readErr)
	}

	return data, nil
}

// Delete removes the artifact, and with alsoConfig set, its companion
// config document. An absent companion is not an error.
func (s *RemoteStore) Delete(ctx context.Context, key string, alsoConfig bool) error {
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
func (s *RemoteStore) Replace(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	body, formContentType, formErr := buildReplaceForm(key, data, contentType)
	if formErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorage, formErr)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, s.audioURL(key), body)
	if reqErr != nil {
		return nil, fmt.Errorf("%w: failed to create replace request: %v", core.ErrStorage, reqErr)
	}

	req.Header.Set("Content-Type", formContentType)

	resp, doErr := s.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("%w: replace failed: %v", core.ErrStorage, doErr)
	}

	defer s.closeBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return s.Upload(ctx, key, data, contentType)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, s.parseErrorResponse(resp, "replace")
	}

	return s.decodeUploadResponse(resp)
}

// SaveConfig stores the companion config document for an artifact.
func (s *RemoteStore) SaveConfig(ctx context.Context, key string, data []byte) (*core.PutResult, error) {
	configKey, deriveErr := DeriveConfigKey(key)
	if deriveErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorage, deriveErr)
	}

	return s.Replace(ctx, configKey, data, "application/json")
}

// List returns every stored artifact key.
func (s *RemoteStore) List(ctx context.Context) ([]string, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiAudioList, http.NoBody)
	if reqErr != nil {
		return nil, fmt.Errorf("%w: failed to create list request: %v", core.ErrStorage, reqErr)
	}

	resp, doErr := s.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("%w: list failed: %v", core.ErrStorage, doErr)
	}

	defer s.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, s.parseErrorResponse(resp, "list")
	}

	var entries []remoteListEntry

	decodeErr := json.NewDecoder(resp.Body).Decode(&entries)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode list response: %v", core.ErrStorage, decodeErr)
	}

	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		key := strings.TrimPrefix(entry.URL, apiAudio)
		if key != "" {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Purge removes every stored artifact. The server has no bulk endpoint, so
// the client walks the listing.
func (s *RemoteStore) Purge(ctx context.Context) error {
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

func (s *RemoteStore) deleteOne(ctx context.Context, key string, missingOK bool) error {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, s.audioURL(key), http.NoBody)
	if reqErr != nil {
		return fmt.Errorf("%w: failed to create delete request: %v", core.ErrStorage, reqErr)
	}

	resp, doErr := s.httpClient.Do(req)
	if doErr != nil {
		return fmt.Errorf("%w: delete failed: %v", core.ErrStorage, doErr)
	}

	defer s.closeBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		if missingOK {
			return nil
		}

		return fmt.Errorf("%w: %v: %s", core.ErrStorage, ErrNotFound, key)
	}

	if resp.StatusCode != http.StatusOK {
		return s.parseErrorResponse(resp, "delete")
	}

	return nil
}

func (s *RemoteStore) doUpload(req *http.Request) (*core.PutResult, error) {
	resp, doErr := s.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("%w: upload failed: %v", core.ErrStorage, doErr)
	}

	defer s.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, s.parseErrorResponse(resp, "upload")
	}

	return s.decodeUploadResponse(resp)
}

func (s *RemoteStore) decodeUploadResponse(resp *http.Response) (*core.PutResult, error) {
	var uploadResp remoteUploadResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&uploadResp)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode upload response: %v", core.ErrStorage, decodeErr)
	}

	key := strings.TrimPrefix(uploadResp.URL, apiAudio)

	return &core.PutResult{
		Key: key,
		URL: s.baseURL + uploadResp.URL,
	}, nil
}

// parseErrorResponse decodes the server's structured error, falling back to
// the raw body so diagnostics are never lost.
func (s *RemoteStore) parseErrorResponse(resp *http.Response, operation string) error {
	var errorResp remoteErrorResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&errorResp)
	if decodeErr == nil && errorResp.Error != "" {
		return fmt.Errorf(
			"%w: %s returned %s: %s",
			core.ErrStorage,
			operation,
			resp.Status,
			errorResp.Error,
		)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		"%w: %s returned %s: %s",
		core.ErrStorage,
		operation,
		resp.Status,
		string(body),
	)
}

func (s *RemoteStore) audioURL(key string) string {
	return s.baseURL + apiAudio + key
}

func (s *RemoteStore) closeBody(resp *http.Response) {
	closeErr := resp.Body.Close()
	if closeErr != nil {
		s.log.Warn("Failed to close response body: %v", closeErr)
	}
}

func buildUploadForm(key string, data []byte, contentType string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	base, _ := splitKey(key)

	nameErr := writer.WriteField(fieldName, base)
	if nameErr != nil {
		return nil, "", fmt.Errorf("failed to write name field: %w", nameErr)
	}

	categoryErr := writer.WriteField(fieldCategory, categoryForContentType(contentType))
	if categoryErr != nil {
		return nil, "", fmt.Errorf("failed to write category field: %w", categoryErr)
	}

	writeErr := writeFilePart(writer, key, data)
	if writeErr != nil {
		return nil, "", writeErr
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", closeErr)
	}

	return body, writer.FormDataContentType(), nil
}

func buildReplaceForm(key string, data []byte, contentType string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	categoryErr := writer.WriteField(fieldCategory, categoryForContentType(contentType))
	if categoryErr != nil {
		return nil, "", fmt.Errorf("failed to write category field: %w", categoryErr)
	}

	writeErr := writeFilePart(writer, key, data)
	if writeErr != nil {
		return nil, "", writeErr
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", closeErr)
	}

	return body, writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, filename string, data []byte) error {
	part, partErr := writer.CreateFormFile(fieldAudio, filename)
	if partErr != nil {
		return fmt.Errorf("failed to create file part: %w", partErr)
	}

	_, copyErr := io.Copy(part, bytes.NewReader(data))
	if copyErr != nil {
		return fmt.Errorf("failed to write file part: %w", copyErr)
	}

	return nil
}

func categoryForContentType(contentType string) string {
	if contentType == "application/json" {
		return core.CategoryJSON
	}

	return core.CategoryOther
}
