package storage_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFileServer mimics the standalone file-storage HTTP service: multipart
// uploads, per-name fetch/replace/delete, and a url-keyed listing.
type fakeFileServer struct {
	mu      sync.Mutex
	files   map[string][]byte
	deletes []string
}

func newFakeFileServer() *fakeFileServer {
	return &fakeFileServer{
		mu:      sync.Mutex{},
		files:   make(map[string][]byte),
		deletes: nil,
	}
}

func (f *fakeFileServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", f.handleUpload)
	mux.HandleFunc("GET /audio/list", f.handleList)
	mux.HandleFunc("GET /audio/{name}", f.handleFetch)
	mux.HandleFunc("PUT /audio/{name}", f.handleReplace)
	mux.HandleFunc("DELETE /audio/{name}", f.handleDelete)

	return mux
}

func (f *fakeFileServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, formErr := r.FormFile("audio")
	if formErr != nil {
		http.Error(w, `{"error":"missing audio part"}`, http.StatusBadRequest)

		return
	}

	defer func() { _ = file.Close() }()

	data, readErr := io.ReadAll(file)
	if readErr != nil {
		http.Error(w, `{"error":"unreadable part"}`, http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	f.files[header.Filename] = data
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]string{"url": "/audio/" + header.Filename})
}

func (f *fakeFileServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, found := f.files[r.PathValue("name")]
	f.mu.Unlock()

	if !found {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)

		return
	}

	_, _ = w.Write(data)
}

func (f *fakeFileServer) handleReplace(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	_, found := f.files[name]
	f.mu.Unlock()

	if !found {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)

		return
	}

	file, _, formErr := r.FormFile("audio")
	if formErr != nil {
		http.Error(w, `{"error":"missing audio part"}`, http.StatusBadRequest)

		return
	}

	defer func() { _ = file.Close() }()

	data, readErr := io.ReadAll(file)
	if readErr != nil {
		http.Error(w, `{"error":"unreadable part"}`, http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	f.files[name] = data
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]string{"url": "/audio/" + name})
}

func (f *fakeFileServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	_, found := f.files[name]

	if found {
		delete(f.files, name)
	}

	f.deletes = append(f.deletes, name)
	f.mu.Unlock()

	if !found {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)

		return
	}

	_, _ = w.Write([]byte(`{}`))
}

func (f *fakeFileServer) handleList(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()

	entries := make([]map[string]string, 0, len(f.files))
	for name := range f.files {
		entries = append(entries, map[string]string{"url": "/audio/" + name})
	}

	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(entries)
}

func newTestRemoteStore(t *testing.T) (*storage.RemoteStore, *fakeFileServer) {
	t.Helper()

	fake := newFakeFileServer()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	testLogger, logErr := logger.New(t.TempDir(), "remote-test.log")
	require.NoError(t, logErr)

	store := storage.NewRemoteStoreWithClient(server.URL, server.Client(), testLogger)

	return store, fake
}

func TestRemoteStoreUploadAndFetch(t *testing.T) {
	t.Parallel()

	store, _ := newTestRemoteStore(t)
	ctx := context.Background()

	result, uploadErr := store.Upload(ctx, "intro.wav", []byte("wav-bytes"), "audio/wav")
	require.NoError(t, uploadErr)
	assert.Equal(t, "intro.wav", result.Key)
	assert.True(t, strings.HasSuffix(result.URL, "/audio/intro.wav"))

	data, fetchErr := store.Fetch(ctx, "intro.wav")
	require.NoError(t, fetchErr)
	assert.Equal(t, []byte("wav-bytes"), data)
}

func TestRemoteStoreFetchMissingIsStorageError(t *testing.T) {
	t.Parallel()

	store, _ := newTestRemoteStore(t)

	_, fetchErr := store.Fetch(context.Background(), "ghost.wav")
	require.ErrorIs(t, fetchErr, core.ErrStorage)
	assert.Contains(t, fetchErr.Error(), "ghost.wav")
}

func TestRemoteStoreDeleteWithCompanionConfig(t *testing.T) {
	t.Parallel()

	store, fake := newTestRemoteStore(t)
	ctx := context.Background()

	_, uploadErr := store.Upload(ctx, "episode.wav", []byte("wav-bytes"), "audio/wav")
	require.NoError(t, uploadErr)

	// No companion config exists; its absence must not fail the delete.
	deleteErr := store.Delete(ctx, "episode.wav", true)
	require.NoError(t, deleteErr)

	fake.mu.Lock()
	deletes := append([]string(nil), fake.deletes...)
	fake.mu.Unlock()

	assert.Equal(t, []string{"episode.wav", "episode.json"}, deletes)
}

func TestRemoteStoreReplaceCreatesWhenMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestRemoteStore(t)
	ctx := context.Background()

	result, replaceErr := store.Replace(ctx, "fresh.json", []byte(`[]`), "application/json")
	require.NoError(t, replaceErr)
	assert.Equal(t, "fresh.json", result.Key)

	data, fetchErr := store.Fetch(ctx, "fresh.json")
	require.NoError(t, fetchErr)
	assert.Equal(t, []byte(`[]`), data)
}

func TestRemoteStoreListAndPurge(t *testing.T) {
	t.Parallel()

	store, _ := newTestRemoteStore(t)
	ctx := context.Background()

	_, uploadErr := store.Upload(ctx, "one.wav", []byte("wav-bytes-1"), "audio/wav")
	require.NoError(t, uploadErr)

	_, uploadErr = store.Upload(ctx, "two.wav", []byte("wav-bytes-2"), "audio/wav")
	require.NoError(t, uploadErr)

	keys, listErr := store.List(ctx)
	require.NoError(t, listErr)
	assert.ElementsMatch(t, []string{"one.wav", "two.wav"}, keys)

	require.NoError(t, store.Purge(ctx))

	keys, listErr = store.List(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, keys)
}

func TestDeriveConfigKey(t *testing.T) {
	t.Parallel()

	key, deriveErr := storage.DeriveConfigKey("episode.wav")
	require.NoError(t, deriveErr)
	assert.Equal(t, "episode.json", key)

	key, deriveErr = storage.DeriveConfigKey("no-extension")
	require.NoError(t, deriveErr)
	assert.Equal(t, "no-extension.json", key)

	_, deriveErr = storage.DeriveConfigKey("already.json")
	require.ErrorIs(t, deriveErr, storage.ErrNoCompanionForJSON)
}
