package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFakeMissing = errors.New("object missing")

// fakeArtifactStore keeps documents in memory, just enough backend for the
// catalog's fetch and replace cycle.
type fakeArtifactStore struct {
	objects map[string][]byte
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{objects: make(map[string][]byte)}
}

func (f *fakeArtifactStore) Upload(
	_ context.Context,
	key string,
	data []byte,
	_ string,
) (*core.PutResult, error) {
	f.objects[key] = data

	return &core.PutResult{Key: key, URL: "fake://" + key}, nil
}

func (f *fakeArtifactStore) Fetch(_ context.Context, key string) ([]byte, error) {
	data, found := f.objects[key]
	if !found {
		return nil, errFakeMissing
	}

	return data, nil
}

func (f *fakeArtifactStore) Delete(_ context.Context, key string, _ bool) error {
	delete(f.objects, key)

	return nil
}

func (f *fakeArtifactStore) Replace(
	_ context.Context,
	key string,
	data []byte,
	_ string,
) (*core.PutResult, error) {
	f.objects[key] = data

	return &core.PutResult{Key: key, URL: "fake://" + key}, nil
}

func (f *fakeArtifactStore) SaveConfig(
	ctx context.Context,
	key string,
	data []byte,
) (*core.PutResult, error) {
	return f.Replace(ctx, key, data, "application/json")
}

func (f *fakeArtifactStore) List(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}

	return keys, nil
}

func (f *fakeArtifactStore) Purge(_ context.Context) error {
	f.objects = make(map[string][]byte)

	return nil
}

func newTestCatalog(t *testing.T) (*storage.Catalog, *fakeArtifactStore) {
	t.Helper()

	testLogger, logErr := logger.New(t.TempDir(), "catalog-test.log")
	require.NoError(t, logErr)

	store := newFakeArtifactStore()

	return storage.NewCatalog(store, "audio_metadata.json", testLogger), store
}

func audioEntry(id, name string) core.CatalogEntry {
	return core.CatalogEntry{
		ID:          id,
		Name:        name,
		Type:        "audio/wav",
		Category:    core.CategoryVoice,
		Size:        2048,
		Date:        "2026-08-01T00:00:00Z",
		Volume:      1,
		Placeholder: "",
		Source:      core.SourceDescriptor{Type: "merge", Metadata: nil},
		AudioURL:    "fake://" + name + ".wav",
		ConfigURL:   "",
	}
}

func TestCatalogLoadMissingDocumentIsEmpty(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)

	entries, loadErr := catalog.Load(context.Background())
	require.NoError(t, loadErr)
	assert.Empty(t, entries)
}

func TestCatalogLoadUnparsableDocumentIsEmpty(t *testing.T) {
	t.Parallel()

	catalog, store := newTestCatalog(t)
	store.objects["audio_metadata.json"] = []byte("{not json at all")

	entries, loadErr := catalog.Load(context.Background())
	require.NoError(t, loadErr)
	assert.Empty(t, entries)
}

func TestCatalogWriteMergesNewEntriesFirst(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("a", "first")}))
	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("b", "second")}))

	entries, loadErr := catalog.Load(ctx)
	require.NoError(t, loadErr)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "a", entries[1].ID)
}

func TestCatalogIDCollisionKeepsOneEntryLaterWins(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("dup", "original")}))
	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("dup", "rewritten")}))

	entries, loadErr := catalog.Load(ctx)
	require.NoError(t, loadErr)
	require.Len(t, entries, 1)
	assert.Equal(t, "dup", entries[0].ID)
	assert.Equal(t, "rewritten", entries[0].Name)
}

func TestCatalogDropsInvalidEntriesOnLoad(t *testing.T) {
	t.Parallel()

	catalog, store := newTestCatalog(t)
	store.objects["audio_metadata.json"] = []byte(`[
		{"id": "", "name": "no-id", "audioUrl": "fake://x.wav"},
		{"id": "no-urls", "name": "orphan"},
		{"id": "ok", "name": "kept", "audioUrl": "fake://kept.wav"}
	]`)

	entries, loadErr := catalog.Load(context.Background())
	require.NoError(t, loadErr)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].ID)
}

func TestCatalogDefaultsLoadedEntryFields(t *testing.T) {
	t.Parallel()

	catalog, store := newTestCatalog(t)
	store.objects["audio_metadata.json"] = []byte(`[
		{"id": "d", "name": "bare", "category": "bogus", "volume": 0, "audioUrl": "fake://bare.wav"}
	]`)

	entries, loadErr := catalog.Load(context.Background())
	require.NoError(t, loadErr)
	require.Len(t, entries, 1)
	assert.Equal(t, core.CategoryOther, entries[0].Category)
	assert.InDelta(t, 1.0, entries[0].Volume, 0.001)
	assert.Equal(t, "unknown", entries[0].Source.Type)
}

func TestCatalogEmptyWriteResetsDocument(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("a", "first")}))
	require.NoError(t, catalog.Reset(ctx))

	entries, loadErr := catalog.Load(ctx)
	require.NoError(t, loadErr)
	assert.Empty(t, entries)
}

func TestCatalogWriteGuardedDetectsConcurrentWrite(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("a", "first")}))

	snapshot, loadErr := catalog.Load(ctx)
	require.NoError(t, loadErr)

	// Another writer lands between the read and the guarded write.
	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("b", "interloper")}))

	guardErr := catalog.WriteGuarded(ctx, snapshot, []core.CatalogEntry{audioEntry("c", "late")})
	require.ErrorIs(t, guardErr, core.ErrMetadataConflict)
}

func TestCatalogWriteGuardedSucceedsOnFreshSnapshot(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{audioEntry("a", "first")}))

	snapshot, loadErr := catalog.Load(ctx)
	require.NoError(t, loadErr)

	guardErr := catalog.WriteGuarded(ctx, snapshot, []core.CatalogEntry{audioEntry("b", "second")})
	require.NoError(t, guardErr)

	entries, reloadErr := catalog.Load(ctx)
	require.NoError(t, reloadErr)
	assert.Len(t, entries, 2)
}

func TestCatalogPlaceholderResolver(t *testing.T) {
	t.Parallel()

	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	entry := audioEntry("p", "Thunder Clap")
	entry.Placeholder = "thunder"
	require.NoError(t, catalog.Write(ctx, []core.CatalogEntry{entry}))

	resolve := catalog.PlaceholderResolver(time.Minute)

	name, found := resolve("thunder")
	assert.True(t, found)
	assert.Equal(t, "Thunder Clap", name)

	_, found = resolve("no-such-token")
	assert.False(t, found)
}
