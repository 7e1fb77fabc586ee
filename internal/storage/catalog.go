package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
)

// Catalog document content type.
const catalogContentType = "application/json"

// Defaults applied to loaded entries.
const (
	defaultVolume      = 1.0
	defaultSourceType  = "unknown"
	defaultCategory    = core.CategoryOther
	catalogJSONIndent  = "  "
	logFmtCatalogEmpty = "Catalog '%s' unreadable, starting empty: %v"
	logFmtEntryDropped = "Dropping invalid catalog entry (id=%q)"
)

// validCategories is the closed set of categories the catalog accepts.
// Anything else is coerced to "other" on load.
var validCategories = map[string]struct{}{
	core.CategorySoundEffect: {},
	core.CategoryVoice:       {},
	core.CategorySong:        {},
	core.CategoryText:        {},
	core.CategoryJSON:        {},
	core.CategoryOther:       {},
}

// Catalog is the shared metadata document enumerating persisted artifacts.
// Every mutation is a read-merge-write cycle serialized by an in-process
// mutex. Concurrent writers in other processes can still race; that gap is
// deliberate and surfaced only by WriteGuarded.
type Catalog struct {
	mu    sync.Mutex
	store core.ArtifactStore
	key   string
	log   *logger.Logger
}

// NewCatalog creates a catalog over the given document key.
func NewCatalog(store core.ArtifactStore, key string, log *logger.Logger) *Catalog {
	return &Catalog{
		mu:    sync.Mutex{},
		store: store,
		key:   key,
		log:   log,
	}
}

// Load fetches and sanitizes the catalog document. A missing or unparsable
// document is an empty catalog, never an error.
func (c *Catalog) Load(ctx context.Context) ([]core.CatalogEntry, error) {
	return c.load(ctx), nil
}

// Write merges the new entries into the catalog and writes the whole
// document back. New entries go ahead of existing ones and win on id
// collision. An empty entry set bypasses merging and overwrites the
// document directly, resetting the catalog.
func (c *Catalog) Write(ctx context.Context, entries []core.CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entries) == 0 {
		return c.persist(ctx, []core.CatalogEntry{})
	}

	current := c.load(ctx)
	merged := mergeEntries(entries, current)

	return c.persist(ctx, merged)
}

// WriteGuarded is Write with a precondition: the caller passes the entries
// it based its changes on, and the write fails with ErrMetadataConflict
// when the stored document no longer matches that snapshot. This catches
// lost updates from concurrent writers in other processes, which the plain
// Write cycle cannot.
func (c *Catalog) WriteGuarded(
	ctx context.Context,
	expected []core.CatalogEntry,
	entries []core.CatalogEntry,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.load(ctx)

	if !entriesEqual(current, expected) {
		return fmt.Errorf("%w: catalog '%s' changed since it was read", core.ErrMetadataConflict, c.key)
	}

	if len(entries) == 0 {
		return c.persist(ctx, []core.CatalogEntry{})
	}

	return c.persist(ctx, mergeEntries(entries, current))
}

// Reset overwrites the catalog with an empty document.
func (c *Catalog) Reset(ctx context.Context) error {
	return c.Write(ctx, nil)
}

// PlaceholderResolver returns a lookup from placeholder tokens to entry
// names, backed by a cached catalog snapshot refreshed at most every ttl.
func (c *Catalog) PlaceholderResolver(ttl time.Duration) func(token string) (string, bool) {
	var (
		cacheMu   sync.Mutex
		cache     map[string]string
		refreshed time.Time
	)

	return func(token string) (string, bool) {
		cacheMu.Lock()
		defer cacheMu.Unlock()

		if cache == nil || time.Since(refreshed) >= ttl {
			cache = make(map[string]string)

			for _, entry := range c.load(context.Background()) {
				if entry.Placeholder != "" {
					cache[entry.Placeholder] = entry.Name
				}
			}

			refreshed = time.Now()
		}

		name, found := cache[token]

		return name, found
	}
}

// load fetches and sanitizes the document, treating every failure as an
// empty catalog.
func (c *Catalog) load(ctx context.Context) []core.CatalogEntry {
	data, fetchErr := c.store.Fetch(ctx, c.key)
	if fetchErr != nil {
		c.log.Warn(logFmtCatalogEmpty, c.key, fetchErr)

		return []core.CatalogEntry{}
	}

	var entries []core.CatalogEntry

	unmarshalErr := json.Unmarshal(data, &entries)
	if unmarshalErr != nil {
		c.log.Warn(logFmtCatalogEmpty, c.key, unmarshalErr)

		return []core.CatalogEntry{}
	}

	return c.sanitize(entries)
}

// sanitize drops invalid entries and defaults the optional fields the way
// older documents may have left them.
func (c *Catalog) sanitize(entries []core.CatalogEntry) []core.CatalogEntry {
	sanitized := make([]core.CatalogEntry, 0, len(entries))

	for _, entry := range entries {
		if !entry.Valid() {
			c.log.Warn(logFmtEntryDropped, entry.ID)

			continue
		}

		sanitized = append(sanitized, defaultEntry(entry))
	}

	return sanitized
}

func (c *Catalog) persist(ctx context.Context, entries []core.CatalogEntry) error {
	data, marshalErr := json.MarshalIndent(entries, "", catalogJSONIndent)
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal catalog: %v", core.ErrStorage, marshalErr)
	}

	_, replaceErr := c.store.Replace(ctx, c.key, data, catalogContentType)
	if replaceErr != nil {
		return fmt.Errorf("failed to write catalog '%s': %w", c.key, replaceErr)
	}

	return nil
}

// mergeEntries puts the new entries ahead of the existing ones, dropping
// existing entries whose id collides with a new entry.
func mergeEntries(incoming, existing []core.CatalogEntry) []core.CatalogEntry {
	merged := make([]core.CatalogEntry, 0, len(incoming)+len(existing))
	seen := make(map[string]struct{}, len(incoming))

	for _, entry := range incoming {
		if _, dup := seen[entry.ID]; dup {
			continue
		}

		if entry.Date == "" {
			entry.Date = time.Now().UTC().Format(time.RFC3339)
		}

		seen[entry.ID] = struct{}{}
		merged = append(merged, defaultEntry(entry))
	}

	for _, entry := range existing {
		if _, dup := seen[entry.ID]; dup {
			continue
		}

		seen[entry.ID] = struct{}{}
		merged = append(merged, entry)
	}

	return merged
}

func defaultEntry(entry core.CatalogEntry) core.CatalogEntry {
	if _, known := validCategories[entry.Category]; !known {
		entry.Category = defaultCategory
	}

	if entry.Volume <= 0 || entry.Volume > 1 {
		entry.Volume = defaultVolume
	}

	if entry.Source.Type == "" {
		entry.Source.Type = defaultSourceType
	}

	return entry
}

func entriesEqual(left, right []core.CatalogEntry) bool {
	leftJSON, leftErr := json.Marshal(left)
	rightJSON, rightErr := json.Marshal(right)

	if leftErr != nil || rightErr != nil {
		return false
	}

	return bytes.Equal(leftJSON, rightJSON)
}
