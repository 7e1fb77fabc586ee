// Package worker consumes merge jobs from a NATS subject, runs them through
// the merge pipeline, and replies with completion events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/fsutil"
	"github.com/book-expert/mixdown-service/internal/script"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Per-job processing timeout. Merge jobs shell out to media processing, so
// the window is wider than a plain request handler's.
const handleMessageTimeout = 300 * time.Second

// Merged artifact naming.
const (
	defaultJobName      = "merged_audio"
	artifactExtension   = "wav"
	artifactContentType = "audio/wav"
	sourceTypeMergeJob  = "merge-job"
)

// Log formats.
const (
	logFmtJobFailed       = "Merge job %s failed: %v"
	logFmtJobDone         = "Merge job %s done: %s"
	logFmtReplyFailed     = "Failed to publish completion for job %s: %v"
	logFmtBlobCleanup     = "Failed to delete transient blob '%s': %v"
	logFmtArtifactCleanup = "Failed to remove merged artifact '%s': %v"
)

// ErrNoJobSources indicates a job carried neither source keys nor a script.
var ErrNoJobSources = errors.New("job carries no source keys or script")

// MergeJobEvent asks the worker to merge audio. Sources come either from
// transient blobs in the segment store (SourceKeys, in order) or from a
// script the worker synthesizes first. ConfigKey optionally names a
// companion config blob to persist alongside the artifact.
type MergeJobEvent struct {
	Header     events.EventHeader `json:"header"`
	SourceKeys []string           `json:"sourceKeys,omitempty"`
	Script     []core.ScriptItem  `json:"script,omitempty"`
	Name       string             `json:"name,omitempty"`
	Category   string             `json:"category,omitempty"`
	ConfigKey  string             `json:"configKey,omitempty"`
}

// MergeCompletedEvent reports the outcome of a merge job. Error is empty on
// success.
type MergeCompletedEvent struct {
	Header   events.EventHeader `json:"header"`
	AudioID  string             `json:"audioId,omitempty"`
	AudioURL string             `json:"audioUrl,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ScriptRunner materializes a script into ordered segments.
type ScriptRunner interface {
	Run(ctx context.Context, items []core.ScriptItem) ([]core.Segment, error)
}

// Merger concatenates ordered audio sources into one artifact.
type Merger interface {
	Merge(ctx context.Context, sources []core.AudioSource) (*core.MergedAudio, error)
}

// CatalogWriter records merged artifacts in the shared metadata catalog.
type CatalogWriter interface {
	Write(ctx context.Context, entries []core.CatalogEntry) error
}

// NatsWorker listens for merge jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	segments       core.SegmentStore
	runner         ScriptRunner
	merger         Merger
	artifacts      core.ArtifactStore
	catalog        CatalogWriter
	log            *logger.Logger
}

// NewNatsWorker creates a merge job worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	segments core.SegmentStore,
	runner ScriptRunner,
	merger Merger,
	artifacts core.ArtifactStore,
	catalog CatalogWriter,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		segments:       segments,
		runner:         runner,
		merger:         merger,
		artifacts:      artifacts,
		catalog:        catalog,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, subscribeErr := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if subscribeErr != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, subscribeErr)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event MergeJobEvent

	unmarshalErr := json.Unmarshal(msg.Data, &event)
	if unmarshalErr != nil {
		w.log.Error("Failed to parse merge job event: %v", unmarshalErr)

		return
	}

	completion := MergeCompletedEvent{
		Header:   event.Header,
		AudioID:  "",
		AudioURL: "",
		Error:    "",
	}

	audioID, audioURL, processErr := w.processMergeJob(ctx, &event)
	if processErr != nil {
		w.log.Error(logFmtJobFailed, event.Header.WorkflowID, processErr)

		completion.Error = processErr.Error()
	} else {
		w.log.Info(logFmtJobDone, event.Header.WorkflowID, audioURL)

		completion.AudioID = audioID
		completion.AudioURL = audioURL
	}

	w.publishCompletion(msg, &completion)
}

// processMergeJob resolves the job's sources, merges them, uploads the
// artifact with its optional companion config, records the catalog entry,
// and finally removes the transient blobs the job consumed.
func (w *NatsWorker) processMergeJob(ctx context.Context, event *MergeJobEvent) (string, string, error) {
	sources, sourcesErr := w.resolveSources(ctx, event)
	if sourcesErr != nil {
		return "", "", sourcesErr
	}

	merged, mergeErr := w.merger.Merge(ctx, sources)
	if mergeErr != nil {
		return "", "", mergeErr
	}

	defer w.removeArtifact(merged.Path)

	audioID, audioURL, persistErr := w.persistMerged(ctx, event, merged)
	if persistErr != nil {
		return "", "", persistErr
	}

	w.cleanupBlobs(ctx, event)

	return audioID, audioURL, nil
}

func (w *NatsWorker) resolveSources(ctx context.Context, event *MergeJobEvent) ([]core.AudioSource, error) {
	if len(event.Script) > 0 {
		segments, runErr := w.runner.Run(ctx, event.Script)
		if runErr != nil {
			return nil, fmt.Errorf("script failed for job %s: %w", event.Header.WorkflowID, runErr)
		}

		return script.SourcesFromSegments(segments), nil
	}

	if len(event.SourceKeys) == 0 {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, ErrNoJobSources)
	}

	sources := make([]core.AudioSource, 0, len(event.SourceKeys))

	for _, key := range event.SourceKeys {
		data, downloadErr := w.segments.Download(ctx, key)
		if downloadErr != nil {
			return nil, fmt.Errorf("failed to download source blob '%s': %w", key, downloadErr)
		}

		sources = append(sources, core.AudioSource{
			URL:            "",
			Base64:         "",
			Data:           data,
			Path:           "",
			SilenceSeconds: 0,
		})
	}

	return sources, nil
}

func (w *NatsWorker) persistMerged(
	ctx context.Context,
	event *MergeJobEvent,
	merged *core.MergedAudio,
) (string, string, error) {
	data, readErr := os.ReadFile(merged.Path)
	if readErr != nil {
		return "", "", fmt.Errorf("%w: failed to read merged artifact: %v", core.ErrProcessing, readErr)
	}

	name := event.Name
	if name == "" {
		name = defaultJobName
	}

	key := fsutil.SanitizeFilename(name) + "." + artifactExtension

	uploaded, uploadErr := w.artifacts.Upload(ctx, key, data, artifactContentType)
	if uploadErr != nil {
		return "", "", fmt.Errorf("failed to upload merged artifact: %w", uploadErr)
	}

	configURL, configErr := w.persistConfig(ctx, event, uploaded.Key)
	if configErr != nil {
		return "", "", configErr
	}

	entry := core.CatalogEntry{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        artifactContentType,
		Category:    event.Category,
		Size:        merged.ByteSize,
		Date:        time.Now().UTC().Format(time.RFC3339),
		Volume:      1,
		Placeholder: "",
		Source: core.SourceDescriptor{
			Type: sourceTypeMergeJob,
			Metadata: &core.SourceMetadata{
				Name: name,
				Type: artifactContentType,
				Size: merged.ByteSize,
			},
		},
		AudioURL:  uploaded.URL,
		ConfigURL: configURL,
	}

	writeErr := w.catalog.Write(ctx, []core.CatalogEntry{entry})
	if writeErr != nil {
		return "", "", fmt.Errorf("failed to record catalog entry: %w", writeErr)
	}

	return entry.ID, uploaded.URL, nil
}

func (w *NatsWorker) persistConfig(ctx context.Context, event *MergeJobEvent, audioKey string) (string, error) {
	if event.ConfigKey == "" {
		return "", nil
	}

	configData, downloadErr := w.segments.Download(ctx, event.ConfigKey)
	if downloadErr != nil {
		return "", fmt.Errorf("failed to download config blob '%s': %w", event.ConfigKey, downloadErr)
	}

	saved, saveErr := w.artifacts.SaveConfig(ctx, audioKey, configData)
	if saveErr != nil {
		return "", fmt.Errorf("failed to save companion config: %w", saveErr)
	}

	return saved.URL, nil
}

// cleanupBlobs removes the transient blobs a finished job consumed. Cleanup
// is best effort; a leftover blob costs storage, not correctness.
func (w *NatsWorker) cleanupBlobs(ctx context.Context, event *MergeJobEvent) {
	keys := make([]string, 0, len(event.SourceKeys)+1)
	keys = append(keys, event.SourceKeys...)

	if event.ConfigKey != "" {
		keys = append(keys, event.ConfigKey)
	}

	for _, key := range keys {
		deleteErr := w.segments.Delete(ctx, key)
		if deleteErr != nil {
			w.log.Warn(logFmtBlobCleanup, key, deleteErr)
		}
	}
}

func (w *NatsWorker) publishCompletion(msg *nats.Msg, completion *MergeCompletedEvent) {
	replyData, marshalErr := json.Marshal(completion)
	if marshalErr != nil {
		w.log.Error(logFmtReplyFailed, completion.Header.WorkflowID, marshalErr)

		return
	}

	respondErr := msg.Respond(replyData)
	if respondErr != nil {
		w.log.Error(logFmtReplyFailed, completion.Header.WorkflowID, respondErr)
	}
}

func (w *NatsWorker) removeArtifact(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		w.log.Warn(logFmtArtifactCleanup, path, removeErr)
	}
}
