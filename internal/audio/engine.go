package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/google/uuid"
)

// Intermediate file name formats.
const (
	sourceFileFormat     = "source_%04d"
	silenceFileFormat    = "silence_%04d.wav"
	normalizedFileFormat = "normalized_%04d.wav"
	mergedFileSuffix     = ".wav"
)

// Log formats.
const (
	logFmtSourceSkipped  = "Skipping source %d: %v"
	logFmtMergeSurvivors = "Merging %d of %d sources"
	logFmtMergedOutput   = "Merged audio: %s (%d bytes, %.2fs)"
)

// Static errors.
var (
	ErrNoSources        = errors.New("no sources provided")
	ErrEmptySource      = errors.New("source carries no location or payload")
	ErrSourceTooSmall   = errors.New("source below minimum viable size")
	ErrRemoteNonOK      = errors.New("remote source returned non-OK status")
	ErrSourceMissing    = errors.New("local source file missing")
	ErrOutputUnplayable = errors.New("merged output failed inspection")
)

// Engine materializes, validates, normalizes, and concatenates audio sources
// into one artifact in the canonical profile.
type Engine struct {
	profile    Profile
	runner     *Runner
	httpClient *http.Client
	workers    int
	workDir    string
	log        *logger.Logger
}

// NewEngine creates a merge engine. Intermediates live in per-invocation
// scope directories under workDir; merged outputs are written next to them
// with unique names and are owned by the caller.
func NewEngine(profile Profile, runner *Runner, workers int, workDir string, log *logger.Logger) *Engine {
	return NewEngineWithClient(profile, runner, workers, workDir, http.DefaultClient, log)
}

// NewEngineWithClient creates a merge engine with a custom HTTP client for
// remote source downloads. This constructor is primarily for testing.
func NewEngineWithClient(
	profile Profile,
	runner *Runner,
	workers int,
	workDir string,
	httpClient *http.Client,
	log *logger.Logger,
) *Engine {
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		profile:    profile,
		runner:     runner,
		httpClient: httpClient,
		workers:    workers,
		workDir:    workDir,
		log:        log,
	}
}

// Profile returns the canonical profile the engine normalizes to.
func (e *Engine) Profile() Profile {
	return e.profile
}

// Merge runs the full pipeline over the ordered sources. Sources that fail
// materialization or minimum-size validation are skipped; zero survivors is
// fatal. Every intermediate file is removed before Merge returns, on success
// and on every failure path.
func (e *Engine) Merge(ctx context.Context, sources []core.AudioSource) (*core.MergedAudio, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, ErrNoSources)
	}

	scope, scopeErr := NewScope(e.workDir, e.log)
	if scopeErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProcessing, scopeErr)
	}

	defer scope.Close()

	materialized, materializeErr := e.materializeAll(ctx, scope, sources)
	if materializeErr != nil {
		return nil, materializeErr
	}

	normalized, normalizeErr := e.normalizeAll(ctx, scope, materialized)
	if normalizeErr != nil {
		return nil, normalizeErr
	}

	e.log.Info(logFmtMergeSurvivors, len(normalized), len(sources))

	return e.concatenate(ctx, normalized)
}

// materializeAll resolves every source to a local file, in parallel, keeping
// the original order. Failed sources are logged and dropped; a processing
// failure (silence generation) aborts the merge.
func (e *Engine) materializeAll(
	ctx context.Context,
	scope *Scope,
	sources []core.AudioSource,
) ([]string, error) {
	paths := make([]string, len(sources))
	failures := make([]error, len(sources))

	var waitGroup sync.WaitGroup

	// Worker pool to bound concurrent downloads and decodes.
	workerPool := make(chan struct{}, e.workers)

	for sourceIndex, source := range sources {
		waitGroup.Add(1)

		go func(index int, src core.AudioSource) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			path, materializeErr := e.materializeOne(ctx, scope, index, src)
			if materializeErr != nil {
				failures[index] = materializeErr

				return
			}

			paths[index] = path
		}(sourceIndex, source)
	}

	waitGroup.Wait()
	close(workerPool)

	survivors := make([]string, 0, len(sources))

	for index, path := range paths {
		failure := failures[index]
		if failure != nil {
			if errors.Is(failure, core.ErrProcessing) {
				return nil, failure
			}

			e.log.Warn(logFmtSourceSkipped, index, failure)

			continue
		}

		survivors = append(survivors, path)
	}

	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w: all %d sources failed", core.ErrMergeExhausted, len(sources))
	}

	return survivors, nil
}

// materializeOne turns a single source into a local file inside the scope
// and validates its minimum size.
func (e *Engine) materializeOne(
	ctx context.Context,
	scope *Scope,
	index int,
	source core.AudioSource,
) (string, error) {
	if source.SilenceSeconds > 0 {
		return e.materializeSilence(ctx, scope, index, source.SilenceSeconds)
	}

	path, resolveErr := e.resolveSource(ctx, scope, index, source)
	if resolveErr != nil {
		return "", resolveErr
	}

	sizeErr := e.validateMinimumSize(path)
	if sizeErr != nil {
		return "", sizeErr
	}

	return path, nil
}

func (e *Engine) resolveSource(
	ctx context.Context,
	scope *Scope,
	index int,
	source core.AudioSource,
) (string, error) {
	switch {
	case source.Path != "":
		return e.resolveLocal(source.Path)
	case len(source.Data) > 0:
		return e.writeScoped(scope, index, source.Data)
	case source.Base64 != "":
		return e.decodeInline(scope, index, source.Base64)
	case source.URL != "":
		return e.downloadRemote(ctx, scope, index, source.URL)
	default:
		return "", fmt.Errorf("%w: %v: source %d", core.ErrMaterialization, ErrEmptySource, index)
	}
}

func (e *Engine) resolveLocal(path string) (string, error) {
	_, statErr := os.Stat(path)
	if statErr != nil {
		return "", fmt.Errorf("%w: %v: %v", core.ErrMaterialization, ErrSourceMissing, statErr)
	}

	return path, nil
}

func (e *Engine) writeScoped(scope *Scope, index int, data []byte) (string, error) {
	path, writeErr := scope.WriteFile(fmt.Sprintf(sourceFileFormat, index), data)
	if writeErr != nil {
		return "", fmt.Errorf("%w: %v", core.ErrMaterialization, writeErr)
	}

	return path, nil
}

func (e *Engine) decodeInline(scope *Scope, index int, encoded string) (string, error) {
	data, decodeErr := base64.StdEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return "", fmt.Errorf("%w: failed to decode inline payload: %v", core.ErrMaterialization, decodeErr)
	}

	return e.writeScoped(scope, index, data)
}

func (e *Engine) downloadRemote(
	ctx context.Context,
	scope *Scope,
	index int,
	url string,
) (string, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if reqErr != nil {
		return "", fmt.Errorf("%w: failed to create request for '%s': %v", core.ErrMaterialization, url, reqErr)
	}

	resp, doErr := e.httpClient.Do(req)
	if doErr != nil {
		return "", fmt.Errorf("%w: failed to download '%s': %v", core.ErrMaterialization, url, doErr)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			e.log.Warn("Failed to close response body for '%s': %v", url, closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %v: %s from '%s'", core.ErrMaterialization, ErrRemoteNonOK, resp.Status, url)
	}

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", fmt.Errorf("%w: failed to read '%s': %v", core.ErrMaterialization, url, readErr)
	}

	return e.writeScoped(scope, index, data)
}

func (e *Engine) materializeSilence(
	ctx context.Context,
	scope *Scope,
	index int,
	seconds float64,
) (string, error) {
	path := scope.Path(fmt.Sprintf(silenceFileFormat, index))

	silenceErr := e.runner.Silence(ctx, seconds, path, e.profile)
	if silenceErr != nil {
		return "", silenceErr
	}

	return path, nil
}

func (e *Engine) validateMinimumSize(path string) error {
	stat, statErr := os.Stat(path)
	if statErr != nil {
		return fmt.Errorf("%w: %v", core.ErrMaterialization, statErr)
	}

	if stat.Size() < e.profile.MinSourceBytes {
		return fmt.Errorf(
			"%w: %v: %d bytes < %d",
			core.ErrMaterialization,
			ErrSourceTooSmall,
			stat.Size(),
			e.profile.MinSourceBytes,
		)
	}

	return nil
}

// normalizeAll converts every survivor into the canonical PCM profile. Unlike
// materialization, a normalization failure is fatal for the whole merge.
func (e *Engine) normalizeAll(ctx context.Context, scope *Scope, inputs []string) ([]string, error) {
	normalized := make([]string, 0, len(inputs))

	for index, input := range inputs {
		output := scope.Path(fmt.Sprintf(normalizedFileFormat, index))

		normalizeErr := e.runner.Normalize(ctx, input, output, e.profile)
		if normalizeErr != nil {
			return nil, normalizeErr
		}

		normalized = append(normalized, output)
	}

	return normalized, nil
}

// concatenate joins normalized inputs in order and inspects the result. The
// output lives outside the scope so it survives cleanup.
func (e *Engine) concatenate(ctx context.Context, inputs []string) (*core.MergedAudio, error) {
	outputDirErr := os.MkdirAll(e.workDir, 0o750)
	if outputDirErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProcessing, outputDirErr)
	}

	outputPath := filepath.Join(e.workDir, uuid.NewString()+mergedFileSuffix)

	concatErr := e.runner.Concat(ctx, inputs, outputPath, e.profile)
	if concatErr != nil {
		e.removeOutput(outputPath)

		return nil, concatErr
	}

	info, probeErr := ProbeFile(outputPath)
	if probeErr != nil {
		e.removeOutput(outputPath)

		return nil, fmt.Errorf("%w: %v: %v", core.ErrProcessing, ErrOutputUnplayable, probeErr)
	}

	stat, statErr := os.Stat(outputPath)
	if statErr != nil {
		e.removeOutput(outputPath)

		return nil, fmt.Errorf("%w: %v", core.ErrProcessing, statErr)
	}

	e.log.Info(logFmtMergedOutput, outputPath, stat.Size(), info.Duration)

	return &core.MergedAudio{
		Path:       outputPath,
		ByteSize:   stat.Size(),
		Duration:   info.Duration,
		SampleRate: info.SampleRate,
	}, nil
}

func (e *Engine) removeOutput(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		e.log.Warn("Failed to remove output '%s': %v", path, removeErr)
	}
}
