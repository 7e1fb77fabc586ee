package audio_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/audio"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, client *http.Client) (*audio.Engine, string) {
	t.Helper()

	testLogger, logErr := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, logErr)

	workDir := t.TempDir()
	runner := audio.NewRunner("ffmpeg", testLogger)
	engine := audio.NewEngineWithClient(
		audio.NewDefaultProfile(), runner, 2, workDir, client, testLogger,
	)

	return engine, workDir
}

func TestMergeRejectsEmptySourceList(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, http.DefaultClient)

	_, err := engine.Merge(context.Background(), nil)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestMergeFailsWhenAllSourcesFail(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	engine, workDir := newTestEngine(t, server.Client())

	sources := []core.AudioSource{
		{URL: "", Base64: "", Data: nil, Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "!!not-base64!!", Data: nil, Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "", Data: nil, Path: filepath.Join(workDir, "absent.wav"), SilenceSeconds: 0},
		{URL: server.URL + "/a.wav", Base64: "", Data: nil, Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "", Data: []byte("tiny"), Path: "", SilenceSeconds: 0},
	}

	_, err := engine.Merge(context.Background(), sources)
	require.ErrorIs(t, err, core.ErrMergeExhausted)

	// The per-invocation scope was removed despite the failure.
	entries, readErr := os.ReadDir(workDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestMergeFailsWhenOnlySourceUndersized(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, http.DefaultClient)

	// A single source below the minimum viable size leaves no survivors.
	sources := []core.AudioSource{
		{URL: "", Base64: "", Data: make([]byte, 10), Path: "", SilenceSeconds: 0},
	}

	_, err := engine.Merge(context.Background(), sources)
	require.ErrorIs(t, err, core.ErrMergeExhausted)
}

// requireFFmpeg skips tests that drive the real binary when it is not
// installed.
func requireFFmpeg(t *testing.T) {
	t.Helper()

	_, lookErr := exec.LookPath("ffmpeg")
	if lookErr != nil {
		t.Skip("ffmpeg not installed")
	}
}

// oneSecondWAV is one second of canonical-profile silence as inline data.
func oneSecondWAV() []byte {
	return buildWAV(44100, 1, 16, 88200)
}

func TestMergeProducesCanonicalArtifact(t *testing.T) {
	t.Parallel()
	requireFFmpeg(t)

	engine, workDir := newTestEngine(t, http.DefaultClient)

	sources := []core.AudioSource{
		{URL: "", Base64: "", Data: oneSecondWAV(), Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "", Data: oneSecondWAV(), Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "", Data: oneSecondWAV(), Path: "", SilenceSeconds: 0},
	}

	merged, err := engine.Merge(context.Background(), sources)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, merged.Duration, 0.1)
	assert.Equal(t, audio.DefaultSampleRate, merged.SampleRate)
	assert.Positive(t, merged.ByteSize)

	info, probeErr := audio.ProbeFile(merged.Path)
	require.NoError(t, probeErr)
	assert.True(t, info.MatchesProfile(audio.NewDefaultProfile()))

	// Only the merged artifact survives; the scope and its intermediates
	// are gone.
	entries, readErr := os.ReadDir(workDir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(merged.Path), entries[0].Name())
}

func TestMergeSkipsFailedSourceAndMergesRest(t *testing.T) {
	t.Parallel()
	requireFFmpeg(t)

	engine, _ := newTestEngine(t, http.DefaultClient)

	sources := []core.AudioSource{
		{URL: "", Base64: "", Data: oneSecondWAV(), Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "", Data: make([]byte, 10), Path: "", SilenceSeconds: 0},
		{URL: "", Base64: "", Data: oneSecondWAV(), Path: "", SilenceSeconds: 0},
	}

	merged, err := engine.Merge(context.Background(), sources)
	require.NoError(t, err)

	// The undersized source is dropped; the survivors merge in order.
	assert.InDelta(t, 2.0, merged.Duration, 0.1)
}

func TestScopeCleanupRemovesIntermediates(t *testing.T) {
	t.Parallel()

	testLogger, logErr := logger.New(t.TempDir(), "scope-test.log")
	require.NoError(t, logErr)

	parent := t.TempDir()

	scope, scopeErr := audio.NewScope(parent, testLogger)
	require.NoError(t, scopeErr)

	path, writeErr := scope.WriteFile("intermediate.wav", []byte("payload"))
	require.NoError(t, writeErr)
	require.FileExists(t, path)

	scope.Close()

	assert.NoDirExists(t, scope.Dir())
}

func TestScopeFallsBackToSystemTempDir(t *testing.T) {
	t.Parallel()

	testLogger, logErr := logger.New(t.TempDir(), "scope-test.log")
	require.NoError(t, logErr)

	scope, scopeErr := audio.NewScope("", testLogger)
	require.NoError(t, scopeErr)

	t.Cleanup(scope.Close)

	assert.Equal(t, filepath.Clean(os.TempDir()), filepath.Dir(scope.Dir()))
}
