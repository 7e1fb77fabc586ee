package providers_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/providers"
)

// roundTripperFunc lets tests serve canned responses without a listener,
// since the adapter derives the endpoint host from the accent's TLD.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// translateRecorder captures every request and serves a fixed MP3 payload.
type translateRecorder struct {
	mu       sync.Mutex
	requests []*http.Request
	status   int
	payload  []byte
}

func newTranslateRecorder(status int, payload []byte) *translateRecorder {
	return &translateRecorder{
		mu:       sync.Mutex{},
		requests: nil,
		status:   status,
		payload:  payload,
	}
}

func (r *translateRecorder) client() *http.Client {
	return &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			r.mu.Lock()
			r.requests = append(r.requests, req)
			r.mu.Unlock()

			return &http.Response{
				StatusCode: r.status,
				Status:     http.StatusText(r.status),
				Body:       io.NopCloser(bytes.NewReader(r.payload)),
				Header:     make(http.Header),
				Request:    req,
			}, nil
		}),
	}
}

func (r *translateRecorder) recorded() []*http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.requests
}

func TestGoogleTranslate_Synthesize_Success(t *testing.T) {
	t.Parallel()

	recorder := newTranslateRecorder(http.StatusOK, []byte(testMP3Data))
	adapter := providers.NewGoogleTranslateWithClient(recorder.client())

	result, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: "Hello, world!", VoiceID: "uk"},
		core.Credential{},
	)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if string(result.Audio) != testMP3Data {
		t.Errorf("Expected audio %q, got %q", testMP3Data, string(result.Audio))
	}

	if result.MIMEType != "audio/mpeg" {
		t.Errorf("Expected MIME type audio/mpeg, got %s", result.MIMEType)
	}

	if result.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", result.SampleRate)
	}

	requests := recorder.recorded()
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}

	validateTranslateRequest(t, requests[0], "translate.google.co.uk", "en")
}

func validateTranslateRequest(t *testing.T, request *http.Request, host, lang string) {
	t.Helper()

	if request.URL.Host != host {
		t.Errorf("Expected host %s, got %s", host, request.URL.Host)
	}

	if request.URL.Path != "/translate_tts" {
		t.Errorf("Expected /translate_tts, got %s", request.URL.Path)
	}

	query := request.URL.Query()
	if query.Get("tl") != lang {
		t.Errorf("Expected tl=%s, got %s", lang, query.Get("tl"))
	}

	if query.Get("client") != "tw-ob" {
		t.Errorf("Expected client=tw-ob, got %s", query.Get("client"))
	}

	if query.Get("q") == "" {
		t.Error("Expected non-empty q parameter")
	}

	if request.Header.Get("User-Agent") == "" {
		t.Error("Expected User-Agent header")
	}
}

func TestGoogleTranslate_Synthesize_AccentFallback(t *testing.T) {
	t.Parallel()

	recorder := newTranslateRecorder(http.StatusOK, []byte(testMP3Data))
	adapter := providers.NewGoogleTranslateWithClient(recorder.client())

	_, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: "Hello", VoiceID: "klingon"},
		core.Credential{},
	)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	requests := recorder.recorded()
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}

	validateTranslateRequest(t, requests[0], "translate.google.com", "en")
}

func TestGoogleTranslate_Synthesize_ChunksLongText(t *testing.T) {
	t.Parallel()

	recorder := newTranslateRecorder(http.StatusOK, []byte(testMP3Data))
	adapter := providers.NewGoogleTranslateWithClient(recorder.client())

	longText := strings.Repeat("lorem ipsum dolor sit amet ", 20)

	result, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: longText, VoiceID: "us"},
		core.Credential{},
	)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	requests := recorder.recorded()
	if len(requests) < 2 {
		t.Fatalf("Expected text to split into multiple requests, got %d", len(requests))
	}

	for _, request := range requests {
		if got := len([]rune(request.URL.Query().Get("q"))); got > 100 {
			t.Errorf("Chunk exceeds 100 runes: %d", got)
		}
	}

	expectedSize := len(requests) * len(testMP3Data)
	if len(result.Audio) != expectedSize {
		t.Errorf("Expected %d concatenated bytes, got %d", expectedSize, len(result.Audio))
	}
}

func TestGoogleTranslate_Synthesize_RateLimited(t *testing.T) {
	t.Parallel()

	recorder := newTranslateRecorder(http.StatusTooManyRequests, nil)
	adapter := providers.NewGoogleTranslateWithClient(recorder.client())

	_, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: "Hello", VoiceID: "us"},
		core.Credential{},
	)
	if !errors.Is(err, core.ErrProviderQuota) {
		t.Fatalf("Expected quota error, got: %v", err)
	}
}

func TestGoogleTranslate_Synthesize_EmptyText(t *testing.T) {
	t.Parallel()

	adapter := providers.NewGoogleTranslate()

	_, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: ""},
		core.Credential{},
	)
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("Expected validation error, got: %v", err)
	}
}

func TestGoogleTranslate_Voices(t *testing.T) {
	t.Parallel()

	adapter := providers.NewGoogleTranslate()

	voices := adapter.Voices()
	if len(voices) != 13 {
		t.Fatalf("Expected 13 accents, got %d", len(voices))
	}

	if voices[0].ID != "us" {
		t.Errorf("Expected us first, got %s", voices[0].ID)
	}

	for _, voice := range voices {
		if voice.Engine != providers.ProviderGoogleTranslate {
			t.Errorf("Expected engine %s, got %s", providers.ProviderGoogleTranslate, voice.Engine)
		}

		if voice.Language == "" || voice.Variant == "" {
			t.Errorf("Voice missing language or variant: %+v", voice)
		}
	}
}

func TestResolveTranslateVoice(t *testing.T) {
	t.Parallel()

	resolved, known := providers.ResolveTranslateVoice("pt-br")
	if !known || resolved != "pt-br" {
		t.Errorf("Expected pt-br known, got %s known=%t", resolved, known)
	}

	resolved, known = providers.ResolveTranslateVoice("nope")
	if known || resolved != providers.DefaultTranslateVoice {
		t.Errorf("Expected fallback to default, got %s known=%t", resolved, known)
	}
}
