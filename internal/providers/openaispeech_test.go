package providers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/providers"
)

func TestOpenAISpeech_Synthesize_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(createOpenAISuccessHandler(t))
	defer server.Close()

	adapter := providers.NewOpenAISpeechWithClient(
		server.URL, "", &http.Client{Timeout: clientTimeout},
	)

	result, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: "Hello, world!"},
		core.Credential{Provider: providers.ProviderOpenAISpeech, Name: "primary", Secret: "sk-test"},
	)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if string(result.Audio) != testMP3Data {
		t.Errorf("Expected audio %q, got %q", testMP3Data, string(result.Audio))
	}

	if result.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", result.SampleRate)
	}
}

func createOpenAISuccessHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	return func(responseWriter http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/audio/speech" {
			t.Errorf("Expected /v1/audio/speech, got %s", request.URL.Path)
		}

		if auth := request.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Expected Bearer sk-test, got %s", auth)
		}

		validateOpenAIBody(t, request)

		responseWriter.Header().Set("Content-Type", "audio/mpeg")
		responseWriter.WriteHeader(http.StatusOK)

		_, err := responseWriter.Write([]byte(testMP3Data))
		if err != nil {
			t.Errorf("Failed to write mock response: %v", err)
		}
	}
}

func validateOpenAIBody(t *testing.T, request *http.Request) {
	t.Helper()

	var payload struct {
		Model          string `json:"model"`
		Input          string `json:"input"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}

	err := json.NewDecoder(request.Body).Decode(&payload)
	if err != nil {
		t.Fatalf("Failed to decode request body: %v", err)
	}

	if payload.Model != "tts-1" {
		t.Errorf("Expected default model tts-1, got %q", payload.Model)
	}

	if payload.Input != "Hello, world!" {
		t.Errorf("Expected input 'Hello, world!', got %q", payload.Input)
	}

	if payload.Voice != "alloy" {
		t.Errorf("Expected default voice alloy, got %q", payload.Voice)
	}

	if payload.ResponseFormat != "mp3" {
		t.Errorf("Expected response_format mp3, got %q", payload.ResponseFormat)
	}
}

func TestOpenAISpeech_Synthesize_InvalidKey(t *testing.T) {
	t.Parallel()

	server := newOpenAIErrorServer(t, http.StatusUnauthorized, "invalid_api_key", "Incorrect API key provided")
	defer server.Close()

	adapter := providers.NewOpenAISpeechWithClient(
		server.URL, "", &http.Client{Timeout: clientTimeout},
	)

	_, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: "Hello"},
		core.Credential{Secret: "sk-bad"},
	)
	if !errors.Is(err, core.ErrProviderAuth) {
		t.Fatalf("Expected auth error, got: %v", err)
	}
}

func TestOpenAISpeech_Synthesize_InsufficientQuota(t *testing.T) {
	t.Parallel()

	server := newOpenAIErrorServer(
		t, http.StatusTooManyRequests, "insufficient_quota", "You exceeded your current quota",
	)
	defer server.Close()

	adapter := providers.NewOpenAISpeechWithClient(
		server.URL, "", &http.Client{Timeout: clientTimeout},
	)

	_, err := adapter.Synthesize(
		context.Background(),
		core.SynthesisRequest{Text: "Hello"},
		core.Credential{Secret: "sk-test"},
	)
	if !errors.Is(err, core.ErrProviderQuota) {
		t.Fatalf("Expected quota error, got: %v", err)
	}

	validateSynthesisError(t, err, providers.ProviderOpenAISpeech, true)
}

func TestOpenAISpeech_Voices(t *testing.T) {
	t.Parallel()

	adapter := providers.NewOpenAISpeech("", "")

	voices := adapter.Voices()
	if len(voices) != 6 {
		t.Fatalf("Expected 6 voices, got %d", len(voices))
	}

	for _, voice := range voices {
		if voice.Engine != providers.ProviderOpenAISpeech {
			t.Errorf("Expected engine %s, got %s", providers.ProviderOpenAISpeech, voice.Engine)
		}
	}
}

func newOpenAIErrorServer(t *testing.T, status int, code, message string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(
		http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.Header().Set("Content-Type", "application/json")
			responseWriter.WriteHeader(status)

			payload := map[string]any{
				"error": map[string]any{
					"message": message,
					"type":    "invalid_request_error",
					"code":    code,
				},
			}

			err := json.NewEncoder(responseWriter).Encode(payload)
			if err != nil {
				t.Errorf("Failed to encode mock error response: %v", err)
			}
		}),
	)
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(
		providers.NewGoogleTranslate(),
		providers.NewElevenLabs("", ""),
	)

	adapter, err := registry.Lookup(providers.ProviderElevenLabs)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if adapter.Name() != providers.ProviderElevenLabs {
		t.Errorf("Expected %s, got %s", providers.ProviderElevenLabs, adapter.Name())
	}
}

func TestRegistry_Lookup_Unknown(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(providers.NewGoogleTranslate())

	_, err := registry.Lookup("nonexistent")
	if !errors.Is(err, providers.ErrUnknownProvider) {
		t.Fatalf("Expected ErrUnknownProvider, got: %v", err)
	}
}

func TestRegistry_Voices_Aggregated(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(
		providers.NewOpenAISpeech("", ""),
		providers.NewGoogleTranslate(),
	)

	voices := registry.Voices()
	if len(voices) != 13+6 {
		t.Fatalf("Expected 19 voices, got %d", len(voices))
	}

	// Engines are grouped in sorted name order.
	if voices[0].Engine != providers.ProviderGoogleTranslate {
		t.Errorf("Expected googletranslate first, got %s", voices[0].Engine)
	}

	if voices[len(voices)-1].Engine != providers.ProviderOpenAISpeech {
		t.Errorf("Expected openaispeech last, got %s", voices[len(voices)-1].Engine)
	}
}

func TestRegistry_Names_Sorted(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(
		providers.NewOpenAISpeech("", ""),
		providers.NewElevenLabs("", ""),
		providers.NewGoogleTranslate(),
	)

	names := registry.Names()

	expected := []string{
		providers.ProviderElevenLabs,
		providers.ProviderGoogleTranslate,
		providers.ProviderOpenAISpeech,
	}

	if len(names) != len(expected) {
		t.Fatalf("Expected %d names, got %d", len(expected), len(names))
	}

	for index, name := range expected {
		if names[index] != name {
			t.Errorf("Expected %s at %d, got %s", name, index, names[index])
		}
	}
}
