package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/mixdown-service/internal/core"
)

// Engine identifier.
const ProviderOpenAISpeech = "openaispeech"

// API endpoints and parameters.
const (
	openAIDefaultBaseURL = "https://api.openai.com"
	openAISpeechPath     = "/v1/audio/speech"
	headerAuthorization  = "Authorization"
	bearerPrefix         = "Bearer "
)

// Default values.
const (
	openAIDefaultModel = "tts-1"
	openAIDefaultVoice = "alloy"
	openAISampleRate   = 24000
	openAITimeout      = 60 * time.Second
)

// openAIVoices lists the voices every speech model accepts.
var openAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// OpenAISpeech calls the OpenAI audio speech API.
type OpenAISpeech struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAISpeech creates the adapter. Empty baseURL and model select the
// public API endpoint and the standard-latency model.
func NewOpenAISpeech(baseURL, model string) *OpenAISpeech {
	return NewOpenAISpeechWithClient(baseURL, model, &http.Client{Timeout: openAITimeout})
}

// NewOpenAISpeechWithClient creates the adapter with a custom HTTP client.
// This constructor is primarily for testing.
func NewOpenAISpeechWithClient(baseURL, model string, httpClient *http.Client) *OpenAISpeech {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	if model == "" {
		model = openAIDefaultModel
	}

	return &OpenAISpeech{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}
}

// Name returns the engine identifier.
func (a *OpenAISpeech) Name() string {
	return ProviderOpenAISpeech
}

// Voices returns the fixed voice table.
func (a *OpenAISpeech) Voices() []core.Voice {
	voices := make([]core.Voice, 0, len(openAIVoices))

	for _, id := range openAIVoices {
		voices = append(voices, core.Voice{
			Engine:   ProviderOpenAISpeech,
			ID:       id,
			Name:     id,
			Language: "en",
		})
	}

	return voices
}

// Synthesize converts text to speech with the given voice and credential.
// The payload is VBR MP3, so no duration estimate is attached; exact
// duration is measured after normalization.
func (a *OpenAISpeech) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
	cred core.Credential,
) (*core.SynthesisResult, error) {
	if req.Text == "" {
		return nil, core.NewSynthesisError(
			ProviderOpenAISpeech, codeEmptyText, "text cannot be empty", core.ErrValidation, false,
		)
	}

	voice := req.VoiceID
	if voice == "" {
		voice = openAIDefaultVoice
	}

	model := req.Options.Model
	if model == "" {
		model = a.model
	}

	body, marshalErr := json.Marshal(openAISpeechRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "mp3",
		Speed:          req.Options.Speed,
	})
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
	}

	url := a.baseURL + openAISpeechPath

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", reqErr)
	}

	httpReq.Header.Set(headerAuthorization, bearerPrefix+cred.Secret)
	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, doErr := a.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, core.NewSynthesisError(
			ProviderOpenAISpeech, codeTransportFailure, "request failed", core.ErrProviderTransport, true,
		)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, a.mapFailure(resp)
	}

	audio, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, core.NewSynthesisError(
			ProviderOpenAISpeech, codeTransportFailure, "failed to read audio", core.ErrProviderTransport, true,
		)
	}

	if len(audio) == 0 {
		return nil, core.NewSynthesisError(
			ProviderOpenAISpeech, codeEmptyAudio, "received empty audio data", core.ErrProviderTransport, true,
		)
	}

	return &core.SynthesisResult{
		Audio:      audio,
		MIMEType:   contentTypeMPEG,
		SampleRate: openAISampleRate,
	}, nil
}

func (a *OpenAISpeech) mapFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	message := string(raw)
	code := ""

	var parsed openAIErrorResponse

	decodeErr := json.Unmarshal(raw, &parsed)
	if decodeErr == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		code = parsed.Error.Code
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return core.NewSynthesisError(
			ProviderOpenAISpeech, codeInvalidAPIKey, message, core.ErrProviderAuth, false,
		)
	case resp.StatusCode == http.StatusTooManyRequests || code == "insufficient_quota":
		return core.NewSynthesisError(
			ProviderOpenAISpeech, codeQuotaExceeded, message, core.ErrProviderQuota, true,
		)
	case resp.StatusCode >= http.StatusInternalServerError:
		return core.NewSynthesisError(
			ProviderOpenAISpeech, codeServerError, message, core.ErrProviderTransport, true,
		)
	default:
		return core.NewSynthesisError(
			ProviderOpenAISpeech,
			codeUnexpectedStatus,
			fmt.Sprintf("unexpected status %s: %s", resp.Status, message),
			core.ErrProviderTransport,
			false,
		)
	}
}
