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
const ProviderElevenLabs = "elevenlabs"

// API endpoints and parameters.
const (
	elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"
	elevenLabsSpeechPath     = "/v1/text-to-speech/%s"
	elevenLabsOutputQuery    = "?output_format=mp3_44100_128"
)

// HTTP headers.
const (
	headerAPIKey      = "xi-api-key"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

// Default values.
const (
	elevenLabsDefaultModel      = "eleven_multilingual_v2"
	elevenLabsDefaultStability  = 0.5
	elevenLabsDefaultSimilarity = 0.75
	elevenLabsSampleRate        = 44100
	elevenLabsBitrateBPS        = 128000
	elevenLabsTimeout           = 60 * time.Second
)

// Error codes reported through SynthesisError.
const (
	codeEmptyText        = "empty_text"
	codeInvalidAPIKey    = "invalid_api_key"
	codeQuotaExceeded    = "quota_exceeded"
	codeVoiceNotFound    = "voice_not_found"
	codeServerError      = "server_error"
	codeTransportFailure = "transport_failure"
	codeUnexpectedStatus = "unexpected_status"
	codeEmptyAudio       = "empty_audio"
)

// ElevenLabs calls the ElevenLabs text-to-speech API. The adapter is
// stateless; the credential arrives with every call so the quota manager can
// rotate keys between calls.
type ElevenLabs struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsErrorResponse struct {
	Detail elevenLabsErrorDetail `json:"detail"`
}

type elevenLabsErrorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewElevenLabs creates the adapter. Empty baseURL and model select the
// public API endpoint and the multilingual v2 model.
func NewElevenLabs(baseURL, model string) *ElevenLabs {
	return NewElevenLabsWithClient(baseURL, model, &http.Client{Timeout: elevenLabsTimeout})
}

// NewElevenLabsWithClient creates the adapter with a custom HTTP client.
// This constructor is primarily for testing.
func NewElevenLabsWithClient(baseURL, model string, httpClient *http.Client) *ElevenLabs {
	if baseURL == "" {
		baseURL = elevenLabsDefaultBaseURL
	}

	if model == "" {
		model = elevenLabsDefaultModel
	}

	return &ElevenLabs{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}
}

// Name returns the engine identifier.
func (a *ElevenLabs) Name() string {
	return ProviderElevenLabs
}

// Voices returns the premade voice table. Account-specific cloned voices are
// addressed by raw voice id and do not appear here.
func (a *ElevenLabs) Voices() []core.Voice {
	return []core.Voice{
		{Engine: ProviderElevenLabs, ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "29vD33N1CtxCmqQRPOHJ", Name: "Drew", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "MF3mGyEYCl7XYWbV9V6O", Name: "Elli", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "VR6AewLTigWG4xSOukaG", Name: "Arnold", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "pNInz6obpgDQGcFmaJgB", Name: "Adam", Language: "en"},
		{Engine: ProviderElevenLabs, ID: "yoZ06aMxZJJ28mfd3POQ", Name: "Sam", Language: "en"},
	}
}

// Synthesize converts text to speech with the given voice and credential.
// The response is CBR MP3, so duration is derived from the payload size.
func (a *ElevenLabs) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
	cred core.Credential,
) (*core.SynthesisResult, error) {
	if req.Text == "" {
		return nil, core.NewSynthesisError(
			ProviderElevenLabs, codeEmptyText, "text cannot be empty", core.ErrValidation, false,
		)
	}

	body, marshalErr := json.Marshal(a.buildRequest(req))
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
	}

	url := a.baseURL + fmt.Sprintf(elevenLabsSpeechPath, req.VoiceID) + elevenLabsOutputQuery

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", reqErr)
	}

	httpReq.Header.Set(headerAPIKey, cred.Secret)
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)

	resp, doErr := a.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, core.NewSynthesisError(
			ProviderElevenLabs, codeTransportFailure, "request failed", core.ErrProviderTransport, true,
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
			ProviderElevenLabs, codeTransportFailure, "failed to read audio", core.ErrProviderTransport, true,
		)
	}

	if len(audio) == 0 {
		return nil, core.NewSynthesisError(
			ProviderElevenLabs, codeEmptyAudio, "received empty audio data", core.ErrProviderTransport, true,
		)
	}

	return &core.SynthesisResult{
		Audio:      audio,
		MIMEType:   contentTypeMPEG,
		Duration:   float64(len(audio)*8) / elevenLabsBitrateBPS,
		SampleRate: elevenLabsSampleRate,
	}, nil
}

func (a *ElevenLabs) buildRequest(req core.SynthesisRequest) elevenLabsRequest {
	stability := req.Options.Stability
	if stability == 0 {
		stability = elevenLabsDefaultStability
	}

	similarity := req.Options.SimilarityBoost
	if similarity == 0 {
		similarity = elevenLabsDefaultSimilarity
	}

	model := req.Options.Model
	if model == "" {
		model = a.model
	}

	return elevenLabsRequest{
		Text:    req.Text,
		ModelID: model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       stability,
			SimilarityBoost: similarity,
			Speed:           req.Options.Speed,
		},
	}
}

// mapFailure translates a non-OK response onto the shared taxonomy. The
// structured detail body is consulted first; unparsable bodies fall back to
// the raw text.
func (a *ElevenLabs) mapFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	message := string(raw)
	detailStatus := ""

	var parsed elevenLabsErrorResponse

	decodeErr := json.Unmarshal(raw, &parsed)
	if decodeErr == nil && parsed.Detail.Message != "" {
		message = parsed.Detail.Message
		detailStatus = parsed.Detail.Status
	}

	// Quota exhaustion arrives as 401 with a quota_exceeded detail status,
	// so the detail check must precede the auth check.
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || detailStatus == codeQuotaExceeded:
		return core.NewSynthesisError(
			ProviderElevenLabs, codeQuotaExceeded, message, core.ErrProviderQuota, true,
		)
	case resp.StatusCode == http.StatusUnauthorized:
		return core.NewSynthesisError(
			ProviderElevenLabs, codeInvalidAPIKey, message, core.ErrProviderAuth, false,
		)
	case resp.StatusCode == http.StatusNotFound:
		return core.NewSynthesisError(
			ProviderElevenLabs, codeVoiceNotFound, message, core.ErrValidation, false,
		)
	case resp.StatusCode >= http.StatusInternalServerError:
		return core.NewSynthesisError(
			ProviderElevenLabs, codeServerError, message, core.ErrProviderTransport, true,
		)
	default:
		return core.NewSynthesisError(
			ProviderElevenLabs,
			codeUnexpectedStatus,
			fmt.Sprintf("unexpected status %s: %s", resp.Status, message),
			core.ErrProviderTransport,
			false,
		)
	}
}
