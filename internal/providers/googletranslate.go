package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/mixdown-service/internal/core"
)

// Engine identifier.
const ProviderGoogleTranslate = "googletranslate"

// API endpoints and parameters.
const (
	translateTTSURLFormat = "https://translate.google.%s/translate_tts"
	translateTTSClient    = "tw-ob"
	translateTTSReferer   = "http://translate.google.com/"
	translateTTSUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Default values.
const (
	// DefaultTranslateVoice is substituted for unknown voice ids.
	DefaultTranslateVoice  = "us"
	translateSampleRate    = 24000
	translateBitrateBPS    = 32000
	translateMaxChunkRunes = 100
	translateTimeout       = 30 * time.Second
)

// translateVoice is one row of the voice table: the accent-selecting TLD
// plus the language code sent to the endpoint.
type translateVoice struct {
	Language string
	TLD      string
	Name     string
}

// translateVoices maps voice id to endpoint parameters. The id doubles as
// the regional variant tag.
var translateVoices = map[string]translateVoice{
	"us":    {Language: "en", TLD: "com", Name: "English (US)"},
	"au":    {Language: "en", TLD: "com.au", Name: "English (Australia)"},
	"uk":    {Language: "en", TLD: "co.uk", Name: "English (UK)"},
	"ca":    {Language: "en", TLD: "ca", Name: "English (Canada)"},
	"in":    {Language: "en", TLD: "co.in", Name: "English (India)"},
	"de-de": {Language: "de", TLD: "de", Name: "German (Germany)"},
	"es-es": {Language: "es", TLD: "es", Name: "Spanish (Spain)"},
	"es-mx": {Language: "es", TLD: "com.mx", Name: "Spanish (Mexico)"},
	"fr-fr": {Language: "fr", TLD: "fr", Name: "French (France)"},
	"it-it": {Language: "it", TLD: "it", Name: "Italian (Italy)"},
	"ja":    {Language: "ja", TLD: "co.jp", Name: "Japanese"},
	"pt-pt": {Language: "pt", TLD: "pt", Name: "Portuguese (Portugal)"},
	"pt-br": {Language: "pt", TLD: "com.br", Name: "Portuguese (Brazil)"},
}

// voiceOrder fixes the listing order of the voice table.
var voiceOrder = []string{
	"us", "au", "uk", "ca", "in",
	"de-de", "es-es", "es-mx", "fr-fr", "it-it",
	"ja", "pt-pt", "pt-br",
}

// GoogleTranslate synthesizes speech through the unauthenticated Google
// Translate endpoint. The endpoint caps request length, so long text is
// split into chunks and the MP3 payloads are concatenated in order.
type GoogleTranslate struct {
	httpClient *http.Client
}

// NewGoogleTranslate creates the adapter.
func NewGoogleTranslate() *GoogleTranslate {
	return NewGoogleTranslateWithClient(&http.Client{Timeout: translateTimeout})
}

// NewGoogleTranslateWithClient creates the adapter with a custom HTTP
// client. This constructor is primarily for testing.
func NewGoogleTranslateWithClient(httpClient *http.Client) *GoogleTranslate {
	return &GoogleTranslate{httpClient: httpClient}
}

// Name returns the engine identifier.
func (a *GoogleTranslate) Name() string {
	return ProviderGoogleTranslate
}

// Voices returns the accent table.
func (a *GoogleTranslate) Voices() []core.Voice {
	voices := make([]core.Voice, 0, len(voiceOrder))

	for _, id := range voiceOrder {
		entry := translateVoices[id]

		voices = append(voices, core.Voice{
			Engine:   ProviderGoogleTranslate,
			ID:       id,
			Name:     entry.Name,
			Language: entry.Language,
			Variant:  entry.TLD,
		})
	}

	return voices
}

// ResolveTranslateVoice reports whether the id names a known accent. Unknown
// ids resolve to the default accent rather than failing.
func ResolveTranslateVoice(id string) (string, bool) {
	_, known := translateVoices[id]
	if !known {
		return DefaultTranslateVoice, false
	}

	return id, true
}

// Synthesize converts text to speech. The endpoint is unkeyed, so the
// credential is ignored.
func (a *GoogleTranslate) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
	_ core.Credential,
) (*core.SynthesisResult, error) {
	if req.Text == "" {
		return nil, core.NewSynthesisError(
			ProviderGoogleTranslate, codeEmptyText, "text cannot be empty", core.ErrValidation, false,
		)
	}

	voiceID, _ := ResolveTranslateVoice(req.VoiceID)
	voice := translateVoices[voiceID]

	audio := make([]byte, 0)

	for _, chunk := range splitChunks(req.Text, translateMaxChunkRunes) {
		chunkAudio, chunkErr := a.fetchChunk(ctx, voice, chunk)
		if chunkErr != nil {
			return nil, chunkErr
		}

		audio = append(audio, chunkAudio...)
	}

	if len(audio) == 0 {
		return nil, core.NewSynthesisError(
			ProviderGoogleTranslate, codeEmptyAudio, "received empty audio data", core.ErrProviderTransport, true,
		)
	}

	return &core.SynthesisResult{
		Audio:      audio,
		MIMEType:   contentTypeMPEG,
		Duration:   float64(len(audio)*8) / translateBitrateBPS,
		SampleRate: translateSampleRate,
	}, nil
}

func (a *GoogleTranslate) fetchChunk(
	ctx context.Context,
	voice translateVoice,
	text string,
) ([]byte, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("q", text)
	query.Set("tl", voice.Language)
	query.Set("client", translateTTSClient)

	endpoint := fmt.Sprintf(translateTTSURLFormat, voice.TLD) + "?" + query.Encode()

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", reqErr)
	}

	httpReq.Header.Set("Referer", translateTTSReferer)
	httpReq.Header.Set("User-Agent", translateTTSUserAgent)

	resp, doErr := a.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, core.NewSynthesisError(
			ProviderGoogleTranslate, codeTransportFailure, "request failed", core.ErrProviderTransport, true,
		)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewSynthesisError(
			ProviderGoogleTranslate, codeQuotaExceeded, "endpoint rate limited", core.ErrProviderQuota, true,
		)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewSynthesisError(
			ProviderGoogleTranslate,
			codeUnexpectedStatus,
			fmt.Sprintf("unexpected status %s", resp.Status),
			core.ErrProviderTransport,
			resp.StatusCode >= http.StatusInternalServerError,
		)
	}

	audio, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, core.NewSynthesisError(
			ProviderGoogleTranslate, codeTransportFailure, "failed to read audio", core.ErrProviderTransport, true,
		)
	}

	return audio, nil
}

// splitChunks breaks text into runs of at most limit runes, preferring word
// boundaries. A single word longer than the limit is split mid-word.
func splitChunks(text string, limit int) []string {
	chunks := make([]string, 0)

	var current []rune

	for _, word := range strings.Fields(text) {
		runes := []rune(word)

		for len(runes) > limit {
			if len(current) > 0 {
				chunks = append(chunks, string(current))
				current = current[:0]
			}

			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}

		needed := len(runes)
		if len(current) > 0 {
			needed++
		}

		if len(current)+needed > limit {
			chunks = append(chunks, string(current))
			current = current[:0]
		}

		if len(current) > 0 {
			current = append(current, ' ')
		}

		current = append(current, runes...)
	}

	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}

	return chunks
}
