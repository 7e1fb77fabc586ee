package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/mixdown-service/internal/core"
)

// API endpoints and headers.
const (
	elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"
	subscriptionPath         = "/v1/user/subscription"
	headerAPIKey             = "xi-api-key"
	proberTimeout            = 30 * time.Second
)

// subscriptionResponse is the slice of the subscription document the prober
// needs: consumed and total characters for the current billing period.
type subscriptionResponse struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// ElevenLabsProber reads remaining character quota from the subscription
// endpoint.
type ElevenLabsProber struct {
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabsProber creates the prober. Empty baseURL selects the public
// API endpoint.
func NewElevenLabsProber(baseURL string) *ElevenLabsProber {
	return NewElevenLabsProberWithClient(baseURL, &http.Client{Timeout: proberTimeout})
}

// NewElevenLabsProberWithClient creates the prober with a custom HTTP
// client. This constructor is primarily for testing.
func NewElevenLabsProberWithClient(baseURL string, httpClient *http.Client) *ElevenLabsProber {
	if baseURL == "" {
		baseURL = elevenLabsDefaultBaseURL
	}

	return &ElevenLabsProber{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Remaining fetches the credential's unused character count.
func (p *ElevenLabsProber) Remaining(ctx context.Context, cred core.Credential) (int64, error) {
	url := p.baseURL + subscriptionPath

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if reqErr != nil {
		return 0, fmt.Errorf("failed to create subscription request: %w", reqErr)
	}

	req.Header.Set(headerAPIKey, cred.Secret)

	resp, doErr := p.httpClient.Do(req)
	if doErr != nil {
		return 0, fmt.Errorf("%w: subscription request failed: %v", core.ErrProviderTransport, doErr)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return 0, fmt.Errorf("%w: subscription endpoint rejected key", core.ErrProviderAuth)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return 0, fmt.Errorf(
			"%w: subscription endpoint returned %s: %s",
			core.ErrProviderTransport,
			resp.Status,
			string(body),
		)
	}

	var subscription subscriptionResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&subscription)
	if decodeErr != nil {
		return 0, fmt.Errorf(
			"%w: failed to decode subscription response: %v",
			core.ErrProviderTransport,
			decodeErr,
		)
	}

	remaining := subscription.CharacterLimit - subscription.CharacterCount
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}
