// Command mixdown-client is a small CLI for the mixdown-service HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/mixdown-service/internal/core"
)

// Flag names.
const (
	flagText     = "text"
	flagScript   = "script"
	flagName     = "name"
	flagCategory = "category"
	flagOutput   = "output"
	flagServer   = "server"
	flagConfig   = "config"
	flagVoices   = "voices"
	flagHealth   = "health"
)

// Flag descriptions.
const (
	flagTextDesc     = "Text to synthesize and merge into a single artifact"
	flagScriptDesc   = "JSON file containing script items to materialize and merge"
	flagNameDesc     = "Name for the merged artifact"
	flagCategoryDesc = "Catalog category for the merged artifact (voice, music, sfx, other)"
	flagOutputDesc   = "Local path to download the merged audio to"
	flagServerDesc   = "Base URL of the mixdown-service"
	flagConfigDesc   = "JSON file stored alongside the artifact as its companion config"
	flagVoicesDesc   = "List available voices and exit"
	flagHealthDesc   = "Check service health and exit"
)

// Error and status messages.
const (
	errEitherTextOrScript = "Either --text or --script must be provided"
	errCannotSpecifyBoth  = "Cannot specify both --text and --script"
	errServiceNotHealthy  = "Service is not healthy: %v\n"
	msgServiceHealthy     = "Service is healthy"
	msgMerged             = "Merged: %s (id %s)\n"
	msgDownloaded         = "Downloaded: %s\n"
)

// Defaults.
const (
	defaultServerURL = "http://localhost:8080"
	requestTimeout   = 5 * time.Minute
	healthTimeout    = 10 * time.Second
)

var errRequestFailed = errors.New("request failed")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text     string
	script   string
	name     string
	category string
	output   string
	server   string
	config   string
	voices   bool
	health   bool
}

// mergeRequest mirrors the service's POST /mergeAudio body.
type mergeRequest struct {
	Script   []core.ScriptItem `json:"script,omitempty"`
	Name     string            `json:"name,omitempty"`
	Category string            `json:"category,omitempty"`
	Config   json.RawMessage   `json:"config,omitempty"`
}

// mergeResponse mirrors the service's POST /mergeAudio success body.
type mergeResponse struct {
	UploadedAudioURL string `json:"uploadedAudioUrl"`
	MergedAudioURL   string `json:"mergedAudioUrl"`
	AudioID          string `json:"audioId"`
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()
	client := &http.Client{Timeout: requestTimeout}

	if flags.health {
		return handleHealthCheck(client, flags.server)
	}

	if flags.voices {
		return handleVoices(client, flags.server)
	}

	validateErr := validateArguments(flags)
	if validateErr != nil {
		flag.Usage()

		return validateErr
	}

	return handleMerge(client, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.script, flagScript, "", flagScriptDesc)
	flag.StringVar(&flags.name, flagName, "", flagNameDesc)
	flag.StringVar(&flags.category, flagCategory, "", flagCategoryDesc)
	flag.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flag.StringVar(&flags.server, flagServer, defaultServerURL, flagServerDesc)
	flag.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flag.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

// validateArguments enforces that exactly one input form was given.
func validateArguments(flags appFlags) error {
	if flags.text == "" && flags.script == "" {
		return errors.New(errEitherTextOrScript)
	}

	if flags.text != "" && flags.script != "" {
		return errors.New(errCannotSpecifyBoth)
	}

	return nil
}

// handleHealthCheck queries /healthz and prints the result.
func handleHealthCheck(client *http.Client, server string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	_, err := get(ctx, client, server+"/healthz")
	if err != nil {
		fmt.Printf(errServiceNotHealthy, err)

		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

// handleVoices prints every voice the service offers, one per line.
func handleVoices(client *http.Client, server string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	body, err := get(ctx, client, server+"/voices")
	if err != nil {
		return err
	}

	var listing struct {
		Voices []core.Voice `json:"voices"`
	}

	decodeErr := json.Unmarshal(body, &listing)
	if decodeErr != nil {
		return fmt.Errorf("failed to decode voices response: %w", decodeErr)
	}

	for _, voice := range listing.Voices {
		fmt.Printf("%s\t%s\t%s\n", voice.Engine, voice.ID, voice.Name)
	}

	return nil
}

// handleMerge builds the script, submits the merge request, and optionally
// downloads the resulting artifact.
func handleMerge(client *http.Client, flags appFlags) error {
	request, buildErr := buildMergeRequest(flags)
	if buildErr != nil {
		return buildErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	response, mergeErr := postMerge(ctx, client, flags.server, request)
	if mergeErr != nil {
		return mergeErr
	}

	fmt.Printf(msgMerged, response.MergedAudioURL, response.AudioID)

	if flags.output != "" {
		downloadErr := downloadArtifact(ctx, client, response.MergedAudioURL, flags.output)
		if downloadErr != nil {
			return downloadErr
		}

		fmt.Printf(msgDownloaded, flags.output)
	}

	return nil
}

// buildMergeRequest turns the flags into the service request body. A bare
// --text becomes a single speech item played with the service defaults.
func buildMergeRequest(flags appFlags) (*mergeRequest, error) {
	request := &mergeRequest{
		Script:   nil,
		Name:     flags.name,
		Category: flags.category,
		Config:   nil,
	}

	if flags.text != "" {
		request.Script = []core.ScriptItem{{
			Kind:     core.ItemSpeech,
			Text:     flags.text,
			Voice:    "",
			Provider: "",
			Options: core.SpeechOptions{
				Model:           "",
				Stability:       0,
				SimilarityBoost: 0,
				Speed:           0,
			},
			Duration:  0,
			SourceURL: "",
			Volume:    0,
		}}
	}

	if flags.script != "" {
		scriptData, readErr := os.ReadFile(flags.script)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read script file: %w", readErr)
		}

		decodeErr := json.Unmarshal(scriptData, &request.Script)
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to parse script file: %w", decodeErr)
		}
	}

	if flags.config != "" {
		configData, readErr := os.ReadFile(flags.config)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}

		request.Config = configData
	}

	return request, nil
}

func postMerge(
	ctx context.Context,
	client *http.Client,
	server string,
	request *mergeRequest,
) (*mergeResponse, error) {
	payload, marshalErr := json.Marshal(request)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode merge request: %w", marshalErr)
	}

	httpRequest, requestErr := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		server+"/mergeAudio",
		bytes.NewReader(payload),
	)
	if requestErr != nil {
		return nil, fmt.Errorf("failed to create merge request: %w", requestErr)
	}

	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, doErr := client.Do(httpRequest)
	if doErr != nil {
		return nil, fmt.Errorf("merge request failed: %w", doErr)
	}

	defer func() { _ = httpResponse.Body.Close() }()

	body, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read merge response: %w", readErr)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: status %d: %s",
			errRequestFailed,
			httpResponse.StatusCode,
			string(body),
		)
	}

	var response mergeResponse

	decodeErr := json.Unmarshal(body, &response)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode merge response: %w", decodeErr)
	}

	return &response, nil
}

// downloadArtifact fetches the merged audio URL to a local file.
func downloadArtifact(ctx context.Context, client *http.Client, url, path string) error {
	data, err := get(ctx, client, url)
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(path, data, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write output file: %w", writeErr)
	}

	return nil
}

// get performs a GET and returns the body, treating any non-200 status as
// an error.
func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	httpRequest, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if requestErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", requestErr)
	}

	httpResponse, doErr := client.Do(httpRequest)
	if doErr != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, doErr)
	}

	defer func() { _ = httpResponse.Body.Close() }()

	body, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, readErr)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: %s returned status %d: %s",
			errRequestFailed,
			url,
			httpResponse.StatusCode,
			string(body),
		)
	}

	return body, nil
}
