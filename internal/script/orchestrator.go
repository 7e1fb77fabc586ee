package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/credentials"
)

// Segment filename format.
const (
	segmentFilenameFormat = "segment_%04d%s"
	extensionMP3          = ".mp3"
	extensionWAV          = ".wav"
	extensionBin          = ".bin"
)

// Log formats.
const (
	logFmtItemSynthesized = "Synthesized item %d with %s/%s: %d bytes"
	logFmtCommitFailed    = "Failed to record quota consumption for %s/%s: %v"
	logFmtCredentialSwap  = "Provider %s credential %s failed, rotating: %v"
)

// CredentialSource supplies credentials for synthesis calls, records their
// consumption, and advances past credentials the provider rejects.
type CredentialSource interface {
	Acquire(ctx context.Context, provider, payload string) (core.Credential, error)
	Rotate(ctx context.Context, failed core.Credential, failure error, payload string) (core.Credential, error)
	Commit(cred core.Credential, actualCost int64) error
}

// AdapterRegistry resolves engine ids to adapters.
type AdapterRegistry interface {
	Lookup(engine string) (core.Synthesizer, error)
}

// Orchestrator turns a validated script into ordered audio segments.
type Orchestrator struct {
	registry        AdapterRegistry
	source          CredentialSource
	preparer        *Preparer
	lookup          PlaceholderLookup
	defaultProvider string
	defaultVoice    string
	log             *logger.Logger
}

// NewOrchestrator creates an orchestrator. The lookup may be nil when no
// catalog is available for placeholder expansion.
func NewOrchestrator(
	registry AdapterRegistry,
	source CredentialSource,
	lookup PlaceholderLookup,
	defaultProvider string,
	defaultVoice string,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		source:          source,
		preparer:        NewPreparer(),
		lookup:          lookup,
		defaultProvider: defaultProvider,
		defaultVoice:    defaultVoice,
		log:             log,
	}
}

// Run validates the script and materializes it item by item, preserving
// order. Provider failures propagate immediately; pause and sound items
// pass through without network calls.
func (o *Orchestrator) Run(ctx context.Context, items []core.ScriptItem) ([]core.Segment, error) {
	validateErr := Validate(items)
	if validateErr != nil {
		return nil, validateErr
	}

	segments := make([]core.Segment, 0, len(items))

	for index, item := range items {
		switch item.Kind {
		case core.ItemSpeech:
			segment, speechErr := o.synthesizeItem(ctx, index, item)
			if speechErr != nil {
				return nil, speechErr
			}

			segments = append(segments, *segment)
		case core.ItemPause:
			segments = append(segments, core.Segment{
				Index:      index,
				Filename:   "",
				Data:       nil,
				SourceURL:  "",
				MIMEType:   "",
				Duration:   item.Duration,
				SampleRate: 0,
				Silence:    true,
			})
		case core.ItemSound:
			segments = append(segments, core.Segment{
				Index:      index,
				Filename:   "",
				Data:       nil,
				SourceURL:  item.SourceURL,
				MIMEType:   "",
				Duration:   item.Duration,
				SampleRate: 0,
				Silence:    false,
			})
		}
	}

	return segments, nil
}

// synthesizeItem resolves the provider and voice, acquires a credential,
// calls the adapter, and records the consumed quota.
func (o *Orchestrator) synthesizeItem(
	ctx context.Context,
	index int,
	item core.ScriptItem,
) (*core.Segment, error) {
	provider := item.Provider
	if provider == "" {
		provider = o.defaultProvider
	}

	adapter, lookupErr := o.registry.Lookup(provider)
	if lookupErr != nil {
		return nil, fmt.Errorf("%w: item %d: %v", core.ErrValidation, index, lookupErr)
	}

	voice := resolveVoice(adapter.Voices(), item.Voice, o.defaultVoice)
	prepared := o.preparer.Prepare(item.Text, o.lookup)

	cred, acquireErr := o.source.Acquire(ctx, provider, prepared)
	if acquireErr != nil {
		return nil, fmt.Errorf("item %d: %w", index, acquireErr)
	}

	request := core.SynthesisRequest{
		Text:    prepared,
		VoiceID: voice,
		Options: item.Options,
	}

	result, cred, synthErr := o.synthesizeWithRotation(ctx, adapter, request, cred, prepared)
	if synthErr != nil {
		return nil, fmt.Errorf("item %d: %w", index, synthErr)
	}

	commitErr := o.source.Commit(cred, credentials.EstimateCost(prepared))
	if commitErr != nil {
		o.log.Warn(logFmtCommitFailed, provider, cred.Name, commitErr)
	}

	o.log.Info(logFmtItemSynthesized, index, provider, voice, len(result.Audio))

	return &core.Segment{
		Index:      index,
		Filename:   fmt.Sprintf(segmentFilenameFormat, index, extensionForMIME(result.MIMEType)),
		Data:       result.Audio,
		SourceURL:  "",
		MIMEType:   result.MIMEType,
		Duration:   result.Duration,
		SampleRate: result.SampleRate,
		Silence:    false,
	}, nil
}

// synthesizeWithRotation walks the credential list through the source: a
// credential-level synthesis failure retires that credential and advances
// to the next candidate; the same credential is never retried. Any other
// failure propagates unchanged.
func (o *Orchestrator) synthesizeWithRotation(
	ctx context.Context,
	adapter core.Synthesizer,
	request core.SynthesisRequest,
	cred core.Credential,
	payload string,
) (*core.SynthesisResult, core.Credential, error) {
	for {
		result, synthErr := adapter.Synthesize(ctx, request, cred)
		if synthErr == nil {
			return result, cred, nil
		}

		if !credentialFailure(synthErr) {
			return nil, core.Credential{}, synthErr
		}

		o.log.Warn(logFmtCredentialSwap, cred.Provider, cred.Name, synthErr)

		next, rotateErr := o.source.Rotate(ctx, cred, synthErr, payload)
		if rotateErr != nil {
			return nil, core.Credential{}, rotateErr
		}

		cred = next
	}
}

// credentialFailure reports whether a synthesis error is a credential-level
// condition resolved by rotating: auth rejection, quota exhaustion, or a
// provider transport failure.
func credentialFailure(err error) bool {
	return errors.Is(err, core.ErrProviderAuth) ||
		errors.Is(err, core.ErrProviderQuota) ||
		errors.Is(err, core.ErrProviderTransport)
}

// resolveVoice validates the requested voice against the adapter's table.
// Unknown voices fall back to the session default, then to the adapter's
// first voice when the default is foreign to this adapter.
func resolveVoice(active []core.Voice, requested, sessionDefault string) string {
	if len(active) == 0 {
		return requested
	}

	if voiceInSet(active, requested) {
		return requested
	}

	if voiceInSet(active, sessionDefault) {
		return sessionDefault
	}

	return active[0].ID
}

func voiceInSet(voices []core.Voice, id string) bool {
	if id == "" {
		return false
	}

	for _, voice := range voices {
		if voice.ID == id {
			return true
		}
	}

	return false
}

func extensionForMIME(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return extensionMP3
	case "audio/wav":
		return extensionWAV
	default:
		return extensionBin
	}
}

// SourcesFromSegments converts ordered segments into merge engine inputs.
func SourcesFromSegments(segments []core.Segment) []core.AudioSource {
	sources := make([]core.AudioSource, 0, len(segments))

	for _, segment := range segments {
		switch {
		case segment.Silence:
			sources = append(sources, core.AudioSource{
				URL:            "",
				Base64:         "",
				Data:           nil,
				Path:           "",
				SilenceSeconds: segment.Duration,
			})
		case segment.SourceURL != "":
			sources = append(sources, core.AudioSource{
				URL:            segment.SourceURL,
				Base64:         "",
				Data:           nil,
				Path:           "",
				SilenceSeconds: 0,
			})
		default:
			sources = append(sources, core.AudioSource{
				URL:            "",
				Base64:         "",
				Data:           segment.Data,
				Path:           "",
				SilenceSeconds: 0,
			})
		}
	}

	return sources
}
