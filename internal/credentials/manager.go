// Package credentials implements ordered credential rotation with lazy
// quota accounting and an injectable confirmation port for rotation
// decisions.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
)

// Log formats.
const (
	logFmtQuotaRefreshed    = "Refreshed quota for %s/%s: %d remaining"
	logFmtCandidateSkip     = "Skipping credential %s/%s: %v"
	logFmtOverrideApplied   = "Using override credential for provider %s"
	logFmtPromptsSilenced   = "Rotation prompts silenced for the rest of the session"
	logFmtCredentialRetired = "Retiring credential %s/%s for this session: %v"
)

// Detail truncation for confirmation prompts.
const promptDetailRunes = 80

// Decision is the confirmation port's verdict on a rotation step.
type Decision int

// Confirmation decisions.
const (
	// DecisionContinue advances to the next candidate.
	DecisionContinue Decision = iota
	// DecisionOverride uses the supplied credential immediately.
	DecisionOverride
	// DecisionCancel aborts the whole acquisition.
	DecisionCancel
	// DecisionContinueQuiet advances and suppresses further prompts
	// for the rest of the session.
	DecisionContinueQuiet
)

// Prompt describes a failed candidate to the confirmation port.
type Prompt struct {
	Provider   string
	FailedName string
	Err        error
	NextName   string
	Detail     string
}

// Confirmation is the port's reply. Override is consulted only when
// Decision is DecisionOverride.
type Confirmation struct {
	Decision Decision
	Override core.Credential
}

// ConfirmFunc is invoked at rotation decision points. A nil ConfirmFunc
// means rotation advances silently.
type ConfirmFunc func(ctx context.Context, prompt Prompt) Confirmation

// QuotaProber fetches the remaining quota for one credential from the
// provider's accounting endpoint.
type QuotaProber interface {
	Remaining(ctx context.Context, cred core.Credential) (int64, error)
}

// QuotaRecord is the persisted accounting state for one credential.
type QuotaRecord struct {
	Remaining   int64     `json:"remaining"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// QuotaStore persists accounting state across restarts.
type QuotaStore interface {
	Load() (map[string]QuotaRecord, error)
	Save(records map[string]QuotaRecord) error
}

// managedCredential pairs a credential with its refresh bookkeeping.
type managedCredential struct {
	cred        core.Credential
	refreshedAt time.Time
}

// Manager walks per-provider ordered credential lists, refreshing stale
// quota on demand and consulting the confirmation port when a candidate
// fails with more candidates remaining.
type Manager struct {
	mu        sync.Mutex
	providers map[string][]*managedCredential
	probers   map[string]QuotaProber
	store     QuotaStore
	confirm   ConfirmFunc
	staleness time.Duration
	quiet     bool
	log       *logger.Logger
}

// NewManager creates a manager. The store may be nil for purely in-memory
// accounting; the confirm port may be nil for silent rotation.
func NewManager(
	store QuotaStore,
	staleness time.Duration,
	confirm ConfirmFunc,
	log *logger.Logger,
) *Manager {
	return &Manager{
		mu:        sync.Mutex{},
		providers: make(map[string][]*managedCredential),
		probers:   make(map[string]QuotaProber),
		store:     store,
		confirm:   confirm,
		staleness: staleness,
		quiet:     false,
		log:       log,
	}
}

// RegisterProvider installs the ordered credential list and optional quota
// prober for one provider. Persisted accounting state is merged in so a
// restart does not forget consumed quota.
func (m *Manager) RegisterProvider(provider string, creds []core.Credential, prober QuotaProber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	persisted := m.loadPersisted()

	managed := make([]*managedCredential, 0, len(creds))

	for _, cred := range creds {
		cred.Provider = provider

		entry := &managedCredential{cred: cred, refreshedAt: time.Time{}}

		record, found := persisted[recordKey(provider, cred.Name)]
		if found {
			entry.cred.Remaining = record.Remaining
			entry.cred.RemainingKnown = true
			entry.refreshedAt = record.RefreshedAt
		}

		managed = append(managed, entry)
	}

	m.providers[provider] = managed

	if prober != nil {
		m.probers[provider] = prober
	}
}

// Acquire returns a credential with enough quota for the payload, walking
// the provider's list in order. Providers with no configured credentials
// yield an anonymous credential so unkeyed engines share the same path.
func (m *Manager) Acquire(ctx context.Context, provider, payload string) (core.Credential, error) {
	cost := EstimateCost(payload)

	m.mu.Lock()
	candidates := m.providers[provider]
	prober := m.probers[provider]
	m.mu.Unlock()

	if len(candidates) == 0 {
		return core.Credential{Provider: provider}, nil
	}

	attempted := make([]string, 0, len(candidates))

	var lastErr error

	for position, candidate := range candidates {
		if !candidate.cred.Active {
			continue
		}

		candidateErr := m.checkCandidate(ctx, candidate, prober, cost)
		if candidateErr == nil {
			return m.snapshot(candidate), nil
		}

		attempted = append(attempted, candidate.cred.Name)
		lastErr = candidateErr

		m.log.Warn(logFmtCandidateSkip, provider, candidate.cred.Name, candidateErr)

		nextName := m.nextActiveName(candidates, position)
		if nextName == "" {
			break
		}

		override, decisionErr := m.consult(ctx, Prompt{
			Provider:   provider,
			FailedName: candidate.cred.Name,
			Err:        candidateErr,
			NextName:   nextName,
			Detail:     truncateDetail(payload),
		})
		if decisionErr != nil {
			return core.Credential{}, decisionErr
		}

		if override != nil {
			m.log.Info(logFmtOverrideApplied, provider)

			return *override, nil
		}
	}

	return core.Credential{}, &core.RotationError{
		Provider:  provider,
		Attempted: attempted,
		Last:      lastErr,
	}
}

// Rotate records a synthesis-call failure against the credential and
// returns the next usable candidate. The failed credential is retired for
// the rest of the session, so it is never retried; when more candidates
// remain, the confirmation port is consulted before advancing. Anonymous
// credentials have nothing to rotate to, so the failure passes through.
func (m *Manager) Rotate(
	ctx context.Context,
	failed core.Credential,
	failure error,
	payload string,
) (core.Credential, error) {
	if failed.Name == "" {
		return core.Credential{}, failure
	}

	m.retire(failed, failure)

	nextName := m.firstActiveName(failed.Provider)
	if nextName == "" {
		return core.Credential{}, &core.RotationError{
			Provider:  failed.Provider,
			Attempted: []string{failed.Name},
			Last:      failure,
		}
	}

	override, decisionErr := m.consult(ctx, Prompt{
		Provider:   failed.Provider,
		FailedName: failed.Name,
		Err:        failure,
		NextName:   nextName,
		Detail:     truncateDetail(payload),
	})
	if decisionErr != nil {
		return core.Credential{}, decisionErr
	}

	if override != nil {
		m.log.Info(logFmtOverrideApplied, failed.Provider)

		return *override, nil
	}

	return m.Acquire(ctx, failed.Provider, payload)
}

// retire deactivates a credential for the rest of the session. Overrides
// supplied by the confirmation port are not tracked and retire nothing.
func (m *Manager) retire(cred core.Credential, failure error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, candidate := range m.providers[cred.Provider] {
		if candidate.cred.Name == cred.Name {
			candidate.cred.Active = false

			m.log.Warn(logFmtCredentialRetired, cred.Provider, cred.Name, failure)

			return
		}
	}
}

func (m *Manager) firstActiveName(provider string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, candidate := range m.providers[provider] {
		if candidate.cred.Active {
			return candidate.cred.Name
		}
	}

	return ""
}

// Commit records the actual consumed cost against the credential and
// persists the updated accounting state. Anonymous credentials are a no-op.
func (m *Manager) Commit(cred core.Credential, actualCost int64) error {
	if cred.Name == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, candidate := range m.providers[cred.Provider] {
		if candidate.cred.Name != cred.Name {
			continue
		}

		if candidate.cred.RemainingKnown {
			candidate.cred.Remaining -= actualCost
			if candidate.cred.Remaining < 0 {
				candidate.cred.Remaining = 0
			}
		}

		return m.persistLocked()
	}

	return nil
}

// EstimateCost proxies synthesis cost by payload length in runes.
func EstimateCost(payload string) int64 {
	return int64(utf8.RuneCountInString(payload))
}

// checkCandidate refreshes the candidate's quota when unknown or stale and
// verifies it covers the estimated cost.
func (m *Manager) checkCandidate(
	ctx context.Context,
	candidate *managedCredential,
	prober QuotaProber,
	cost int64,
) error {
	refreshErr := m.refreshIfStale(ctx, candidate, prober)
	if refreshErr != nil {
		return refreshErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if candidate.cred.RemainingKnown && candidate.cred.Remaining < cost {
		return fmt.Errorf(
			"%w: %d remaining < %d required",
			core.ErrProviderQuota,
			candidate.cred.Remaining,
			cost,
		)
	}

	return nil
}

func (m *Manager) refreshIfStale(
	ctx context.Context,
	candidate *managedCredential,
	prober QuotaProber,
) error {
	if prober == nil {
		return nil
	}

	m.mu.Lock()
	fresh := candidate.cred.RemainingKnown && time.Since(candidate.refreshedAt) < m.staleness
	snapshot := candidate.cred
	m.mu.Unlock()

	if fresh {
		return nil
	}

	remaining, probeErr := prober.Remaining(ctx, snapshot)
	if probeErr != nil {
		return fmt.Errorf("quota refresh failed: %w", probeErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate.cred.Remaining = remaining
	candidate.cred.RemainingKnown = true
	candidate.refreshedAt = time.Now()

	m.log.Info(logFmtQuotaRefreshed, candidate.cred.Provider, candidate.cred.Name, remaining)

	return m.persistLocked()
}

// consult asks the confirmation port what to do about a failed candidate.
// It returns an override credential to use immediately, or an error when
// the port cancels the acquisition.
func (m *Manager) consult(ctx context.Context, prompt Prompt) (*core.Credential, error) {
	m.mu.Lock()
	confirm := m.confirm
	quiet := m.quiet
	m.mu.Unlock()

	if confirm == nil || quiet {
		return nil, nil
	}

	reply := confirm(ctx, prompt)

	switch reply.Decision {
	case DecisionContinue:
		return nil, nil
	case DecisionContinueQuiet:
		m.mu.Lock()
		m.quiet = true
		m.mu.Unlock()

		m.log.Info(logFmtPromptsSilenced)

		return nil, nil
	case DecisionOverride:
		override := reply.Override
		override.Provider = prompt.Provider

		return &override, nil
	case DecisionCancel:
		return nil, fmt.Errorf(
			"%w: provider %s after credential %s failed",
			core.ErrRotationCancelled,
			prompt.Provider,
			prompt.FailedName,
		)
	default:
		return nil, nil
	}
}

func (m *Manager) nextActiveName(candidates []*managedCredential, position int) string {
	for _, candidate := range candidates[position+1:] {
		if candidate.cred.Active {
			return candidate.cred.Name
		}
	}

	return ""
}

func (m *Manager) snapshot(candidate *managedCredential) core.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	return candidate.cred
}

func (m *Manager) loadPersisted() map[string]QuotaRecord {
	if m.store == nil {
		return map[string]QuotaRecord{}
	}

	records, loadErr := m.store.Load()
	if loadErr != nil {
		m.log.Warn("Failed to load quota records: %v", loadErr)

		return map[string]QuotaRecord{}
	}

	return records
}

// persistLocked snapshots every tracked credential's accounting state into
// the store. Callers must hold the mutex.
func (m *Manager) persistLocked() error {
	if m.store == nil {
		return nil
	}

	records := make(map[string]QuotaRecord)

	for provider, candidates := range m.providers {
		for _, candidate := range candidates {
			if !candidate.cred.RemainingKnown {
				continue
			}

			records[recordKey(provider, candidate.cred.Name)] = QuotaRecord{
				Remaining:   candidate.cred.Remaining,
				RefreshedAt: candidate.refreshedAt,
			}
		}
	}

	saveErr := m.store.Save(records)
	if saveErr != nil {
		return fmt.Errorf("failed to persist quota records: %w", saveErr)
	}

	return nil
}

func recordKey(provider, name string) string {
	return provider + "/" + name
}

func truncateDetail(payload string) string {
	runes := []rune(payload)
	if len(runes) <= promptDetailRunes {
		return payload
	}

	return string(runes[:promptDetailRunes]) + "..."
}
