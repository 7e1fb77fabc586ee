package core

// Script item kinds.
const (
	ItemSpeech ItemKind = "speech"
	ItemPause  ItemKind = "pause"
	ItemSound  ItemKind = "sound"
)

// Storage backend identifiers.
const (
	BackendRemote Backend = "remote"
	BackendS3     Backend = "s3"
	BackendDrive  Backend = "drive"
)

// Catalog categories.
const (
	CategorySoundEffect = "sound_effect"
	CategoryVoice       = "voice"
	CategorySong        = "song"
	CategoryText        = "text"
	CategoryJSON        = "json"
	CategoryOther       = "other"
	CategoryUnknown     = "unknown"
)

// ItemKind tags a script item as speech, pause, or sound.
type ItemKind string

// Backend selects one of the interchangeable storage implementations.
type Backend string

// Voice describes one synthesis voice offered by a provider.
type Voice struct {
	Engine   string `json:"engine"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Variant  string `json:"variant,omitempty"`
}

// Credential is one provider secret with its rotation bookkeeping. Remaining
// is meaningful only when RemainingKnown is true; it is refreshed lazily from
// the provider's accounting endpoint and decremented on successful use.
type Credential struct {
	Provider       string
	Name           string
	Secret         string
	Active         bool
	Remaining      int64
	RemainingKnown bool
}

// SpeechOptions carries per-request synthesis tuning passed through to the
// provider adapter.
type SpeechOptions struct {
	Model           string  `json:"model,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarityBoost,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

// ScriptItem is one ordered directive in a script. Exactly one of the
// kind-specific field groups is meaningful, selected by Kind.
type ScriptItem struct {
	Kind      ItemKind      `json:"type"`
	Text      string        `json:"text,omitempty"`
	Voice     string        `json:"voice,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Options   SpeechOptions `json:"options,omitempty"`
	Duration  float64       `json:"duration,omitempty"`
	SourceURL string        `json:"sourceUrl,omitempty"`
	Volume    float64       `json:"volume,omitempty"`
}

// SynthesisRequest is the uniform input to every provider adapter.
type SynthesisRequest struct {
	Text    string
	VoiceID string
	Options SpeechOptions
}

// SynthesisResult is the uniform output of every provider adapter. Duration
// is the adapter's estimate from the encoded payload; exact duration is
// measured again after normalization.
type SynthesisResult struct {
	Audio      []byte
	MIMEType   string
	Duration   float64
	SampleRate int
}

// Segment is the materialized result of one script item within a single
// merge invocation.
type Segment struct {
	Index      int
	Filename   string
	Data       []byte
	SourceURL  string
	MIMEType   string
	Duration   float64
	SampleRate int
	Silence    bool
}

// AudioSource is one input to the merge engine. Exactly one of URL, Base64,
// Data, Path, or SilenceSeconds describes where the audio comes from.
type AudioSource struct {
	URL            string
	Base64         string
	Data           []byte
	Path           string
	SilenceSeconds float64
}

// MergeRequest is an ordered list of audio sources plus the optional
// persistence metadata for the merged artifact.
type MergeRequest struct {
	Sources  []AudioSource
	Name     string
	Category string
	Date     string
	Config   []byte
}

// MergedAudio describes the merge engine's output artifact. The caller owns
// the file at Path.
type MergedAudio struct {
	Path       string
	ByteSize   int64
	Duration   float64
	SampleRate int
}

// SourceDescriptor records where a catalog entry's payload originated.
type SourceDescriptor struct {
	Type     string          `json:"type"`
	Metadata *SourceMetadata `json:"metadata,omitempty"`
}

// SourceMetadata is the optional per-source detail block of a SourceDescriptor.
type SourceMetadata struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// CatalogEntry is one row of the shared metadata catalog document. A valid
// entry has a non-empty ID and at least one of AudioURL/ConfigURL set.
type CatalogEntry struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        string           `json:"type,omitempty"`
	Category    string           `json:"category"`
	Size        int64            `json:"size"`
	Date        string           `json:"date"`
	Volume      float64          `json:"volume"`
	Placeholder string           `json:"placeholder"`
	Source      SourceDescriptor `json:"source"`
	AudioURL    string           `json:"audioUrl,omitempty"`
	ConfigURL   string           `json:"configUrl,omitempty"`
}

// Valid reports whether the entry satisfies the catalog invariants.
func (e CatalogEntry) Valid() bool {
	if e.ID == "" {
		return false
	}

	return e.AudioURL != "" || e.ConfigURL != ""
}
