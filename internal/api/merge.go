package api

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/fsutil"
	"github.com/book-expert/mixdown-service/internal/script"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Merged artifact naming.
const (
	defaultArtifactName = "merged_audio"
	artifactExtension   = "wav"
	artifactContentType = "audio/wav"
	sourceTypeMerge     = "merge"
)

// mergeSource is one direct audio input: a remote URL or an inline
// base64-encoded payload.
type mergeSource struct {
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

// mergeSection is one higher-level script section carrying its own audio
// reference.
type mergeSection struct {
	AudioURL  string `json:"audioUrl,omitempty"`
	AudioData string `json:"audioData,omitempty"`
}

// mergeRequest is the body of POST /mergeAudio. Exactly one of Sources,
// Sections, or Script supplies the audio inputs.
type mergeRequest struct {
	Sources  []mergeSource     `json:"sources,omitempty"`
	Sections []mergeSection    `json:"sections,omitempty"`
	Script   []core.ScriptItem `json:"script,omitempty"`
	Name     string            `json:"name,omitempty"`
	Category string            `json:"category,omitempty"`
	Date     string            `json:"date,omitempty"`
	Config   json.RawMessage   `json:"config,omitempty"`
}

// mergeResponse is the success body of POST /mergeAudio.
type mergeResponse struct {
	UploadedAudioURL  string            `json:"uploadedAudioUrl"`
	UploadedConfigURL string            `json:"uploadedConfigUrl,omitempty"`
	MergedAudioURL    string            `json:"mergedAudioUrl"`
	AudioID           string            `json:"audioId"`
	MetadataEntry     core.CatalogEntry `json:"metadataEntry"`
}

// handleMergeAudio runs the full pipeline: resolve sources, merge, upload,
// and record the catalog entry. The merge engine owns intermediate cleanup;
// the handler owns the final artifact file and removes it after upload.
func (s *Server) handleMergeAudio(c *fiber.Ctx) error {
	var request mergeRequest

	parseErr := json.Unmarshal(c.Body(), &request)
	if parseErr != nil {
		return s.respondError(c, fmt.Errorf(
			"%w: failed to parse merge request: %v",
			core.ErrValidation,
			parseErr,
		))
	}

	sources, sourcesErr := s.resolveSources(c, request)
	if sourcesErr != nil {
		return s.respondError(c, sourcesErr)
	}

	merged, mergeErr := s.merger.Merge(c.Context(), sources)
	if mergeErr != nil {
		return s.respondError(c, mergeErr)
	}

	defer s.removeArtifact(merged.Path)

	response, persistErr := s.persistMerged(c, request, merged)
	if persistErr != nil {
		return s.respondError(c, persistErr)
	}

	return c.JSON(response)
}

// resolveSources turns whichever input form the request carries into the
// ordered merge engine inputs.
func (s *Server) resolveSources(c *fiber.Ctx, request mergeRequest) ([]core.AudioSource, error) {
	switch {
	case len(request.Script) > 0:
		segments, runErr := s.runner.Run(c.Context(), request.Script)
		if runErr != nil {
			return nil, runErr
		}

		return script.SourcesFromSegments(segments), nil
	case len(request.Sections) > 0:
		sources := make([]core.AudioSource, 0, len(request.Sections))

		for index, section := range request.Sections {
			if section.AudioURL == "" && section.AudioData == "" {
				return nil, fmt.Errorf(
					"%w: section %d carries no audio reference",
					core.ErrValidation,
					index,
				)
			}

			sources = append(sources, audioSource(section.AudioURL, section.AudioData))
		}

		return sources, nil
	case len(request.Sources) > 0:
		sources := make([]core.AudioSource, 0, len(request.Sources))

		for index, source := range request.Sources {
			if source.URL == "" && source.Data == "" {
				return nil, fmt.Errorf(
					"%w: source %d carries no url or payload",
					core.ErrValidation,
					index,
				)
			}

			sources = append(sources, audioSource(source.URL, source.Data))
		}

		return sources, nil
	default:
		return nil, fmt.Errorf("%w: request carries no sources, sections, or script", core.ErrValidation)
	}
}

// persistMerged uploads the artifact and optional companion config, then
// records the catalog entry.
func (s *Server) persistMerged(
	c *fiber.Ctx,
	request mergeRequest,
	merged *core.MergedAudio,
) (*mergeResponse, error) {
	data, readErr := os.ReadFile(merged.Path)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read merged artifact: %v", core.ErrProcessing, readErr)
	}

	name := request.Name
	if name == "" {
		name = defaultArtifactName
	}

	key := fsutil.SanitizeFilename(name) + "." + artifactExtension

	uploaded, uploadErr := s.store.Upload(c.Context(), key, data, artifactContentType)
	if uploadErr != nil {
		return nil, uploadErr
	}

	configURL := ""

	if len(request.Config) > 0 {
		configResult, configErr := s.store.SaveConfig(c.Context(), uploaded.Key, request.Config)
		if configErr != nil {
			return nil, configErr
		}

		configURL = configResult.URL
	}

	entry := s.catalogEntry(request, merged, uploaded.URL, configURL, name)

	writeErr := s.catalog.Write(c.Context(), []core.CatalogEntry{entry})
	if writeErr != nil {
		return nil, writeErr
	}

	return &mergeResponse{
		UploadedAudioURL:  uploaded.URL,
		UploadedConfigURL: configURL,
		MergedAudioURL:    uploaded.URL,
		AudioID:           entry.ID,
		MetadataEntry:     entry,
	}, nil
}

func (s *Server) catalogEntry(
	request mergeRequest,
	merged *core.MergedAudio,
	audioURL string,
	configURL string,
	name string,
) core.CatalogEntry {
	category := request.Category
	if category == "" {
		category = core.CategoryVoice
	}

	date := request.Date
	if date == "" {
		date = time.Now().UTC().Format(time.RFC3339)
	}

	return core.CatalogEntry{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        artifactContentType,
		Category:    category,
		Size:        merged.ByteSize,
		Date:        date,
		Volume:      1,
		Placeholder: "",
		Source: core.SourceDescriptor{
			Type: sourceTypeMerge,
			Metadata: &core.SourceMetadata{
				Name: name,
				Type: artifactContentType,
				Size: merged.ByteSize,
			},
		},
		AudioURL:  audioURL,
		ConfigURL: configURL,
	}
}

func (s *Server) removeArtifact(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("Failed to remove merged artifact '%s': %v", path, removeErr)
	}
}

func audioSource(url, data string) core.AudioSource {
	return core.AudioSource{
		URL:            url,
		Base64:         data,
		Data:           nil,
		Path:           "",
		SilenceSeconds: 0,
	}
}
