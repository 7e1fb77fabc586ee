// Package script parses, validates, and orchestrates synthesis scripts
// into ordered audio segments.
package script

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/mixdown-service/internal/core"
)

// Validation errors.
var (
	ErrEmptyScript      = errors.New("script cannot be empty")
	ErrUnknownItemKind  = errors.New("unknown script item type")
	ErrMissingText      = errors.New("speech item requires text")
	ErrMissingDuration  = errors.New("pause item requires a positive duration")
	ErrMissingSourceURL = errors.New("sound item requires a source url")
)

// Parse decodes a JSON script payload and validates every item.
func Parse(data []byte) ([]core.ScriptItem, error) {
	var items []core.ScriptItem

	unmarshalErr := json.Unmarshal(data, &items)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: failed to parse script: %v", core.ErrValidation, unmarshalErr)
	}

	validateErr := Validate(items)
	if validateErr != nil {
		return nil, validateErr
	}

	return items, nil
}

// Validate checks the whole script before any synthesis work starts, so an
// invalid item never produces partial output.
func Validate(items []core.ScriptItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: %v", core.ErrValidation, ErrEmptyScript)
	}

	for index, item := range items {
		itemErr := validateItem(item)
		if itemErr != nil {
			return fmt.Errorf("%w: item %d: %v", core.ErrValidation, index, itemErr)
		}
	}

	return nil
}

func validateItem(item core.ScriptItem) error {
	switch item.Kind {
	case core.ItemSpeech:
		if item.Text == "" {
			return ErrMissingText
		}

		return nil
	case core.ItemPause:
		if item.Duration <= 0 {
			return ErrMissingDuration
		}

		return nil
	case core.ItemSound:
		if item.SourceURL == "" {
			return ErrMissingSourceURL
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownItemKind, string(item.Kind))
	}
}
