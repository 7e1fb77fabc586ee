// Package audio provides the normalization profile, WAV inspection, and the
// merge engine that turns an ordered list of audio sources into one artifact.
package audio

import (
	"errors"
	"fmt"
)

// Canonical PCM profile defaults.
const (
	DefaultSampleRate = 44100
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// Supported bit depths.
const (
	bitDepth8  = 8
	bitDepth16 = 16
	bitDepth24 = 24
	bitDepth32 = 32
)

// Profile validation limits.
const (
	maxSampleRate = 192000
	maxChannels   = 8
)

// MinSourceBytes is the minimum viable source size. Payloads below this are
// treated as empty or corrupt and skipped during merge.
const MinSourceBytes = 1024

// ErrInvalidProfile indicates the profile settings are out of bounds.
var ErrInvalidProfile = errors.New("invalid profile settings")

// Profile represents the canonical PCM profile all merge inputs are
// normalized to before concatenation.
type Profile struct {
	SampleRate     int   `json:"sampleRate"`
	BitDepth       int   `json:"bitDepth"`
	Channels       int   `json:"channels"`
	MinSourceBytes int64 `json:"minSourceBytes"`
}

// NewDefaultProfile provides the canonical profile settings.
func NewDefaultProfile() Profile {
	return Profile{
		SampleRate:     DefaultSampleRate,
		BitDepth:       DefaultBitDepth,
		Channels:       DefaultChannels,
		MinSourceBytes: MinSourceBytes,
	}
}

// Validate checks if profile settings are within reasonable bounds.
func (p *Profile) Validate() error {
	sampleRateErr := validateSampleRate(p.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(p.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(p.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	if p.MinSourceBytes <= 0 {
		return fmt.Errorf("%w: minimum source size must be positive", ErrInvalidProfile)
	}

	return nil
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > maxSampleRate {
		return fmt.Errorf(
			"%w: sample rate must be between 1 and %d Hz",
			ErrInvalidProfile,
			maxSampleRate,
		)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case bitDepth8, bitDepth16, bitDepth24, bitDepth32:
		return nil
	default:
		return fmt.Errorf("%w: bit depth must be 8, 16, 24, or 32", ErrInvalidProfile)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > maxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidProfile, maxChannels)
	}

	return nil
}
