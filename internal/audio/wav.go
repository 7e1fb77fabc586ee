package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// WAV container layout constants.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
	riffMagic       = "RIFF"
	waveMagic       = "WAVE"
	fmtChunkID      = "fmt "
	dataChunkID     = "data"
	bitsPerByte     = 8
)

// Static errors.
var (
	ErrNotWAV       = errors.New("not a RIFF/WAVE file")
	ErrTruncatedWAV = errors.New("truncated WAV header")
	ErrNoFormat     = errors.New("missing fmt chunk")
	ErrNoData       = errors.New("missing data chunk")
)

// Info describes a WAV file's format and measured duration.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataBytes  int64
	Duration   float64
}

// MatchesProfile reports whether the file conforms to the canonical profile.
func (i *Info) MatchesProfile(profile Profile) bool {
	return i.SampleRate == profile.SampleRate &&
		i.Channels == profile.Channels &&
		i.BitDepth == profile.BitDepth
}

// ParseInfo reads the RIFF/WAVE header chunks from raw file bytes and
// computes the duration from the data chunk size.
func ParseInfo(data []byte) (*Info, error) {
	if len(data) < riffHeaderSize {
		return nil, ErrTruncatedWAV
	}

	if string(data[0:4]) != riffMagic || string(data[8:12]) != waveMagic {
		return nil, ErrNotWAV
	}

	info := &Info{
		SampleRate: 0,
		Channels:   0,
		BitDepth:   0,
		DataBytes:  0,
		Duration:   0,
	}

	foundFmt := false
	foundData := false
	offset := riffHeaderSize

	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		switch chunkID {
		case fmtChunkID:
			fmtErr := parseFmtChunk(data, body, chunkSize, info)
			if fmtErr != nil {
				return nil, fmtErr
			}

			foundFmt = true
		case dataChunkID:
			info.DataBytes = int64(chunkSize)
			foundData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !foundFmt {
		return nil, ErrNoFormat
	}

	if !foundData {
		return nil, ErrNoData
	}

	bytesPerSecond := info.SampleRate * info.Channels * info.BitDepth / bitsPerByte
	if bytesPerSecond > 0 {
		info.Duration = float64(info.DataBytes) / float64(bytesPerSecond)
	}

	return info, nil
}

func parseFmtChunk(data []byte, body, chunkSize int, info *Info) error {
	if chunkSize < fmtChunkMinSize || body+fmtChunkMinSize > len(data) {
		return ErrTruncatedWAV
	}

	info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
	info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
	info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))

	return nil
}

// ProbeFile reads a WAV file from disk and returns its format info.
func ProbeFile(path string) (*Info, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read wav file '%s': %w", path, readErr)
	}

	info, parseErr := ParseInfo(data)
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse wav header of '%s': %w", path, parseErr)
	}

	return info, nil
}
