package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/book-expert/mixdown-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV assembles a minimal RIFF/WAVE byte layout with the given format
// and data payload size.
func buildWAV(sampleRate, channels, bitDepth, dataBytes int) []byte {
	fmtBody := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtBody[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtBody[2:4], uint16(channels))
	binary.LittleEndian.PutUint32(fmtBody[4:8], uint32(sampleRate))

	byteRate := sampleRate * channels * bitDepth / 8
	binary.LittleEndian.PutUint32(fmtBody[8:12], uint32(byteRate))
	binary.LittleEndian.PutUint16(fmtBody[12:14], uint16(channels*bitDepth/8))
	binary.LittleEndian.PutUint16(fmtBody[14:16], uint16(bitDepth))

	data := make([]byte, 0, 44+dataBytes)
	data = append(data, []byte("RIFF")...)
	data = binary.LittleEndian.AppendUint32(data, uint32(36+dataBytes))
	data = append(data, []byte("WAVE")...)
	data = append(data, []byte("fmt ")...)
	data = binary.LittleEndian.AppendUint32(data, 16)
	data = append(data, fmtBody...)
	data = append(data, []byte("data")...)
	data = binary.LittleEndian.AppendUint32(data, uint32(dataBytes))
	data = append(data, make([]byte, dataBytes)...)

	return data
}

func TestParseInfoReadsFormatAndDuration(t *testing.T) {
	t.Parallel()

	// One second of 44.1kHz 16-bit mono is 88200 data bytes.
	wav := buildWAV(44100, 1, 16, 88200)

	info, err := audio.ParseInfo(wav)
	require.NoError(t, err)

	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.Equal(t, int64(88200), info.DataBytes)
	assert.InEpsilon(t, 1.0, info.Duration, 1e-9)
}

func TestParseInfoRejectsNonWAV(t *testing.T) {
	t.Parallel()

	_, err := audio.ParseInfo([]byte("ID3\x04this is an mp3, not a wav"))
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestParseInfoRejectsTruncatedHeader(t *testing.T) {
	t.Parallel()

	_, err := audio.ParseInfo([]byte("RIFF"))
	require.ErrorIs(t, err, audio.ErrTruncatedWAV)
}

func TestParseInfoRequiresFormatChunk(t *testing.T) {
	t.Parallel()

	wav := buildWAV(44100, 1, 16, 4)
	// Corrupt the fmt chunk id so only the data chunk parses.
	copy(wav[12:16], "junk")

	_, err := audio.ParseInfo(wav)
	require.ErrorIs(t, err, audio.ErrNoFormat)
}

func TestParseInfoRequiresDataChunk(t *testing.T) {
	t.Parallel()

	wav := buildWAV(44100, 1, 16, 4)
	copy(wav[36:40], "junk")

	_, err := audio.ParseInfo(wav)
	require.ErrorIs(t, err, audio.ErrNoData)
}

func TestMatchesProfile(t *testing.T) {
	t.Parallel()

	profile := audio.NewDefaultProfile()

	info, err := audio.ParseInfo(buildWAV(44100, 1, 16, 128))
	require.NoError(t, err)
	assert.True(t, info.MatchesProfile(profile))

	stereo, err := audio.ParseInfo(buildWAV(44100, 2, 16, 128))
	require.NoError(t, err)
	assert.False(t, stereo.MatchesProfile(profile))
}

func TestProfileValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile audio.Profile
		wantErr bool
	}{
		{
			name:    "default profile is valid",
			profile: audio.NewDefaultProfile(),
			wantErr: false,
		},
		{
			name: "zero sample rate",
			profile: audio.Profile{
				SampleRate: 0, BitDepth: 16, Channels: 1, MinSourceBytes: 1024,
			},
			wantErr: true,
		},
		{
			name: "unsupported bit depth",
			profile: audio.Profile{
				SampleRate: 44100, BitDepth: 12, Channels: 1, MinSourceBytes: 1024,
			},
			wantErr: true,
		},
		{
			name: "too many channels",
			profile: audio.Profile{
				SampleRate: 44100, BitDepth: 16, Channels: 9, MinSourceBytes: 1024,
			},
			wantErr: true,
		},
		{
			name: "non-positive minimum size",
			profile: audio.Profile{
				SampleRate: 44100, BitDepth: 16, Channels: 1, MinSourceBytes: 0,
			},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.profile.Validate()

			if testCase.wantErr {
				require.ErrorIs(t, err, audio.ErrInvalidProfile)

				return
			}

			require.NoError(t, err)
		})
	}
}
