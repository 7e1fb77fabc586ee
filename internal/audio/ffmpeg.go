package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
)

// Filter graph formats.
const (
	concatFilterFormat  = "concat=n=%d:v=0:a=1[merged]"
	concatOutputLabel   = "[merged]"
	silenceSourceFormat = "anullsrc=r=%d:cl=%s"
)

// PCM codec names by bit depth. ffmpeg defaults WAV output to s16le, so
// every encode passes the codec explicitly.
const (
	codecPCMU8    = "pcm_u8"
	codecPCMS16LE = "pcm_s16le"
	codecPCMS24LE = "pcm_s24le"
	codecPCMS32LE = "pcm_s32le"
)

// pcmCodec maps the profile's bit depth onto the ffmpeg encoder name.
func pcmCodec(bitDepth int) string {
	switch bitDepth {
	case bitDepth8:
		return codecPCMU8
	case bitDepth24:
		return codecPCMS24LE
	case bitDepth32:
		return codecPCMS32LE
	default:
		return codecPCMS16LE
	}
}

// channelLayout names the anullsrc layout for the profile's channel count.
func channelLayout(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return strconv.Itoa(channels) + "c"
	}
}

// Runner invokes the ffmpeg binary for normalization, silence generation,
// and filter-graph concatenation.
type Runner struct {
	binary string
	log    *logger.Logger
}

// NewRunner creates a Runner for the given ffmpeg binary.
func NewRunner(binary string, log *logger.Logger) *Runner {
	return &Runner{
		binary: binary,
		log:    log,
	}
}

// Normalize converts any input into the canonical PCM profile: WAV container,
// fixed sample rate, bit depth, and channel count.
func (r *Runner) Normalize(ctx context.Context, inputPath, outputPath string, profile Profile) error {
	return r.run(ctx, normalizeArgs(inputPath, outputPath, profile))
}

func normalizeArgs(inputPath, outputPath string, profile Profile) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(profile.Channels),
		"-ar", strconv.Itoa(profile.SampleRate),
		"-c:a", pcmCodec(profile.BitDepth),
		outputPath,
	}
}

// Silence generates a silent WAV of the given length in the canonical
// profile.
func (r *Runner) Silence(ctx context.Context, seconds float64, outputPath string, profile Profile) error {
	return r.run(ctx, silenceArgs(seconds, outputPath, profile))
}

func silenceArgs(seconds float64, outputPath string, profile Profile) []string {
	return []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf(silenceSourceFormat, profile.SampleRate, channelLayout(profile.Channels)),
		"-t", fmt.Sprintf("%.3f", seconds),
		"-c:a", pcmCodec(profile.BitDepth),
		outputPath,
	}
}

// Concat joins already-normalized inputs in order through a concat filter
// graph. Raw byte concatenation would corrupt container headers at segment
// boundaries, so the join always goes through the filter. The filter output
// is re-encoded, so the profile codec applies here too.
func (r *Runner) Concat(ctx context.Context, inputPaths []string, outputPath string, profile Profile) error {
	return r.run(ctx, concatArgs(inputPaths, outputPath, profile))
}

func concatArgs(inputPaths []string, outputPath string, profile Profile) []string {
	args := make([]string, 0, 2*len(inputPaths)+10)
	args = append(args, "-y")

	for _, inputPath := range inputPaths {
		args = append(args, "-i", inputPath)
	}

	var filter strings.Builder

	for index := range inputPaths {
		fmt.Fprintf(&filter, "[%d:a]", index)
	}

	fmt.Fprintf(&filter, concatFilterFormat, len(inputPaths))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", concatOutputLabel,
		"-c:a", pcmCodec(profile.BitDepth),
		outputPath,
	)

	return args
}

func (r *Runner) run(ctx context.Context, args []string) error {
	// #nosec G204 -- the binary name comes from configuration and arguments are built above
	cmd := exec.CommandContext(ctx, r.binary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return fmt.Errorf(
			"%w: %s execution failed: %v - output: %s",
			core.ErrProcessing,
			r.binary,
			runErr,
			string(output),
		)
	}

	return nil
}
