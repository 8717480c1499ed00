package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// ConcatOptions tunes video assembly. Zero values fall back to defaults.
type ConcatOptions struct {
	Transition float64 // crossfade length in seconds, default 1.0
	Width      int     // default 1920
	Height     int     // default 1080
	FPS        int     // default 30
}

func (o ConcatOptions) withDefaults() ConcatOptions {
	if o.Transition <= 0 {
		o.Transition = 1.0
	}
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.FPS <= 0 {
		o.FPS = 30
	}
	return o
}

// Assembler concatenates video clips through ffmpeg: each clip is first
// re-encoded to a common frame rate, pixel format and padded resolution so
// the clips are filter-graph compatible, then chained with crossfade
// transitions. If the transition graph fails to render, the assembler falls
// back to hard-cut concatenation of the same normalized clips so a result is
// always produced.
type Assembler struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	opts        ConcatOptions
	logger      zerolog.Logger
}

// NewAssembler verifies the ffmpeg installation and prepares a work directory.
func NewAssembler(workDir string, opts ConcatOptions, logger zerolog.Logger) (*Assembler, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("media: ffprobe not found in PATH: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create work directory: %w", err)
	}
	return &Assembler{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		workDir:     workDir,
		opts:        opts.withDefaults(),
		logger:      logger,
	}, nil
}

// Concat assembles the given clips, in order, into one mp4 and returns its
// path. Every invocation stages its intermediates and output in a fresh
// subdirectory of the work directory, so concurrently completing jobs never
// touch each other's files; callers may remove the returned file's directory
// once they have consumed it.
func (a *Assembler) Concat(ctx context.Context, inputs []string) (string, error) {
	if len(inputs) == 0 {
		return "", fmt.Errorf("media: no clips to concatenate")
	}
	runDir, err := os.MkdirTemp(a.workDir, "concat-")
	if err != nil {
		return "", fmt.Errorf("media: create run directory: %w", err)
	}
	output, err := a.concatIn(ctx, inputs, runDir)
	if err != nil {
		os.RemoveAll(runDir)
		return "", err
	}
	return output, nil
}

func (a *Assembler) concatIn(ctx context.Context, inputs []string, runDir string) (string, error) {
	normalized := make([]string, len(inputs))
	for i, input := range inputs {
		out, err := a.normalize(ctx, input, i, runDir)
		if err != nil {
			return "", err
		}
		normalized[i] = out
	}

	if len(normalized) == 1 {
		return normalized[0], nil
	}

	durations := make([]float64, len(normalized))
	for i, clip := range normalized {
		d, err := a.probeDuration(ctx, clip)
		if err != nil {
			return "", err
		}
		durations[i] = d
	}

	output := filepath.Join(runDir, "assembled.mp4")
	plan, err := BuildCrossfadePlan(durations, a.opts.Transition)
	if err == nil {
		err = a.renderCrossfade(ctx, normalized, plan, output)
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("crossfade render failed, falling back to hard-cut concat")
		if err := a.hardCutConcat(ctx, normalized, runDir, output); err != nil {
			return "", err
		}
	}
	return output, nil
}

// normalize re-encodes one clip to the shared frame rate, pixel format and
// padded resolution.
func (a *Assembler) normalize(ctx context.Context, input string, index int, runDir string) (string, error) {
	output := filepath.Join(runDir, fmt.Sprintf("norm_%03d.mp4", index))
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		a.opts.Width, a.opts.Height, a.opts.Width, a.opts.Height,
	)
	args := []string{
		"-y",
		"-i", input,
		"-r", strconv.Itoa(a.opts.FPS),
		"-vf", vf,
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-ar", "44100",
		"-ac", "2",
		output,
	}
	if err := a.runFFmpeg(ctx, args); err != nil {
		return "", fmt.Errorf("media: normalize clip %d: %w", index, err)
	}
	return output, nil
}

func (a *Assembler) renderCrossfade(ctx context.Context, inputs []string, plan *TransitionPlan, output string) error {
	args := []string{"-y"}
	for _, input := range inputs {
		args = append(args, "-i", input)
	}
	args = append(args,
		"-filter_complex", plan.Filter,
		"-map", plan.VideoOut,
		"-map", plan.AudioOut,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		output,
	)
	return a.runFFmpeg(ctx, args)
}

// hardCutConcat joins the already-normalized clips through the concat
// demuxer without re-encoding.
func (a *Assembler) hardCutConcat(ctx context.Context, inputs []string, runDir, output string) error {
	var list bytes.Buffer
	for _, input := range inputs {
		fmt.Fprintf(&list, "file '%s'\n", input)
	}
	listPath := filepath.Join(runDir, "concat_list.txt")
	if err := os.WriteFile(listPath, list.Bytes(), 0o644); err != nil {
		return fmt.Errorf("media: write concat list: %w", err)
	}
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	}
	if err := a.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("media: hard-cut concat: %w", err)
	}
	return nil
}

// probeDuration extracts a clip's duration in seconds via ffprobe.
func (a *Assembler) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("media: ffprobe %s: %w", path, err)
	}
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("media: parse ffprobe output: %w", err)
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

func (a *Assembler) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, a.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 512))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
