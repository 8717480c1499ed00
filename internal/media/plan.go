package media

import (
	"errors"
	"fmt"
	"strings"
)

// TransitionPlan describes the filter graph that chains pairwise crossfades
// over K normalized clips. Building the plan is pure so the offset math is
// testable without running ffmpeg.
type TransitionPlan struct {
	Filter   string
	VideoOut string
	AudioOut string
	Offsets  []float64
	Duration float64
}

// BuildCrossfadePlan computes the xfade/acrossfade chain for clips with the
// given durations and a shared transition length. Each transition overlaps
// the tail of the running composite with the head of the next clip, so the
// i-th offset is the composite duration accumulated so far minus the
// transition length.
func BuildCrossfadePlan(durations []float64, transition float64) (*TransitionPlan, error) {
	if len(durations) < 2 {
		return nil, errors.New("media: crossfade plan needs at least two clips")
	}
	if transition <= 0 {
		return nil, errors.New("media: transition length must be positive")
	}
	for i, d := range durations {
		if d <= transition {
			return nil, fmt.Errorf("media: clip %d duration %.3fs shorter than transition %.3fs", i, d, transition)
		}
	}

	var video, audio strings.Builder
	offsets := make([]float64, 0, len(durations)-1)

	running := durations[0]
	prevV, prevA := "[0:v]", "[0:a]"
	for i := 1; i < len(durations); i++ {
		offset := running - transition
		offsets = append(offsets, offset)

		outV := fmt.Sprintf("[v%d]", i)
		outA := fmt.Sprintf("[a%d]", i)
		fmt.Fprintf(&video, "%s[%d:v]xfade=transition=fade:duration=%.3f:offset=%.3f%s;",
			prevV, i, transition, offset, outV)
		fmt.Fprintf(&audio, "%s[%d:a]acrossfade=d=%.3f%s;",
			prevA, i, transition, outA)

		prevV, prevA = outV, outA
		running += durations[i] - transition
	}

	filter := video.String() + audio.String()
	filter = strings.TrimSuffix(filter, ";")

	return &TransitionPlan{
		Filter:   filter,
		VideoOut: prevV,
		AudioOut: prevA,
		Offsets:  offsets,
		Duration: running,
	}, nil
}
