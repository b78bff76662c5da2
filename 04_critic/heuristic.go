package critic

import (
	"context"
	"math"

	"demo-reel-pipeline/types"
)

// Heuristic scores beats offline from the capture facts alone
type Heuristic struct {
	threshold float64
}

func NewHeuristic(threshold float64) *Heuristic {
	return &Heuristic{threshold: threshold}
}

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Score(ctx context.Context, d Description) (types.Verdict, error) {
	v := types.Verdict{Score: 10, Critic: h.Name()}

	if d.FileBytes <= 0 {
		v.Score = 0
		v.Issues = append(v.Issues, "beat file is empty")
		v.Fixes = append(v.Fixes, "check the ffmpeg mux step and disk space")
		return v, nil
	}
	if d.CaptureKind == string(types.CaptureStill) {
		v.Score -= 4
		v.Issues = append(v.Issues, "screenshot fallback instead of a recording")
		v.Fixes = append(v.Fixes, "make sure the page renders within the render timeout and ffmpeg is on PATH")
	}
	if d.Degraded {
		v.Score -= 2
		issue := "capture degraded"
		if d.Reason != "" {
			issue += ": " + d.Reason
		}
		v.Issues = append(v.Issues, issue)
		v.Fixes = append(v.Fixes, "raise the render timeout or fix the scripted actions")
	}
	if d.ExpectedSec > 0 && math.Abs(d.BeatSec-d.ExpectedSec)/d.ExpectedSec > 0.25 {
		v.Score -= 2
		v.Issues = append(v.Issues, "beat length is far from the expected duration")
		v.Fixes = append(v.Fixes, "adjust the segment duration or trim the narration")
	}
	if d.SilentAudio {
		v.Score--
		v.Issues = append(v.Issues, "narration is silent")
		v.Fixes = append(v.Fixes, "set ELEVEN_API_KEY or install a local TTS engine")
	}

	v.Score = clamp(v.Score)
	v.Pass = v.Score >= h.threshold
	return v, nil
}
