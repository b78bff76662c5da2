package critic

import (
	"context"
	"errors"
	"os"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"go.uber.org/zap"
)

// ErrNoScore means the critic's reply held no usable score
var ErrNoScore = errors.New("critic reply has no score")

// Critic scores one recorded beat
type Critic interface {
	Name() string
	Score(ctx context.Context, d Description) (types.Verdict, error)
}

// Description is everything the critic knows about a beat
type Description struct {
	Segment       string   `json:"segment"`
	Title         string   `json:"title,omitempty"`
	Narration     string   `json:"narration"`
	ExpectedSec   float64  `json:"expected_seconds"`
	CaptureKind   string   `json:"capture_kind"`
	Degraded      bool     `json:"degraded"`
	Reason        string   `json:"degraded_reason,omitempty"`
	BeatFile      string   `json:"beat_file"`
	BeatSec       float64  `json:"beat_seconds"`
	FileBytes     int64    `json:"file_bytes"`
	SilentAudio   bool     `json:"silent_audio"`
	SlideHeadings []string `json:"slide_headings,omitempty"`
}

// New returns the LLM critic when enabled and OPENAI_API_KEY is set, else the heuristic one
func New(cfg config.CriticConfig, logger *zap.Logger) Critic {
	logger = logger.Named("critic")
	key := os.Getenv("OPENAI_API_KEY")
	if !cfg.Enabled || key == "" {
		logger.Info("using heuristic critic", zap.Bool("enabled", cfg.Enabled), zap.Bool("api_key", key != ""))
		return NewHeuristic(cfg.Threshold)
	}
	return NewLLM(cfg, key, logger)
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 10:
		return 10
	}
	return score
}
