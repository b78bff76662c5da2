package narration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/ffmpeg"
	"demo-reel-pipeline/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoProvider means no configured provider produced audio
var ErrNoProvider = errors.New("no narration provider succeeded")

const minSilentSec = 2.0

// Generator produces one narration track per segment
type Generator struct {
	cfg       config.NarrationConfig
	providers []Provider
	table     Table
	tool      *ffmpeg.Tool
	logger    *zap.Logger
}

// New creates a Generator with the providers named in cfg
func New(cfg *config.Config, tool *ffmpeg.Tool, table Table, logger *zap.Logger) (*Generator, error) {
	providers, err := BuildProviders(cfg.Narration, tool)
	if err != nil {
		return nil, err
	}
	return NewWithProviders(cfg.Narration, tool, table, logger, providers...), nil
}

// NewWithProviders creates a Generator with an explicit provider chain
func NewWithProviders(cfg config.NarrationConfig, tool *ffmpeg.Tool, table Table, logger *zap.Logger, providers ...Provider) *Generator {
	if table == nil {
		table = Table{}
	}
	return &Generator{
		cfg:       cfg,
		providers: providers,
		table:     table,
		tool:      tool,
		logger:    logger.Named("narration"),
	}
}

// Generate writes <stem>.mp3 from the first working provider, or a silent <stem>.wav.
// It only fails when even the silent track cannot be written.
func (g *Generator) Generate(ctx context.Context, seg types.Segment, outDir string) (*types.Narration, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create narration dir: %w", err)
	}
	stem := types.FileStem(seg)
	text := g.table.Text(seg)
	log := g.logger.With(zap.String("segment", seg.Name))

	n := &types.Narration{Segment: seg.Name, Text: text}
	estimate := g.estimate(text, seg.Duration)

	if strings.TrimSpace(text) == "" {
		log.Info("no narration text, writing silence")
	} else {
		out := filepath.Join(outDir, stem+".mp3")
		provider, err := g.synthesize(ctx, text, out)
		if err == nil {
			n.Path = out
			n.Provider = provider
			n.DurationSec = g.measure(ctx, out, estimate)
			log.Info("narration ready", zap.String("provider", provider), zap.Float64("seconds", n.DurationSec))
			return n, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("falling back to silent narration", zap.Error(err))
	}

	out := filepath.Join(outDir, stem+".wav")
	if err := g.tool.Silence(ctx, estimate, g.cfg.SampleRate, out); err != nil {
		return nil, &types.StageError{Stage: "narration", Segment: seg.Name, Err: fmt.Errorf("silent fallback: %w", err)}
	}
	n.Path = out
	n.Provider = "silent"
	n.Silent = true
	n.DurationSec = estimate
	return n, nil
}

// synthesize walks the provider chain, retrying each with linear backoff
func (g *Generator) synthesize(ctx context.Context, text, out string) (string, error) {
	retries := max(g.cfg.Retries, 1)
	var errs []error
	for _, p := range g.providers {
		if !p.Available() {
			g.logger.Debug("provider unavailable", zap.String("provider", p.Name()))
			continue
		}
		for attempt := 1; attempt <= retries; attempt++ {
			err := p.Synthesize(ctx, text, out)
			if err == nil {
				return p.Name(), nil
			}
			errs = append(errs, fmt.Errorf("%s attempt %d: %w", p.Name(), attempt, err))
			g.logger.Warn("TTS attempt failed",
				zap.String("provider", p.Name()), zap.Int("attempt", attempt), zap.Error(err))
			if attempt < retries {
				if err := backoff(ctx, time.Duration(attempt)*g.cfg.RetryBackoff); err != nil {
					return "", err
				}
			}
		}
		_ = os.Remove(out)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: none available", ErrNoProvider)
	}
	return "", fmt.Errorf("%w: %w", ErrNoProvider, errors.Join(errs...))
}

func (g *Generator) measure(ctx context.Context, path string, estimate float64) float64 {
	dur, err := g.tool.Duration(ctx, path)
	if err != nil || dur <= 0 {
		g.logger.Warn("could not measure narration, using estimate", zap.String("path", path), zap.Error(err))
		return estimate
	}
	return dur
}

// estimate guesses speech length from the word count, never shorter than the segment
func (g *Generator) estimate(text string, segment time.Duration) float64 {
	wpm := g.cfg.WordsPerMinute
	if wpm <= 0 {
		wpm = 150
	}
	words := len(strings.Fields(text))
	sec := float64(words) / float64(wpm) * 60
	sec = math.Max(sec, minSilentSec)
	return math.Max(sec, segment.Seconds())
}

// GenerateAll narrates segs with bounded parallelism; results follow segs order
func (g *Generator) GenerateAll(ctx context.Context, segs []types.Segment, outDir string) ([]*types.Narration, error) {
	results := make([]*types.Narration, len(segs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.cfg.Parallelism, 1))
	for i, seg := range segs {
		eg.Go(func() error {
			n, err := g.Generate(ctx, seg, outDir)
			if err != nil {
				return err
			}
			results[i] = n
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
