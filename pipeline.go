package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"demo-reel-pipeline/01_capture"
	"demo-reel-pipeline/02_narration"
	"demo-reel-pipeline/03_compose"
	"demo-reel-pipeline/04_critic"
	"demo-reel-pipeline/05_review"
	"demo-reel-pipeline/06_upload"
	"demo-reel-pipeline/config"
	"demo-reel-pipeline/ffmpeg"
	"demo-reel-pipeline/runner"
	"demo-reel-pipeline/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type narrator interface {
	GenerateAll(ctx context.Context, segs []types.Segment, outDir string) ([]*types.Narration, error)
}

type beatRunner interface {
	RunBeat(ctx context.Context, seg types.Segment, outDir string, narration *types.Narration) *types.BeatResult
}

type cutter interface {
	Concat(ctx context.Context, files []string, out string) (*compose.ConcatResult, error)
	BurnSubtitles(ctx context.Context, video, srt, out string) error
}

type publisher interface {
	Run(ctx context.Context, videoFile string, meta *upload.Meta) (*upload.Result, error)
}

// Pipeline wires every stage together for one config
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger

	browser  capture.Browser
	narrator narrator
	beats    beatRunner
	cutter   cutter
	store    *review.Store
	uploader publisher
	now      func() time.Time
}

// NewPipeline builds the production stages. baseDir resolves relative html_file paths.
func NewPipeline(cfg *config.Config, baseDir string, logger *zap.Logger) (*Pipeline, error) {
	tool := ffmpeg.New(cfg.Compose, nil, logger)

	table, err := narration.LoadTable(cfg.Paths.NarrationTable)
	if err != nil {
		return nil, err
	}
	narr, err := narration.New(cfg, tool, table, logger)
	if err != nil {
		return nil, err
	}

	browser := capture.NewRodBrowser(cfg, logger)
	capturer := capture.New(cfg, browser, logger)
	capturer.BaseDir = baseDir

	comp := compose.New(cfg, tool, logger)
	store := review.NewStore(cfg.Paths.Results)
	cr := critic.New(cfg.Critic, logger)
	logger.Info("critic selected", zap.String("critic", cr.Name()))

	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		browser:  browser,
		narrator: narr,
		beats:    runner.New(cfg, capturer, narr, comp, cr, store, logger),
		cutter:   comp,
		store:    store,
		uploader: upload.New(cfg.Upload, logger),
		now:      time.Now,
	}, nil
}

// Close shuts the browser down
func (p *Pipeline) Close() error {
	if p.browser == nil {
		return nil
	}
	return p.browser.Close()
}

func (p *Pipeline) roughCutPath() string {
	return filepath.Join(p.cfg.Paths.Output, "rough_cut.mp4")
}

func (p *Pipeline) reportPath() string {
	return filepath.Join(p.cfg.Paths.Output, "report.json")
}

// Run produces beats for segs, then the rough cut, timeline and report.
// The returned state is also written to output/runs/<id>/pipeline_state.json.
func (p *Pipeline) Run(ctx context.Context, segs []types.Segment) (*types.PipelineState, error) {
	outDir := p.cfg.Paths.Output
	runID := uuid.NewString()[:8]
	runDir := filepath.Join(outDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	p.logger.Info("demo reel pipeline starting",
		zap.String("run_id", runID),
		zap.String("output", outDir),
		zap.Int("segments", len(segs)),
	)

	state := &types.PipelineState{
		RunID:     runID,
		StartedAt: p.now().UTC().Format(time.RFC3339),
		Beats:     []types.BeatResult{},
	}
	defer func() {
		state.CompletedAt = p.now().UTC().Format(time.RFC3339)
		if err := review.WriteJSON(filepath.Join(runDir, "pipeline_state.json"), state); err != nil {
			p.logger.Warn("failed to save state", zap.Error(err))
		}
	}()

	// ─────────────────────────────────────────────
	// STAGE 1: Narration
	// ─────────────────────────────────────────────
	p.logger.Info("━━━ STAGE 1: Narration ━━━")
	narrations, err := p.narrator.GenerateAll(ctx, segs, filepath.Join(outDir, "narration"))
	if err != nil {
		state.Error = fmt.Sprintf("Stage 1 Narration: %v", err)
		return state, err
	}

	// ─────────────────────────────────────────────
	// STAGE 2: Beats (capture, mux, critic)
	// ─────────────────────────────────────────────
	p.logger.Info("━━━ STAGE 2: Beats ━━━")
	var beats []*types.BeatResult
	for i, seg := range segs {
		if ctx.Err() != nil {
			break
		}
		res := p.beats.RunBeat(ctx, seg, outDir, narrations[i])
		beats = append(beats, res)
		state.Beats = append(state.Beats, *res)
	}
	if err := ctx.Err(); err != nil {
		state.Error = fmt.Sprintf("Stage 2 Beats: %v", err)
		return state, err
	}

	if err := p.assemble(ctx, runID, beats, state); err != nil {
		return state, err
	}

	// ─────────────────────────────────────────────
	// STAGE 6: Upload
	// ─────────────────────────────────────────────
	if p.cfg.Upload.Enabled {
		p.logger.Info("━━━ STAGE 6: Upload ━━━")
		if err := p.publish(ctx, state); err != nil {
			state.Error = fmt.Sprintf("Stage 6 Upload: %v", err)
			return state, err
		}
	}

	p.logger.Info("pipeline complete",
		zap.String("rough_cut", state.RoughCut),
		zap.Int("failed", len(Failed(state))),
	)
	return state, nil
}

// Stitch rebuilds the rough cut, timeline and report from saved beat results.
// Like Run, it records its state under output/runs/<id>/pipeline_state.json.
func (p *Pipeline) Stitch(ctx context.Context) (*types.PipelineState, error) {
	beats, err := p.store.List()
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()[:8]
	runDir := filepath.Join(p.cfg.Paths.Output, "runs", runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	state := &types.PipelineState{
		RunID:     runID,
		StartedAt: p.now().UTC().Format(time.RFC3339),
		Beats:     []types.BeatResult{},
	}
	defer func() {
		state.CompletedAt = p.now().UTC().Format(time.RFC3339)
		if err := review.WriteJSON(filepath.Join(runDir, "pipeline_state.json"), state); err != nil {
			p.logger.Warn("failed to save state", zap.Error(err))
		}
	}()

	for _, b := range beats {
		state.Beats = append(state.Beats, *b)
	}
	return state, p.assemble(ctx, runID, beats, state)
}

// assemble runs stages 3 to 5: rough cut, subtitles, timeline and report
func (p *Pipeline) assemble(ctx context.Context, runID string, beats []*types.BeatResult, state *types.PipelineState) error {
	outDir := p.cfg.Paths.Output

	// ─────────────────────────────────────────────
	// STAGE 3: Rough cut
	// ─────────────────────────────────────────────
	p.logger.Info("━━━ STAGE 3: Rough cut ━━━")
	var files []string
	for _, b := range beats {
		if b.BeatFile != "" {
			files = append(files, b.BeatFile)
		}
	}
	cut, err := p.cutter.Concat(ctx, files, p.roughCutPath())
	if err != nil {
		state.Error = fmt.Sprintf("Stage 3 Rough cut: %v", err)
		return err
	}
	if cut.Degraded {
		p.logger.Warn("rough cut degraded", zap.String("reason", cut.Reason))
	}
	state.RoughCut = cut.Path

	// ─────────────────────────────────────────────
	// STAGE 4: Subtitles (non-fatal)
	// ─────────────────────────────────────────────
	if p.cfg.Subtitles.Enabled && !cut.Degraded {
		p.logger.Info("━━━ STAGE 4: Subtitles ━━━")
		subbed, err := p.subtitle(ctx, beats, cut.Path)
		if err != nil {
			p.logger.Warn("subtitles failed, continuing without", zap.Error(err))
		} else {
			state.SubtitledCut = subbed
		}
	}

	// ─────────────────────────────────────────────
	// STAGE 5: Timeline + report
	// ─────────────────────────────────────────────
	p.logger.Info("━━━ STAGE 5: Review ━━━")
	if p.cfg.Review.ExportEDL {
		edl := filepath.Join(outDir, "timeline.edl")
		if err := review.WriteEDL(p.cfg.Review.Title, beats, p.cfg.Review.TimelineFPS, edl); err != nil {
			p.logger.Warn("timeline export failed", zap.Error(err))
		} else {
			state.Timeline = edl
		}
	}

	report := review.BuildReport(p.cfg.Review.Title, runID, beats, cut.Path)
	if err := report.Write(p.reportPath()); err != nil {
		state.Error = fmt.Sprintf("Stage 5 Review: %v", err)
		return err
	}
	state.Report = p.reportPath()
	p.logger.Info("report written",
		zap.String("path", state.Report),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
	)
	return nil
}

// subtitle burns narration captions into a copy of the rough cut
func (p *Pipeline) subtitle(ctx context.Context, beats []*types.BeatResult, roughCut string) (string, error) {
	var parts []compose.Part
	var offset float64
	for _, b := range beats {
		if b.BeatFile == "" {
			continue
		}
		part := compose.Part{Offset: offset, Length: b.DurationSec}
		if n := b.Narration; n != nil && !n.Silent {
			part.Text = n.Text
			part.Narrated = n.DurationSec
		}
		parts = append(parts, part)
		offset += b.DurationSec
	}

	cues := compose.BuildCues(parts, p.cfg.Subtitles.MaxCharsPerLine)
	srt := filepath.Join(p.cfg.Paths.Output, "rough_cut.srt")
	if err := compose.WriteSRT(cues, srt); err != nil {
		return "", err
	}
	if err := compose.ValidateSRT(srt); err != nil {
		return "", err
	}
	out := filepath.Join(p.cfg.Paths.Output, "rough_cut_subtitled.mp4")
	if err := p.cutter.BurnSubtitles(ctx, roughCut, srt, out); err != nil {
		return "", err
	}
	return out, nil
}

// publish uploads the subtitled cut when there is one, else the plain rough cut
func (p *Pipeline) publish(ctx context.Context, state *types.PipelineState) error {
	video := state.SubtitledCut
	if video == "" {
		video = state.RoughCut
	}
	if video == "" {
		return errors.New("no rough cut to upload")
	}
	report, err := review.LoadReport(p.reportPath())
	if err != nil {
		return err
	}
	meta := upload.BuildMeta(p.cfg, report)
	res, err := p.uploader.Run(ctx, video, meta)
	if err != nil {
		return err
	}
	state.YouTubeID = res.VideoID
	state.YouTubeURL = res.VideoURL
	if path, err := upload.LogUpload(res, video, p.cfg.Paths.Logs, meta); err != nil {
		p.logger.Warn("failed to log upload", zap.Error(err))
	} else {
		p.logger.Info("upload logged", zap.String("path", path))
	}
	return nil
}

// Failed lists the segments whose beat did not pass review
func Failed(state *types.PipelineState) []string {
	var out []string
	for _, b := range state.Beats {
		if !b.Passed {
			out = append(out, b.Segment)
		}
	}
	return out
}
