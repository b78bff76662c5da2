package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"demo-reel-pipeline/03_compose"
	"demo-reel-pipeline/05_review"
	"demo-reel-pipeline/06_upload"
	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNarrator struct{ err error }

func (f *fakeNarrator) GenerateAll(ctx context.Context, segs []types.Segment, outDir string) ([]*types.Narration, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*types.Narration, len(segs))
	for i, s := range segs {
		out[i] = &types.Narration{Segment: s.Name, Text: "Narration for " + s.Name + ".", DurationSec: 3}
	}
	return out, nil
}

type fakeBeats struct {
	store  *review.Store
	failed map[string]bool
	seen   []*types.Narration
}

func (f *fakeBeats) RunBeat(ctx context.Context, seg types.Segment, outDir string, n *types.Narration) *types.BeatResult {
	f.seen = append(f.seen, n)
	res := &types.BeatResult{Segment: seg.Name, Stem: types.FileStem(seg), Order: seg.Order, Narration: n}
	if f.failed[seg.Name] {
		res.Error = "no usable attempt"
	} else {
		res.BeatFile = filepath.Join(outDir, res.Stem+".mp4")
		_ = os.WriteFile(res.BeatFile, []byte("beat"), 0644)
		res.DurationSec = 5
		res.Passed = true
		res.Score = 8
	}
	_ = f.store.Save(res)
	return res
}

type fakeCutter struct {
	concatErr error
	burnErr   error
	files     []string
	burned    string
}

func (f *fakeCutter) Concat(ctx context.Context, files []string, out string) (*compose.ConcatResult, error) {
	f.files = files
	if f.concatErr != nil {
		return nil, f.concatErr
	}
	return &compose.ConcatResult{Path: out, Inputs: len(files)}, os.WriteFile(out, []byte("cut"), 0644)
}

func (f *fakeCutter) BurnSubtitles(ctx context.Context, video, srt, out string) error {
	if f.burnErr != nil {
		return f.burnErr
	}
	f.burned = srt
	return os.WriteFile(out, []byte("subbed"), 0644)
}

type fakePublisher struct{ video string }

func (f *fakePublisher) Run(ctx context.Context, videoFile string, meta *upload.Meta) (*upload.Result, error) {
	f.video = videoFile
	return &upload.Result{VideoID: "vid1", VideoURL: "https://www.youtube.com/watch?v=vid1"}, nil
}

type fixture struct {
	p         *Pipeline
	beats     *fakeBeats
	cutter    *fakeCutter
	publisher *fakePublisher
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Output = filepath.Join(dir, "output")
	cfg.Paths.Results = filepath.Join(dir, "output", "results")
	cfg.Paths.Logs = filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(cfg.Paths.Output, 0755))

	store := review.NewStore(cfg.Paths.Results)
	f := &fixture{
		beats:     &fakeBeats{store: store, failed: map[string]bool{}},
		cutter:    &fakeCutter{},
		publisher: &fakePublisher{},
		cfg:       cfg,
	}
	f.p = &Pipeline{
		cfg:      cfg,
		logger:   zap.NewNop(),
		narrator: &fakeNarrator{},
		beats:    f.beats,
		cutter:   f.cutter,
		store:    store,
		uploader: f.publisher,
		now:      time.Now,
	}
	return f
}

func segments() []types.Segment {
	return []types.Segment{
		{Name: "Personal Intro", Order: 1, HTML: "<h1>Hi</h1>"},
		{Name: "Live Dashboard Overview", Order: 2, URL: "/dashboard"},
		{Name: "Closing", Order: 3, HTML: "<h1>Bye</h1>"},
	}
}

func TestPipeline_Run(t *testing.T) {
	f := newFixture(t)
	f.beats.failed["Live Dashboard Overview"] = true

	state, err := f.p.Run(context.Background(), segments())
	require.NoError(t, err)

	out := f.cfg.Paths.Output
	assert.Len(t, state.Beats, 3)
	assert.Len(t, f.beats.seen, 3)
	assert.NotNil(t, f.beats.seen[0], "narration is generated before the beats")
	assert.Equal(t, []string{
		filepath.Join(out, "01_personal_intro.mp4"),
		filepath.Join(out, "03_closing.mp4"),
	}, f.cutter.files)

	assert.Equal(t, filepath.Join(out, "rough_cut.mp4"), state.RoughCut)
	assert.Equal(t, filepath.Join(out, "rough_cut_subtitled.mp4"), state.SubtitledCut)
	assert.FileExists(t, f.cutter.burned)
	assert.Equal(t, filepath.Join(out, "timeline.edl"), state.Timeline)
	assert.FileExists(t, state.Timeline)
	assert.Equal(t, []string{"Live Dashboard Overview"}, Failed(state))
	assert.Empty(t, state.YouTubeURL, "upload is off by default")

	report, err := review.LoadReport(state.Report)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, state.RunID, report.RunID)

	assert.FileExists(t, filepath.Join(out, "runs", state.RunID, "pipeline_state.json"))
}

func TestPipeline_RunUploadsSubtitledCut(t *testing.T) {
	f := newFixture(t)
	f.cfg.Upload.Enabled = true

	state, err := f.p.Run(context.Background(), segments())
	require.NoError(t, err)
	assert.Equal(t, state.SubtitledCut, f.publisher.video)
	assert.Equal(t, "vid1", state.YouTubeID)

	logs, err := os.ReadDir(f.cfg.Paths.Logs)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestPipeline_SubtitleFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.cutter.burnErr = errors.New("no libass")

	state, err := f.p.Run(context.Background(), segments())
	require.NoError(t, err)
	assert.Empty(t, state.SubtitledCut)
	assert.NotEmpty(t, state.RoughCut)
	assert.NotEmpty(t, state.Report)
}

func TestPipeline_NarrationFailureStops(t *testing.T) {
	f := newFixture(t)
	f.p.narrator = &fakeNarrator{err: errors.New("silence failed")}

	state, err := f.p.Run(context.Background(), segments())
	require.Error(t, err)
	assert.Contains(t, state.Error, "Stage 1 Narration")
	assert.Empty(t, f.beats.seen)
}

func TestPipeline_NoBeatsNoCut(t *testing.T) {
	f := newFixture(t)
	f.cutter.concatErr = compose.ErrNoInputs
	for _, s := range segments() {
		f.beats.failed[s.Name] = true
	}

	state, err := f.p.Run(context.Background(), segments())
	assert.ErrorIs(t, err, compose.ErrNoInputs)
	assert.Contains(t, state.Error, "Stage 3 Rough cut")
	assert.FileExists(t, filepath.Join(f.cfg.Paths.Output, "runs", state.RunID, "pipeline_state.json"))
}

func TestPipeline_StitchUsesSavedResults(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Run(context.Background(), segments())
	require.NoError(t, err)
	f.cutter.files = nil

	state, err := f.p.Stitch(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.cutter.files, 3)
	assert.Len(t, state.Beats, 3)
	assert.NotEmpty(t, state.Report)

	var saved types.PipelineState
	data, err := os.ReadFile(filepath.Join(f.cfg.Paths.Output, "runs", state.RunID, "pipeline_state.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, state.RunID, saved.RunID)
	assert.Len(t, saved.Beats, 3)
	assert.NotEmpty(t, saved.CompletedAt)
}

func TestPipeline_CancelledBetweenBeats(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := f.p.Run(ctx, segments())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, state.Beats)
}
