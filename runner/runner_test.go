package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"demo-reel-pipeline/04_critic"
	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCapturer struct {
	errs  map[int]error // by attempt number
	kind  types.CaptureKind
	calls int
}

func (f *fakeCapturer) Capture(ctx context.Context, seg types.Segment, outDir, stem string) (*types.CaptureResult, error) {
	f.calls++
	if err := f.errs[f.calls]; err != nil {
		return nil, err
	}
	kind := f.kind
	if kind == "" {
		kind = types.CaptureVideo
	}
	ext := ".webm"
	if kind == types.CaptureStill {
		ext = ".png"
	}
	path := filepath.Join(outDir, stem+ext)
	if err := os.WriteFile(path, []byte("raw"), 0644); err != nil {
		return nil, err
	}
	return &types.CaptureResult{Segment: seg.Name, Kind: kind, Path: path}, nil
}

type fakeNarrator struct {
	err   error
	calls int
}

func (f *fakeNarrator) Generate(ctx context.Context, seg types.Segment, outDir string) (*types.Narration, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.Narration{Segment: seg.Name, Text: "hello", Path: filepath.Join(outDir, "n.mp3"), DurationSec: 2}, nil
}

type fakeComposer struct {
	muxErr     error
	normalized []float64
}

func (f *fakeComposer) Normalize(ctx context.Context, c *types.CaptureResult, seconds float64, out string) error {
	f.normalized = append(f.normalized, seconds)
	return os.WriteFile(out, []byte("video"), 0644)
}

func (f *fakeComposer) Mux(ctx context.Context, video, audio, out string) error {
	if f.muxErr != nil {
		return f.muxErr
	}
	return os.WriteFile(out, []byte("beat:"+filepath.Base(out)), 0644)
}

func (f *fakeComposer) Probe(ctx context.Context, path string) (float64, error) {
	return 6.5, nil
}

type fakeCritic struct {
	scores []float64 // by attempt; negative means error
	calls  int
	seen   []critic.Description
}

func (f *fakeCritic) Name() string { return "fake" }

func (f *fakeCritic) Score(ctx context.Context, d critic.Description) (types.Verdict, error) {
	f.seen = append(f.seen, d)
	s := f.scores[f.calls]
	f.calls++
	if s < 0 {
		return types.Verdict{}, critic.ErrNoScore
	}
	return types.Verdict{Score: s, Pass: s >= 7, Critic: "fake"}, nil
}

type memStore struct {
	saved  []*types.BeatResult
	latest map[string]*types.BeatResult
}

func (m *memStore) Save(r *types.BeatResult) error {
	cp := *r
	m.saved = append(m.saved, &cp)
	if m.latest == nil {
		m.latest = map[string]*types.BeatResult{}
	}
	m.latest[r.Stem] = &cp
	return nil
}

func (m *memStore) Load(stem string) (*types.BeatResult, error) {
	r, ok := m.latest[stem]
	if !ok {
		return nil, os.ErrNotExist
	}
	return r, nil
}

type fixture struct {
	capture *fakeCapturer
	narrate *fakeNarrator
	compose *fakeComposer
	critic  *fakeCritic
	store   *memStore
	runner  *Runner
	dir     string
}

func newFixture(t *testing.T, scores ...float64) *fixture {
	cfg := config.Default()
	f := &fixture{
		capture: &fakeCapturer{errs: map[int]error{}},
		narrate: &fakeNarrator{},
		compose: &fakeComposer{},
		critic:  &fakeCritic{scores: scores},
		store:   &memStore{},
		dir:     t.TempDir(),
	}
	f.runner = New(cfg, f.capture, f.narrate, f.compose, f.critic, f.store, zap.NewNop())
	return f
}

func seg() types.Segment {
	return types.Segment{Name: "Personal Intro", Order: 1, Duration: 5 * time.Second}
}

func TestRunBeat_PassesFirstAttempt(t *testing.T) {
	f := newFixture(t, 8)
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.True(t, res.Passed)
	assert.InDelta(t, 8, res.Score, 0.001)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, res.BestAttempt)
	assert.Equal(t, filepath.Join(f.dir, "01_personal_intro.mp4"), res.BeatFile)
	assert.InDelta(t, 6.5, res.DurationSec, 0.001)
	assert.Equal(t, 1, f.narrate.calls)
	assert.NotEmpty(t, res.StartedAt)
	assert.NotEmpty(t, res.CompletedAt)
	assert.Empty(t, res.Error)

	assert.FileExists(t, res.BeatFile)
	assert.FileExists(t, filepath.Join(f.dir, "01_personal_intro.webm"))
	assert.NoFileExists(t, filepath.Join(f.dir, "01_personal_intro.attempt1.video.mp4"))
	require.Len(t, f.store.saved, 1)
	assert.Equal(t, res.BeatFile, f.store.saved[0].BeatFile)
}

func TestRunBeat_NormalizesToLongerOfNarrationAndSegment(t *testing.T) {
	f := newFixture(t, 9)
	n := &types.Narration{Text: "long", Path: "n.mp3", DurationSec: 12}
	f.runner.RunBeat(context.Background(), seg(), f.dir, n)

	assert.Equal(t, []float64{12}, f.compose.normalized)
	assert.Equal(t, 0, f.narrate.calls, "pre-generated narration is reused")
	assert.InDelta(t, 12, f.critic.seen[0].ExpectedSec, 0.001)
}

func TestRunBeat_RetriesUntilThreshold(t *testing.T) {
	f := newFixture(t, 4, 7.5, 9)
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.True(t, res.Passed)
	assert.Len(t, res.Attempts, 2)
	assert.Equal(t, 2, res.BestAttempt)
	assert.Equal(t, 2, f.critic.calls)

	assert.NoFileExists(t, filepath.Join(f.dir, "01_personal_intro.attempt1.mp4"))
	assert.NoFileExists(t, filepath.Join(f.dir, "01_personal_intro.attempt1.webm"))
	data, err := os.ReadFile(res.BeatFile)
	require.NoError(t, err)
	assert.Equal(t, "beat:01_personal_intro.attempt2.mp4", string(data))
}

func TestRunBeat_KeepsBestWhenNonePass(t *testing.T) {
	f := newFixture(t, 5, 6, 6)
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.False(t, res.Passed)
	assert.Len(t, res.Attempts, 3)
	assert.Equal(t, 2, res.BestAttempt, "ties go to the earliest attempt")
	assert.InDelta(t, 6, res.Score, 0.001)
	assert.FileExists(t, res.BeatFile)
	assert.Empty(t, res.Error)
}

func TestRunBeat_CriticErrorScoresZero(t *testing.T) {
	f := newFixture(t, -1, 3, -1)
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.Len(t, res.Attempts, 3)
	assert.Nil(t, res.Attempts[0].Verdict)
	assert.Contains(t, res.Attempts[0].Error, "critic")
	assert.Equal(t, 2, res.BestAttempt)
	assert.InDelta(t, 3, res.Score, 0.001)
}

func TestRunBeat_AllCriticErrorsKeepFirstBeat(t *testing.T) {
	f := newFixture(t, -1, -1, -1)
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.BestAttempt)
	assert.FileExists(t, res.BeatFile)
}

func TestRunBeat_CaptureErrorMovesOn(t *testing.T) {
	f := newFixture(t, 8)
	f.capture.errs[1] = errors.New("no capture")
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "no capture", res.Attempts[0].Error)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.BestAttempt)
}

func TestRunBeat_NoUsableAttempt(t *testing.T) {
	f := newFixture(t)
	f.compose.muxErr = errors.New("mux exploded")
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.False(t, res.Passed)
	assert.Len(t, res.Attempts, 3)
	assert.Contains(t, res.Error, "attempt 3: mux exploded")
	assert.Empty(t, res.BeatFile)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed attempts leave no files behind")
	require.Len(t, f.store.saved, 1)
}

func TestRunBeat_FailedRerunKeepsPreviousResult(t *testing.T) {
	f := newFixture(t, 9)
	first := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)
	require.True(t, first.Passed)

	f.compose.muxErr = errors.New("mux exploded")
	again := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)
	assert.False(t, again.Passed)
	assert.Contains(t, again.Error, "mux exploded")

	require.Len(t, f.store.saved, 1, "the failed rerun is not persisted")
	kept, err := f.store.Load("01_personal_intro")
	require.NoError(t, err)
	assert.True(t, kept.Passed)
	assert.Equal(t, first.BeatFile, kept.BeatFile)
	assert.FileExists(t, kept.BeatFile)
}

func TestRunBeat_NarrationFailure(t *testing.T) {
	f := newFixture(t)
	f.narrate.err = errors.New("ffmpeg missing")
	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)

	assert.Contains(t, res.Error, "ffmpeg missing")
	assert.Empty(t, res.Attempts)
	assert.Equal(t, 0, f.capture.calls)
	require.Len(t, f.store.saved, 1)
}

func TestRunBeat_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.runner.RunBeat(ctx, seg(), f.dir, &types.Narration{Path: "n.mp3", DurationSec: 1})
	assert.Equal(t, context.Canceled.Error(), res.Error)
	assert.Equal(t, 0, f.capture.calls)
}

func TestRunBeat_StillCaptureReplacesStaleVideo(t *testing.T) {
	f := newFixture(t, 7)
	f.capture.kind = types.CaptureStill
	stale := filepath.Join(f.dir, "01_personal_intro.webm")
	require.NoError(t, os.WriteFile(stale, []byte("old run"), 0644))

	res := f.runner.RunBeat(context.Background(), seg(), f.dir, nil)
	assert.True(t, res.Passed)
	assert.NoFileExists(t, stale)
	assert.Equal(t, filepath.Join(f.dir, "01_personal_intro.png"), res.Attempts[0].Capture.Path)
	assert.Equal(t, "still", f.critic.seen[0].CaptureKind)
}

func TestPickBest(t *testing.T) {
	mk := func(n int, file string, score float64) *attempt {
		return &attempt{record: types.Attempt{Number: n, BeatFile: file, Verdict: &types.Verdict{Score: score}}}
	}
	assert.Nil(t, pickBest(nil))
	assert.Nil(t, pickBest([]*attempt{mk(1, "", 10)}))
	assert.Equal(t, 3, pickBest([]*attempt{mk(1, "a", 2), mk(2, "", 10), mk(3, "c", 5), mk(4, "d", 5)}).record.Number)
}
