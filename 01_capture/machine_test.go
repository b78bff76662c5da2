package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage scripts each Page call; blocking calls wait for ctx to end
type fakePage struct {
	renderErr    error
	renderBlocks bool
	startErr     error
	stopErr      error
	stopBlocks   bool
	stopWrites   bool
	shotErr      error
	actionErr    error

	rendered  int
	performed int
	shots     int
	closed    bool
}

type fakeRecording struct {
	p    *fakePage
	path string
}

func (r *fakeRecording) Stop(ctx context.Context) error {
	if r.p.stopBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.p.stopErr != nil {
		return r.p.stopErr
	}
	if r.p.stopWrites {
		return os.WriteFile(r.path, []byte("webm-bytes"), 0644)
	}
	return nil
}

func (p *fakePage) Render(ctx context.Context, seg types.Segment) error {
	p.rendered++
	if p.renderBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.renderErr
}

func (p *fakePage) Perform(ctx context.Context, actions []types.Action) error {
	p.performed += len(actions)
	return p.actionErr
}

func (p *fakePage) StartRecording(ctx context.Context, path string) (Recording, error) {
	if p.startErr != nil {
		return nil, p.startErr
	}
	// Simulate a partially written file before the save.
	if err := os.WriteFile(path, []byte("partial"), 0644); err != nil {
		return nil, err
	}
	return &fakeRecording{p: p, path: path}, nil
}

func (p *fakePage) Screenshot(ctx context.Context, path string) error {
	p.shots++
	if p.shotErr != nil {
		return p.shotErr
	}
	return os.WriteFile(path, []byte("png-bytes"), 0644)
}

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

func testMachine() *Machine {
	return NewMachine(config.CaptureConfig{
		RenderTimeout: 30 * time.Millisecond,
		SaveTimeout:   30 * time.Millisecond,
	}, zap.NewNop())
}

func testSegment() types.Segment {
	return types.Segment{Name: "Introduction", Order: 1, HTML: "<h1>hi</h1>", Duration: 10 * time.Millisecond}
}

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "01_introduction.webm"), filepath.Join(dir, "01_introduction.png")
}

func TestMachine_HappyPathRecordsVideo(t *testing.T) {
	page := &fakePage{stopWrites: true}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.NoError(t, err)

	assert.Equal(t, types.CaptureVideo, res.Kind)
	assert.Equal(t, video, res.Path)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.Reason)
	assert.Equal(t, []string{"render", "record", "hold", "save", "done"}, res.Trace)
	assert.Equal(t, 0, page.shots)
}

func TestMachine_RenderTimeoutIsDegradedButRecorded(t *testing.T) {
	page := &fakePage{renderBlocks: true, stopWrites: true}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.NoError(t, err)

	assert.Equal(t, types.CaptureVideo, res.Kind)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Reason, ErrRenderTimeout.Error())
}

func TestMachine_RenderErrorFallsBackToScreenshot(t *testing.T) {
	page := &fakePage{renderErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.NoError(t, err)

	assert.Equal(t, types.CaptureStill, res.Kind)
	assert.Equal(t, still, res.Path)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"render", "screenshot", "done"}, res.Trace)
	assert.Contains(t, res.Reason, "ERR_CONNECTION_REFUSED")
}

func TestMachine_RecordStartErrorFallsBackToScreenshot(t *testing.T) {
	page := &fakePage{startErr: errors.New("ffmpeg not found")}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.NoError(t, err)

	assert.Equal(t, types.CaptureStill, res.Kind)
	assert.Equal(t, []string{"render", "record", "screenshot", "done"}, res.Trace)
}

func TestMachine_SaveTimeoutRemovesPartialVideo(t *testing.T) {
	page := &fakePage{stopBlocks: true}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.NoError(t, err)

	assert.Equal(t, types.CaptureStill, res.Kind)
	assert.Contains(t, res.Reason, ErrSaveTimeout.Error())
	assert.Equal(t, []string{"render", "record", "hold", "save", "screenshot", "done"}, res.Trace)
	_, statErr := os.Stat(video)
	assert.True(t, os.IsNotExist(statErr), "partial video should be removed")
}

func TestMachine_StopErrorFallsBackToScreenshot(t *testing.T) {
	page := &fakePage{stopErr: errors.New("encoder exited 1")}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.NoError(t, err)
	assert.Equal(t, types.CaptureStill, res.Kind)
	assert.Contains(t, res.Reason, "encoder exited 1")
}

func TestMachine_ScreenshotFailureIsNoCapture(t *testing.T) {
	page := &fakePage{renderErr: errors.New("boom"), shotErr: errors.New("target closed")}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, testSegment(), video, still)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCapture)
	assert.Contains(t, err.Error(), "target closed")
	assert.Equal(t, []string{"render", "screenshot", "failed"}, res.Trace)
}

func TestMachine_ActionErrorDegradesWithoutAborting(t *testing.T) {
	page := &fakePage{stopWrites: true, actionErr: errors.New("element not found")}
	seg := testSegment()
	seg.Actions = []types.Action{{Kind: "click", Selector: "#map"}}
	video, still := paths(t)

	res, err := testMachine().Run(context.Background(), page, seg, video, still)
	require.NoError(t, err)

	assert.Equal(t, types.CaptureVideo, res.Kind)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, page.performed)
	assert.Contains(t, res.Reason, "element not found")
}

func TestMachine_CancelledContextFails(t *testing.T) {
	page := &fakePage{stopWrites: true}
	seg := testSegment()
	seg.Duration = time.Hour
	video, still := paths(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := testMachine().Run(ctx, page, seg, video, still)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, page.shots)
}
