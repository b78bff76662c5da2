package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"go.uber.org/zap"
)

var (
	ErrRenderTimeout = errors.New("content render timed out")
	ErrSaveTimeout   = errors.New("video save timed out")
	ErrNoCapture     = errors.New("no capture produced")
)

// State is one step of the capture-with-fallback machine
type State string

const (
	StateRender     State = "render"
	StateRecord     State = "record"
	StateHold       State = "hold"
	StateSave       State = "save"
	StateScreenshot State = "screenshot"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Machine drives render → record → hold → save, falling back to a screenshot.
//
// A render timeout is not fatal: the page is recorded as-is and the result is
// marked degraded. Any other failure before the video is safely on disk moves
// to the screenshot state; a failed screenshot ends in ErrNoCapture.
type Machine struct {
	RenderTimeout time.Duration
	SaveTimeout   time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewMachine builds a Machine from capture config
func NewMachine(cfg config.CaptureConfig, logger *zap.Logger) *Machine {
	return &Machine{
		RenderTimeout: cfg.RenderTimeout,
		SaveTimeout:   cfg.SaveTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

type run struct {
	state     State
	res       *types.CaptureResult
	rec       Recording
	recStart  time.Time
	reasons   []string
	lastErr   error
	videoPath string
	stillPath string
}

func (r *run) degrade(reason string) {
	r.res.Degraded = true
	r.reasons = append(r.reasons, reason)
}

// Run executes the machine until done or failed
func (m *Machine) Run(ctx context.Context, page Page, seg types.Segment, videoPath, stillPath string) (*types.CaptureResult, error) {
	r := &run{
		state: StateRender,
		res: &types.CaptureResult{
			Segment:   seg.Name,
			StartedAt: m.now(),
		},
		videoPath: videoPath,
		stillPath: stillPath,
	}

	for {
		r.res.Trace = append(r.res.Trace, string(r.state))
		m.logger.Debug("capture state", zap.String("segment", seg.Name), zap.String("state", string(r.state)))

		switch r.state {
		case StateRender:
			r.state = m.render(ctx, page, seg, r)
		case StateRecord:
			r.state = m.record(ctx, page, r)
		case StateHold:
			r.state = m.hold(ctx, page, seg, r)
		case StateSave:
			r.state = m.save(ctx, r)
		case StateScreenshot:
			r.state = m.screenshot(ctx, page, r)
		case StateDone:
			r.res.Reason = strings.Join(r.reasons, "; ")
			r.res.Duration = m.now().Sub(r.res.StartedAt)
			return r.res, nil
		case StateFailed:
			r.res.Reason = strings.Join(r.reasons, "; ")
			return r.res, r.lastErr
		default:
			return nil, fmt.Errorf("unknown capture state %q", r.state)
		}
	}
}

func (m *Machine) render(ctx context.Context, page Page, seg types.Segment, r *run) State {
	rctx, cancel := context.WithTimeout(ctx, m.RenderTimeout)
	defer cancel()

	err := page.Render(rctx, seg)
	switch {
	case err == nil:
		return StateRecord
	case ctx.Err() != nil:
		r.lastErr = ctx.Err()
		return StateFailed
	case errors.Is(err, context.DeadlineExceeded) || rctx.Err() != nil:
		m.logger.Warn("content render timed out, recording anyway",
			zap.String("segment", seg.Name), zap.Duration("timeout", m.RenderTimeout))
		r.degrade(ErrRenderTimeout.Error())
		return StateRecord
	default:
		m.logger.Warn("render failed, falling back to screenshot", zap.String("segment", seg.Name), zap.Error(err))
		r.degrade("render: " + err.Error())
		return StateScreenshot
	}
}

func (m *Machine) record(ctx context.Context, page Page, r *run) State {
	rec, err := page.StartRecording(ctx, r.videoPath)
	if err != nil {
		if ctx.Err() != nil {
			r.lastErr = ctx.Err()
			return StateFailed
		}
		m.logger.Warn("recording failed to start, falling back to screenshot", zap.Error(err))
		r.degrade("record: " + err.Error())
		return StateScreenshot
	}
	r.rec = rec
	r.recStart = m.now()
	return StateHold
}

func (m *Machine) hold(ctx context.Context, page Page, seg types.Segment, r *run) State {
	if len(seg.Actions) > 0 {
		if err := page.Perform(ctx, seg.Actions); err != nil && ctx.Err() == nil {
			m.logger.Warn("scripted action failed", zap.String("segment", seg.Name), zap.Error(err))
			r.degrade("actions: " + err.Error())
		}
	}

	remaining := seg.Duration - m.now().Sub(r.recStart)
	if err := sleep(ctx, remaining); err != nil {
		// The caller gave up; release the recorder before failing.
		sctx, cancel := context.WithTimeout(context.Background(), m.SaveTimeout)
		_ = r.rec.Stop(sctx)
		cancel()
		_ = os.Remove(r.videoPath)
		r.lastErr = err
		return StateFailed
	}
	return StateSave
}

func (m *Machine) save(ctx context.Context, r *run) State {
	sctx, cancel := context.WithTimeout(ctx, m.SaveTimeout)
	defer cancel()

	err := r.rec.Stop(sctx)
	if err == nil {
		err = nonEmpty(r.videoPath)
	}
	if err == nil {
		r.res.Kind = types.CaptureVideo
		r.res.Path = r.videoPath
		return StateDone
	}
	if ctx.Err() != nil {
		r.lastErr = ctx.Err()
		return StateFailed
	}

	if errors.Is(err, context.DeadlineExceeded) || sctx.Err() != nil {
		err = fmt.Errorf("%w after %s", ErrSaveTimeout, m.SaveTimeout)
	}
	m.logger.Warn("video save failed, falling back to screenshot", zap.Error(err))
	r.degrade("save: " + err.Error())
	_ = os.Remove(r.videoPath)
	return StateScreenshot
}

func (m *Machine) screenshot(ctx context.Context, page Page, r *run) State {
	sctx, cancel := context.WithTimeout(ctx, m.SaveTimeout)
	defer cancel()

	err := page.Screenshot(sctx, r.stillPath)
	if err == nil {
		err = nonEmpty(r.stillPath)
	}
	if err != nil {
		r.lastErr = fmt.Errorf("%w: %s; screenshot: %v", ErrNoCapture, strings.Join(r.reasons, "; "), err)
		return StateFailed
	}
	r.res.Kind = types.CaptureStill
	r.res.Path = r.stillPath
	r.res.Degraded = true
	return StateDone
}

func nonEmpty(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
