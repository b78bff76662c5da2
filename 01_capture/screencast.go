package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"demo-reel-pipeline/ffmpeg"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// screencastArgs builds the ffmpeg command that turns piped JPEG frames into a webm
func screencastArgs(fps int, outFile string) []string {
	return []string{"-y",
		"-f", "image2pipe",
		"-framerate", fmt.Sprintf("%d", fps),
		"-c:v", "mjpeg",
		"-i", "-",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libvpx-vp9",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "0",
		"-crf", "35",
		"-pix_fmt", "yuv420p",
		"-an",
		outFile,
	}
}

// screencast records CDP screencast frames through ffmpeg
type screencast struct {
	page   *rodPage
	cmd    *exec.Cmd
	pump   *framePump
	cancel context.CancelFunc
	stderr *ffmpeg.Tail
	once   sync.Once
	err    error
}

func startScreencast(ctx context.Context, p *rodPage, outFile string) (*screencast, error) {
	if _, err := exec.LookPath(p.ffmpeg); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	stderr := &ffmpeg.Tail{Max: 4096}
	// The encoder outlives StartRecording's ctx; Stop owns its lifetime.
	cmd := exec.Command(p.ffmpeg, screencastArgs(p.fps, outFile)...)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	pump := newFramePump(stdin, p.fps)
	// A stalled encoder stops reading stdin; killing it unblocks the pump's write.
	pump.abort = func() { _ = cmd.Process.Kill() }
	evCtx, cancel := context.WithCancel(context.Background())
	wait := p.page.Context(evCtx).EachEvent(func(e *proto.PageScreencastFrame) {
		pump.Push(e.Data)
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(p.page)
	})
	go wait()
	pump.Start()

	quality := p.quality
	maxW, maxH := p.width, p.height
	everyNth := 1
	err = proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		MaxWidth:      &maxW,
		MaxHeight:     &maxH,
		EveryNthFrame: &everyNth,
	}.Call(p.page.Context(ctx))
	if err != nil {
		cancel()
		_ = cmd.Process.Kill()
		_, _ = pump.Stop(context.Background())
		_ = cmd.Wait()
		_ = os.Remove(outFile)
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	p.logger.Debug("screencast started", zap.String("file", outFile), zap.Int("fps", p.fps))
	return &screencast{page: p, cmd: cmd, pump: pump, cancel: cancel, stderr: stderr}, nil
}

// Stop ends the screencast and waits for ffmpeg to finish the file, bounded by ctx
func (s *screencast) Stop(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.stop(ctx)
	})
	return s.err
}

func (s *screencast) stop(ctx context.Context) error {
	_ = proto.PageStopScreencast{}.Call(s.page.page)
	s.cancel()

	frames, perr := s.pump.Stop(ctx)
	if err := ctx.Err(); err != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg screencast encode: %w: %s", err, s.stderr.String())
		}
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-done
		return ctx.Err()
	}

	if perr != nil {
		return fmt.Errorf("write frames: %w", perr)
	}
	if frames == 0 {
		return errors.New("screencast produced no frames")
	}
	s.page.logger.Debug("screencast saved", zap.Int("frames", frames))
	return nil
}

// framePump writes the most recent frame to sink at a constant rate.
// CDP only emits frames when the page repaints, so static slides still
// need their last frame repeated to keep the video at real-time length.
type framePump struct {
	sink     io.WriteCloser
	interval time.Duration

	mu     sync.Mutex
	latest []byte

	// abort is called when Stop's ctx ends before the writer returns
	abort func()

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	written int
	err     error
}

func newFramePump(sink io.WriteCloser, fps int) *framePump {
	if fps <= 0 {
		fps = 25
	}
	return &framePump{
		sink:     sink,
		interval: time.Second / time.Duration(fps),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Push replaces the frame the pump repeats
func (p *framePump) Push(frame []byte) {
	if len(frame) == 0 {
		return
	}
	p.mu.Lock()
	p.latest = frame
	p.mu.Unlock()
}

// Start launches the writer goroutine
func (p *framePump) Start() {
	go p.loop()
}

func (p *framePump) loop() {
	defer close(p.done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.mu.Lock()
			frame := p.latest
			p.mu.Unlock()
			if frame == nil {
				continue
			}
			if _, err := p.sink.Write(frame); err != nil {
				p.err = err
				return
			}
			p.written++
		}
	}
}

// Stop halts the pump, closes the sink and reports how many frames were written.
// If ctx ends while a write is stuck, abort runs and the sink is closed so the writer can return.
func (p *framePump) Stop(ctx context.Context) (int, error) {
	p.once.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-ctx.Done():
		if p.abort != nil {
			p.abort()
		}
		_ = p.sink.Close()
		<-p.done
		return p.written, ctx.Err()
	}
	cerr := p.sink.Close()
	if p.err != nil {
		return p.written, p.err
	}
	return p.written, cerr
}
