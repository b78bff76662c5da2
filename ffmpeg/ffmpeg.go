// Package ffmpeg runs ffmpeg and ffprobe for every stage that touches media.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"demo-reel-pipeline/config"

	"go.uber.org/zap"
)

// Executor runs external commands. Tests swap in a recorder.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec and keeps the stderr tail for errors
type ExecRunner struct {
	Logger *zap.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	if r.Logger != nil {
		r.Logger.Debug("exec", zap.String("cmd", name), zap.Strings("args", args))
	}
	var stderr Tail
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (r ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Tool binds an Executor to the configured ffmpeg and ffprobe binaries
type Tool struct {
	Exec    Executor
	FFmpeg  string
	FFprobe string
}

// New creates a Tool; a nil exec uses ExecRunner
func New(cfg config.ComposeConfig, exec Executor, logger *zap.Logger) *Tool {
	if exec == nil {
		exec = ExecRunner{Logger: logger}
	}
	return &Tool{Exec: exec, FFmpeg: cfg.FFmpeg, FFprobe: cfg.FFprobe}
}

// Run invokes ffmpeg with args
func (t *Tool) Run(ctx context.Context, args ...string) error {
	return t.Exec.Run(ctx, t.FFmpeg, args...)
}

// Duration uses ffprobe to get a media file's duration in seconds
func (t *Tool) Duration(ctx context.Context, path string) (float64, error) {
	out, err := t.Exec.Output(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	var dur float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur); err != nil {
		return 0, fmt.Errorf("parse duration of %s: %w", path, err)
	}
	return dur, nil
}

// Silence writes a silent mono track of the given length
func (t *Tool) Silence(ctx context.Context, seconds float64, sampleRate int, outFile string) error {
	return t.Run(ctx, "-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", sampleRate),
		"-t", fmt.Sprintf("%.3f", seconds),
		outFile,
	)
}

// Tail keeps the last Max bytes written to it (2KB when Max is 0).
// It is used as a command's Stderr so errors can quote ffmpeg's last words.
type Tail struct {
	Max int

	mu  sync.Mutex
	buf []byte
}

func (t *Tail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	limit := t.Max
	if limit <= 0 {
		limit = 2048
	}
	t.buf = append(t.buf, b...)
	if len(t.buf) > limit {
		t.buf = t.buf[len(t.buf)-limit:]
	}
	return len(b), nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
