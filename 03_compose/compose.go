package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/ffmpeg"
	"demo-reel-pipeline/types"

	"go.uber.org/zap"
)

// ErrNoInputs is returned by Concat when there is nothing to join
var ErrNoInputs = errors.New("no input files to concatenate")

// Compositor turns captures and narration into normalized beat files and the rough cut
type Compositor struct {
	cfg    config.ComposeConfig
	subs   config.SubtitlesConfig
	tool   *ffmpeg.Tool
	logger *zap.Logger
}

// New creates a new Compositor
func New(cfg *config.Config, tool *ffmpeg.Tool, logger *zap.Logger) *Compositor {
	return &Compositor{
		cfg:    cfg.Compose,
		subs:   cfg.Subtitles,
		tool:   tool,
		logger: logger.Named("compose"),
	}
}

// Probe returns a media file's duration in seconds
func (c *Compositor) Probe(ctx context.Context, path string) (float64, error) {
	return c.tool.Duration(ctx, path)
}

func (c *Compositor) scalePad() string {
	w, h := c.cfg.Width, c.cfg.Height
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1", w, h, w, h)
}

func (c *Compositor) encodeArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", c.cfg.Preset,
		"-crf", fmt.Sprintf("%d", c.cfg.CRF),
		"-pix_fmt", "yuv420p",
	}
}

// Normalize converts a capture to an h264 mp4 of exactly seconds length.
// Videos shorter than that hold their last frame; stills are looped.
func (c *Compositor) Normalize(ctx context.Context, capture *types.CaptureResult, seconds float64, out string) error {
	if capture == nil || capture.Path == "" {
		return fmt.Errorf("normalize: no capture")
	}
	dur := fmt.Sprintf("%.3f", seconds)

	var args []string
	switch capture.Kind {
	case types.CaptureStill:
		args = []string{"-y",
			"-loop", "1",
			"-i", capture.Path,
			"-t", dur,
			"-vf", c.scalePad(),
			"-r", fmt.Sprintf("%d", c.cfg.FPS),
		}
	default:
		vf := fmt.Sprintf("%s,fps=%d,tpad=stop_mode=clone:stop_duration=%s", c.scalePad(), c.cfg.FPS, dur)
		args = []string{"-y",
			"-i", capture.Path,
			"-vf", vf,
			"-t", dur,
		}
	}
	args = append(args, c.encodeArgs()...)
	args = append(args, "-an", out)

	if err := c.tool.Run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg normalize %s: %w", filepath.Base(capture.Path), err)
	}
	return nil
}

// Mux combines a normalized video with narration audio; the video length wins
func (c *Compositor) Mux(ctx context.Context, video, audio, out string) error {
	err := c.tool.Run(ctx, "-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", c.cfg.AudioBitrate,
		"-af", "apad",
		"-shortest",
		"-movflags", "+faststart",
		out,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg mux: %w", err)
	}
	return nil
}

// ConcatResult describes the rough cut Concat produced
type ConcatResult struct {
	Path     string
	Inputs   int
	Degraded bool
	Reason   string
}

// Concat joins files in order with the concat demuxer.
// If ffmpeg fails the first input is copied to out and the result is marked degraded when others were dropped.
func (c *Compositor) Concat(ctx context.Context, files []string, out string) (*ConcatResult, error) {
	if len(files) == 0 {
		return nil, ErrNoInputs
	}
	res := &ConcatResult{Path: out, Inputs: len(files)}

	listFile := strings.TrimSuffix(out, filepath.Ext(out)) + "_concat.txt"
	if err := writeConcatList(listFile, files); err != nil {
		return nil, err
	}
	defer os.Remove(listFile)

	args := []string{"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}
	args = append(args, c.encodeArgs()...)
	args = append(args,
		"-c:a", "aac",
		"-b:a", c.cfg.AudioBitrate,
		"-movflags", "+faststart",
		out,
	)

	err := c.tool.Run(ctx, args...)
	if err == nil {
		c.logger.Info("rough cut ready", zap.String("path", out), zap.Int("beats", len(files)))
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.logger.Warn("concat failed, copying first beat", zap.Error(err))
	if cerr := CopyFile(files[0], out); cerr != nil {
		return nil, fmt.Errorf("ffmpeg concat: %w; copy fallback: %v", err, cerr)
	}
	if len(files) > 1 {
		res.Degraded = true
		res.Reason = fmt.Sprintf("concat failed, kept 1 of %d beats: %v", len(files), err)
	}
	return res, nil
}

func writeConcatList(path string, files []string) error {
	var lines []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("file '%s'", strings.ReplaceAll(abs, "'", `'\''`)))
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// CopyFile copies src to dst, replacing dst
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
