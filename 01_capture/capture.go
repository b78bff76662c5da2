package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"go.uber.org/zap"
)

// Browser hands out pages, one at a time
type Browser interface {
	Open(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single browser tab the capture state machine drives
type Page interface {
	// Render sets synthetic HTML or navigates to the live frontend, then waits for the segment's selector.
	Render(ctx context.Context, seg types.Segment) error
	Perform(ctx context.Context, actions []types.Action) error
	StartRecording(ctx context.Context, path string) (Recording, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Recording is an in-flight video capture; Stop finalizes the file on disk
type Recording interface {
	Stop(ctx context.Context) error
}

// Generator captures one segment with the fallback state machine
type Generator struct {
	cfg     *config.Config
	browser Browser
	logger  *zap.Logger
	// BaseDir resolves relative html_file paths; usually the config file's directory.
	BaseDir string
}

// New creates a new capture Generator
func New(cfg *config.Config, browser Browser, logger *zap.Logger) *Generator {
	return &Generator{cfg: cfg, browser: browser, logger: logger.Named("capture")}
}

// Capture renders and records seg into outDir using stem as the file name.
// The result is a .webm video, or a .png still when every video path failed.
func (g *Generator) Capture(ctx context.Context, seg types.Segment, outDir, stem string) (*types.CaptureResult, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}

	seg, err := g.resolveHTML(seg)
	if err != nil {
		return nil, err
	}

	var info SlideInfo
	if !seg.IsLive() {
		info, err = LintSlide(seg.HTML, seg.WaitSelector)
		if err != nil {
			return nil, &types.StageError{Stage: "lint", Segment: seg.Name, Err: err}
		}
		g.logger.Debug("slide lint ok",
			zap.String("segment", seg.Name),
			zap.String("title", info.Title),
			zap.Int("headings", len(info.Headings)),
		)
	}

	page, err := g.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			g.logger.Warn("close page", zap.String("segment", seg.Name), zap.Error(cerr))
		}
	}()

	m := NewMachine(g.cfg.Capture, g.logger)
	videoPath := filepath.Join(outDir, stem+".webm")
	stillPath := filepath.Join(outDir, stem+".png")

	g.logger.Info("capturing",
		zap.String("segment", seg.Name),
		zap.Bool("live", seg.IsLive()),
		zap.Duration("duration", seg.Duration),
	)
	res, err := m.Run(ctx, page, seg, videoPath, stillPath)
	if err != nil {
		return nil, &types.StageError{Stage: "capture", Segment: seg.Name, Err: err}
	}
	res.Headings = info.Headings
	g.logger.Info("capture ready",
		zap.String("segment", seg.Name),
		zap.String("kind", string(res.Kind)),
		zap.Bool("degraded", res.Degraded),
		zap.String("path", res.Path),
	)
	return res, nil
}

// resolveHTML loads html_file into HTML so pages only ever see inline content or a URL.
// URLs starting with "/" are taken relative to the frontend.
func (g *Generator) resolveHTML(seg types.Segment) (types.Segment, error) {
	if strings.HasPrefix(seg.URL, "/") {
		seg.URL = strings.TrimRight(g.cfg.Browser.FrontendURL, "/") + seg.URL
	}
	if seg.HTMLFile == "" || seg.HTML != "" {
		return seg, nil
	}
	path := seg.HTMLFile
	if !filepath.IsAbs(path) && g.BaseDir != "" {
		path = filepath.Join(g.BaseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return seg, fmt.Errorf("read html_file for %q: %w", seg.Name, err)
	}
	seg.HTML = string(data)
	return seg, nil
}
