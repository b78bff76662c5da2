package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RodBrowser launches (or connects to) Chrome through go-rod
type RodBrowser struct {
	cfg     config.BrowserConfig
	capture config.CaptureConfig
	ffmpeg  string
	logger  *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodBrowser creates a browser that starts lazily on the first Open
func NewRodBrowser(cfg *config.Config, logger *zap.Logger) *RodBrowser {
	return &RodBrowser{
		cfg:     cfg.Browser,
		capture: cfg.Capture,
		ffmpeg:  cfg.Compose.FFmpeg,
		logger:  logger.Named("browser"),
	}
}

func (b *RodBrowser) start(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return b.browser, nil
		}
		b.logger.Warn("stale browser connection, relaunching")
		_ = b.browser.Close()
		b.browser = nil
	}

	l := launcher.New().Headless(b.cfg.Headless)
	if b.cfg.Bin != "" {
		l = l.Bin(b.cfg.Bin)
	}
	for _, raw := range b.cfg.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.logger.Info("browser connected", zap.Bool("headless", b.cfg.Headless))
	b.browser = browser
	return browser, nil
}

// Open creates a fresh page with the configured viewport
func (b *RodBrowser) Open(ctx context.Context) (Page, error) {
	browser, err := b.start(ctx)
	if err != nil {
		return nil, err
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}); err != nil {
		b.logger.Warn("failed to set viewport", zap.Error(err))
	}
	return &rodPage{
		page:    page,
		width:   b.cfg.ViewportWidth,
		height:  b.cfg.ViewportHeight,
		fps:     b.capture.FPS,
		quality: b.capture.JPEGQuality,
		ffmpeg:  b.ffmpeg,
		logger:  b.logger,
	}, nil
}

// Close shuts the browser down
func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

type rodPage struct {
	page    *rod.Page
	width   int
	height  int
	fps     int
	quality int
	ffmpeg  string
	logger  *zap.Logger
}

func (p *rodPage) Render(ctx context.Context, seg types.Segment) error {
	page := p.page.Context(ctx)
	if seg.IsLive() {
		if err := page.Navigate(seg.URL); err != nil {
			return fmt.Errorf("navigate %s: %w", seg.URL, err)
		}
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("wait load: %w", err)
		}
	} else if err := page.SetDocumentContent(seg.HTML); err != nil {
		return fmt.Errorf("set content: %w", err)
	}

	if seg.WaitSelector != "" {
		if _, err := page.Element(seg.WaitSelector); err != nil {
			return fmt.Errorf("wait for %q: %w", seg.WaitSelector, err)
		}
	}
	return nil
}

func (p *rodPage) Perform(ctx context.Context, actions []types.Action) error {
	page := p.page.Context(ctx)
	var errs []error
	for i, a := range actions {
		if err := p.perform(ctx, page, a); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("action %d (%s): %w", i, a.Kind, err))
		}
		if err := sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (p *rodPage) perform(ctx context.Context, page *rod.Page, a types.Action) error {
	switch a.Kind {
	case "click":
		el, err := page.Element(a.Selector)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	case "type":
		el, err := page.Element(a.Selector)
		if err != nil {
			return err
		}
		return el.Input(a.Value)
	case "scroll":
		if a.Selector != "" {
			el, err := page.Element(a.Selector)
			if err != nil {
				return err
			}
			return el.ScrollIntoView()
		}
		dy, err := strconv.ParseFloat(a.Value, 64)
		if err != nil {
			return fmt.Errorf("scroll offset %q: %w", a.Value, err)
		}
		return page.Mouse.Scroll(0, dy, 10)
	case "wait":
		// The delay after every action does the waiting.
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (p *rodPage) StartRecording(ctx context.Context, path string) (Recording, error) {
	rec, err := startScreencast(ctx, p, path)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *rodPage) Screenshot(ctx context.Context, path string) error {
	data, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
