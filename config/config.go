package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"demo-reel-pipeline/types"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	Narration NarrationConfig `yaml:"narration"`
	Compose   ComposeConfig   `yaml:"compose"`
	Subtitles SubtitlesConfig `yaml:"subtitles"`
	Critic    CriticConfig    `yaml:"critic"`
	Review    ReviewConfig    `yaml:"review"`
	Upload    UploadConfig    `yaml:"upload"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Paths     PathsConfig     `yaml:"paths"`
	Segments  []types.Segment `yaml:"segments"`
}

type BrowserConfig struct {
	Headless       bool     `yaml:"headless"`
	Bin            string   `yaml:"bin"`
	Flags          []string `yaml:"flags"`
	ViewportWidth  int      `yaml:"viewport_width"`
	ViewportHeight int      `yaml:"viewport_height"`
	FrontendURL    string   `yaml:"frontend_url"`
}

type CaptureConfig struct {
	RenderTimeout time.Duration `yaml:"render_timeout"`
	SaveTimeout   time.Duration `yaml:"save_timeout"`
	FPS           int           `yaml:"fps"`
	JPEGQuality   int           `yaml:"jpeg_quality"`

	// DefaultDuration is used for segments that leave duration unset.
	DefaultDuration time.Duration `yaml:"default_duration"`
}

type NarrationConfig struct {
	Providers      []string      `yaml:"providers"` // elevenlabs | say | edge-tts | command
	ElevenBaseURL  string        `yaml:"eleven_base_url"`
	ElevenModel    string        `yaml:"eleven_model"`
	Voice          string        `yaml:"voice"`
	EdgeVoice      string        `yaml:"edge_voice"`
	SayVoice       string        `yaml:"say_voice"`
	Stability      float64       `yaml:"stability"`
	Similarity     float64       `yaml:"similarity_boost"`
	Parallelism    int           `yaml:"parallelism"`
	WordsPerMinute int           `yaml:"words_per_minute"`
	Retries        int           `yaml:"retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	SampleRate     int           `yaml:"sample_rate"`
}

type ComposeConfig struct {
	FFmpeg       string `yaml:"ffmpeg"`
	FFprobe      string `yaml:"ffprobe"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	CRF          int    `yaml:"crf"`
	Preset       string `yaml:"preset"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

type SubtitlesConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Font            string  `yaml:"font"`
	FontSize        int     `yaml:"font_size"`
	Bold            bool    `yaml:"bold"`
	StrokeWidth     float64 `yaml:"stroke_width"`
	MarginBottom    int     `yaml:"margin_bottom"`
	MaxCharsPerLine int     `yaml:"max_chars_per_line"`
}

type CriticConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Threshold   float64       `yaml:"threshold"`
	MaxAttempts int           `yaml:"max_attempts"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type ReviewConfig struct {
	Addr        string `yaml:"addr"`
	ExportEDL   bool   `yaml:"export_edl"`
	TimelineFPS int    `yaml:"timeline_fps"`
	Title       string `yaml:"title"`
}

type UploadConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Visibility      string `yaml:"visibility"`
	CategoryID      string `yaml:"category_id"`
	DefaultLanguage string `yaml:"default_language"`
	Title           string `yaml:"title"`
}

type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

type PathsConfig struct {
	Output         string `yaml:"output"`
	Results        string `yaml:"results"`
	Logs           string `yaml:"logs"`
	NarrationTable string `yaml:"narration_table"`
}

// Load reads config.env/.env and the YAML config, applies defaults and validates
func Load(path string) (*Config, error) {
	// Missing env files are fine: CI passes secrets through the environment.
	_ = godotenv.Load("config.env")
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default set and no segments
func Default() *Config {
	cfg := base()
	cfg.applyDefaults()
	return cfg
}

// base holds the boolean defaults, which YAML can only override when set before decoding
func base() *Config {
	return &Config{
		Browser:   BrowserConfig{Headless: true},
		Subtitles: SubtitlesConfig{Enabled: true, Bold: true},
		Critic:    CriticConfig{Enabled: true},
		Review:    ReviewConfig{ExportEDL: true},
	}
}

func (c *Config) applyDefaults() {
	setInt(&c.Browser.ViewportWidth, 1920)
	setInt(&c.Browser.ViewportHeight, 1080)
	setStr(&c.Browser.FrontendURL, "http://localhost:3000")

	setDur(&c.Capture.RenderTimeout, 10*time.Second)
	setDur(&c.Capture.SaveTimeout, 15*time.Second)
	setDur(&c.Capture.DefaultDuration, 8*time.Second)
	setInt(&c.Capture.FPS, 25)
	setInt(&c.Capture.JPEGQuality, 80)

	if len(c.Narration.Providers) == 0 {
		c.Narration.Providers = []string{"elevenlabs", "say", "edge-tts", "command"}
	}
	setStr(&c.Narration.ElevenBaseURL, "https://api.elevenlabs.io")
	setStr(&c.Narration.ElevenModel, "eleven_multilingual_v2")
	setStr(&c.Narration.EdgeVoice, "en-US-GuyNeural")
	setFloat(&c.Narration.Stability, 0.5)
	setFloat(&c.Narration.Similarity, 0.75)
	setInt(&c.Narration.Parallelism, 2)
	setInt(&c.Narration.WordsPerMinute, 150)
	setInt(&c.Narration.Retries, 3)
	setDur(&c.Narration.RetryBackoff, 2*time.Second)
	setDur(&c.Narration.HTTPTimeout, 60*time.Second)
	setInt(&c.Narration.SampleRate, 44100)

	setStr(&c.Compose.FFmpeg, "ffmpeg")
	setStr(&c.Compose.FFprobe, "ffprobe")
	setInt(&c.Compose.Width, 1920)
	setInt(&c.Compose.Height, 1080)
	setInt(&c.Compose.FPS, 30)
	setInt(&c.Compose.CRF, 22)
	setStr(&c.Compose.Preset, "fast")
	setStr(&c.Compose.AudioBitrate, "192k")

	setStr(&c.Subtitles.Font, "Inter")
	setInt(&c.Subtitles.FontSize, 22)
	setFloat(&c.Subtitles.StrokeWidth, 2)
	setInt(&c.Subtitles.MarginBottom, 40)
	setInt(&c.Subtitles.MaxCharsPerLine, 42)

	setStr(&c.Critic.Model, "gpt-4o-mini")
	setFloat(&c.Critic.Threshold, 7.0)
	setInt(&c.Critic.MaxAttempts, 3)
	setFloat(&c.Critic.Temperature, 0.2)
	setDur(&c.Critic.Timeout, 60*time.Second)

	setStr(&c.Review.Addr, ":8088")
	setInt(&c.Review.TimelineFPS, 30)
	setStr(&c.Review.Title, "Disaster Response Dashboard Demo")

	setStr(&c.Upload.Visibility, "unlisted")
	setStr(&c.Upload.CategoryID, "28")
	setStr(&c.Upload.DefaultLanguage, "en")

	setStr(&c.Paths.Output, "output")
	setStr(&c.Paths.Logs, "logs")
	if c.Paths.Results == "" {
		c.Paths.Results = filepath.Join(c.Paths.Output, "results")
	}

	// Unset orders take the lowest numbers the explicit ones left free, in list order.
	taken := make(map[int]bool, len(c.Segments))
	for _, s := range c.Segments {
		taken[s.Order] = true
	}
	next := 1
	for i := range c.Segments {
		if c.Segments[i].Order == 0 {
			for taken[next] {
				next++
			}
			c.Segments[i].Order = next
			taken[next] = true
		}
		setDur(&c.Segments[i].Duration, c.Capture.DefaultDuration)
	}
	sort.SliceStable(c.Segments, func(i, j int) bool {
		return c.Segments[i].Order < c.Segments[j].Order
	})
}

// Validate checks the invariants every stage relies on
func (c *Config) Validate() error {
	if c.Critic.Threshold < 0 || c.Critic.Threshold > 10 {
		return fmt.Errorf("%w: critic.threshold must be within [0,10], got %.1f", ErrInvalid, c.Critic.Threshold)
	}
	if c.Critic.MaxAttempts < 1 {
		return fmt.Errorf("%w: critic.max_attempts must be at least 1", ErrInvalid)
	}
	seen := make(map[string]bool)
	orders := make(map[int]string)
	for _, seg := range c.Segments {
		if seg.Name == "" {
			return fmt.Errorf("%w: segment #%d has no name", ErrInvalid, seg.Order)
		}
		if seen[seg.Name] {
			return fmt.Errorf("%w: duplicate segment name %q", ErrInvalid, seg.Name)
		}
		seen[seg.Name] = true

		if seg.Order < 1 {
			return fmt.Errorf("%w: segment %q has order %d, want 1 or more", ErrInvalid, seg.Name, seg.Order)
		}
		if other, ok := orders[seg.Order]; ok {
			return fmt.Errorf("%w: segments %q and %q share order %d", ErrInvalid, other, seg.Name, seg.Order)
		}
		orders[seg.Order] = seg.Name

		sources := 0
		for _, s := range []string{seg.HTML, seg.HTMLFile, seg.URL} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 {
			return fmt.Errorf("%w: segment %q needs exactly one of html, html_file, url", ErrInvalid, seg.Name)
		}
		if seg.Duration <= 0 {
			return fmt.Errorf("%w: segment %q has non-positive duration", ErrInvalid, seg.Name)
		}
	}
	return nil
}

// Segment looks up a segment by name
func (c *Config) Segment(name string) (types.Segment, bool) {
	for _, s := range c.Segments {
		if s.Name == name {
			return s, true
		}
	}
	return types.Segment{}, false
}

// Select returns the named segments in configured order, or all of them when names is empty
func (c *Config) Select(names []string) ([]types.Segment, error) {
	if len(names) == 0 {
		return append([]types.Segment(nil), c.Segments...), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.Segment(n); !ok {
			return nil, fmt.Errorf("unknown segment %q", n)
		}
		want[n] = true
	}
	var out []types.Segment
	for _, s := range c.Segments {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}

func setInt(v *int, d int) {
	if *v == 0 {
		*v = d
	}
}

func setStr(v *string, d string) {
	if *v == "" {
		*v = d
	}
}

func setFloat(v *float64, d float64) {
	if *v == 0 {
		*v = d
	}
}

func setDur(v *time.Duration, d time.Duration) {
	if *v == 0 {
		*v = d
	}
}
