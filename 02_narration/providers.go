package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/ffmpeg"
	"demo-reel-pipeline/types"
)

// Provider turns narration text into an audio file at outPath
type Provider interface {
	Name() string
	Available() bool
	Synthesize(ctx context.Context, text, outPath string) error
}

// lookPath is swapped in tests
var lookPath = exec.LookPath

const defaultElevenVoice = "21m00Tcm4TlvDq8ikWAM"

// ElevenLabs calls the ElevenLabs text-to-speech REST API
type ElevenLabs struct {
	APIKey     string
	VoiceID    string
	BaseURL    string
	Model      string
	Stability  float64
	Similarity float64
	httpClient *http.Client
}

// NewElevenLabs reads ELEVEN_API_KEY and ELEVEN_VOICE_ID from the environment
func NewElevenLabs(cfg config.NarrationConfig) *ElevenLabs {
	voice := os.Getenv("ELEVEN_VOICE_ID")
	if voice == "" {
		voice = cfg.Voice
	}
	if voice == "" {
		voice = defaultElevenVoice
	}
	return &ElevenLabs{
		APIKey:     os.Getenv("ELEVEN_API_KEY"),
		VoiceID:    voice,
		BaseURL:    strings.TrimRight(cfg.ElevenBaseURL, "/"),
		Model:      cfg.ElevenModel,
		Stability:  cfg.Stability,
		Similarity: cfg.Similarity,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Available() bool { return e.APIKey != "" }

type elevenRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, outPath string) error {
	body, err := json.Marshal(elevenRequest{
		Text:    text,
		ModelID: e.Model,
		VoiceSettings: voiceSettings{
			Stability:       e.Stability,
			SimilarityBoost: e.Similarity,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.BaseURL, e.VoiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d from ElevenLabs: %s", resp.StatusCode, types.Truncate(string(data), 200))
	}
	// A JSON error body or an empty clip, not speech.
	if len(data) < 1024 {
		return fmt.Errorf("response too small (%d bytes)", len(data))
	}
	return os.WriteFile(outPath, data, 0644)
}

// Say uses the macOS say command, converting its AIFF output with ffmpeg
type Say struct {
	Voice string
	tool  *ffmpeg.Tool
}

func (s *Say) Name() string { return "say" }

func (s *Say) Available() bool {
	_, err := lookPath("say")
	return err == nil
}

func (s *Say) Synthesize(ctx context.Context, text, outPath string) error {
	aiff := strings.TrimSuffix(outPath, ".mp3") + ".aiff"
	defer os.Remove(aiff)

	args := []string{"-o", aiff}
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	args = append(args, text)
	if err := s.tool.Exec.Run(ctx, "say", args...); err != nil {
		return err
	}
	return s.tool.Run(ctx, "-y", "-i", aiff, "-codec:a", "libmp3lame", "-q:a", "2", outPath)
}

// EdgeTTS uses the free Microsoft edge-tts CLI
type EdgeTTS struct {
	Voice string
	exec  ffmpeg.Executor
}

func (e *EdgeTTS) Name() string { return "edge-tts" }

func (e *EdgeTTS) Available() bool {
	_, err := lookPath("edge-tts")
	return err == nil
}

func (e *EdgeTTS) Synthesize(ctx context.Context, text, outPath string) error {
	return e.exec.Run(ctx, "edge-tts",
		"--voice", e.Voice,
		"--text", text,
		"--write-media", outPath,
	)
}

// Command runs TTS_COMMAND with --text and --output; .py scripts go through python3
type Command struct {
	Cmd  string
	exec ffmpeg.Executor
}

func (c *Command) Name() string { return "command" }

func (c *Command) Available() bool { return strings.TrimSpace(c.Cmd) != "" }

func (c *Command) Synthesize(ctx context.Context, text, outPath string) error {
	cmd := strings.TrimSpace(c.Cmd)
	if strings.HasSuffix(cmd, ".py") {
		return c.exec.Run(ctx, "python3", cmd, "--text", text, "--output", outPath)
	}
	return c.exec.Run(ctx, cmd, "--text", text, "--output", outPath)
}

// BuildProviders creates the providers named in cfg, in order
func BuildProviders(cfg config.NarrationConfig, tool *ffmpeg.Tool) ([]Provider, error) {
	var out []Provider
	for _, name := range cfg.Providers {
		switch name {
		case "elevenlabs":
			out = append(out, NewElevenLabs(cfg))
		case "say":
			out = append(out, &Say{Voice: cfg.SayVoice, tool: tool})
		case "edge-tts":
			out = append(out, &EdgeTTS{Voice: cfg.EdgeVoice, exec: tool.Exec})
		case "command":
			out = append(out, &Command{Cmd: os.Getenv("TTS_COMMAND"), exec: tool.Exec})
		default:
			return nil, fmt.Errorf("unknown narration provider %q", name)
		}
	}
	return out, nil
}

func backoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
