package compose

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Cue is one subtitle entry
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Part is one beat's narration placed on the rough-cut timeline
type Part struct {
	Text     string
	Offset   float64 // seconds from the start of the cut
	Length   float64 // beat length
	Narrated float64 // narration length, capped at Length
}

// BuildCues splits each part's narration into two-line cues and spreads them over its narrated span by character count
func BuildCues(parts []Part, maxChars int) []Cue {
	var cues []Cue
	for _, p := range parts {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		span := p.Narrated
		if span <= 0 || span > p.Length {
			span = p.Length
		}
		if span <= 0 {
			continue
		}

		chunks := chunk(wrap(text, maxChars), 2)
		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		at := p.Offset
		for _, c := range chunks {
			d := span * float64(len(c)) / float64(total)
			cues = append(cues, Cue{
				Index: len(cues) + 1,
				Start: seconds(at),
				End:   seconds(at + d),
				Text:  c,
			})
			at += d
		}
	}
	return cues
}

// WriteSRT writes cues as an SRT file
func WriteSRT(cues []Cue, path string) error {
	if len(cues) == 0 {
		return fmt.Errorf("no subtitle cues")
	}
	var b strings.Builder
	for _, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", c.Index, srtTime(c.Start), srtTime(c.End), c.Text)
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// BurnSubtitles renders the SRT into the video with the configured styling
func (c *Compositor) BurnSubtitles(ctx context.Context, video, srt, out string) error {
	filter := fmt.Sprintf(
		"subtitles=%s:force_style='FontName=%s,FontSize=%d,Bold=%d,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=%.0f,Alignment=2,MarginV=%d'",
		escapeSubtitlePath(srt),
		c.subs.Font,
		c.subs.FontSize,
		boolToInt(c.subs.Bold),
		c.subs.StrokeWidth,
		c.subs.MarginBottom,
	)
	err := c.tool.Run(ctx, "-y",
		"-i", video,
		"-vf", filter,
		"-c:v", "libx264",
		"-preset", c.cfg.Preset,
		"-crf", fmt.Sprintf("%d", c.cfg.CRF),
		"-c:a", "copy",
		out,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg subtitle burn: %w", err)
	}
	return nil
}

// ValidateSRT checks that the SRT file is non-empty and has at least one full cue
func ValidateSRT(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines, arrows := 0, 0
	for scanner.Scan() {
		lines++
		if strings.Contains(scanner.Text(), " --> ") {
			arrows++
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if lines < 3 || arrows == 0 {
		return fmt.Errorf("SRT file appears empty or malformed (%d lines)", lines)
	}
	return nil
}

// wrap breaks text into lines of at most width characters on word boundaries
func wrap(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	var lines []string
	var cur string
	for _, w := range strings.Fields(text) {
		switch {
		case cur == "":
			cur = w
		case len(cur)+1+len(w) <= width:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func chunk(lines []string, n int) []string {
	var out []string
	for i := 0; i < len(lines); i += n {
		end := min(i+n, len(lines))
		out = append(out, strings.Join(lines[i:end], "\n"))
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}

func srtTime(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func escapeSubtitlePath(path string) string {
	// The subtitles filter needs forward slashes and escaped colons
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	return path
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
