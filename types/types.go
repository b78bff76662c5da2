package types

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Action is one scripted interaction played while a beat is recording
type Action struct {
	Kind     string        `yaml:"kind" json:"kind"` // click | scroll | wait | type
	Selector string        `yaml:"selector" json:"selector,omitempty"`
	Value    string        `yaml:"value" json:"value,omitempty"`
	Delay    time.Duration `yaml:"delay" json:"delay,omitempty"`
}

// Segment is one named beat of the demo video
type Segment struct {
	Name         string        `yaml:"name" json:"name"`
	Title        string        `yaml:"title" json:"title"`
	Order        int           `yaml:"order" json:"order"`
	HTML         string        `yaml:"html" json:"-"`
	HTMLFile     string        `yaml:"html_file" json:"html_file,omitempty"`
	URL          string        `yaml:"url" json:"url,omitempty"`
	WaitSelector string        `yaml:"wait_selector" json:"wait_selector,omitempty"`
	Duration     time.Duration `yaml:"duration" json:"duration"`
	Narration    string        `yaml:"narration" json:"narration,omitempty"`
	Actions      []Action      `yaml:"actions" json:"actions,omitempty"`
}

// IsLive reports whether the segment navigates to a running frontend instead of synthetic HTML
func (s Segment) IsLive() bool {
	return s.URL != ""
}

// FileStem returns the on-disk naming convention for a segment, e.g. "01_personal_intro"
func FileStem(s Segment) string {
	return fmt.Sprintf("%02d_%s", s.Order, snake(s.Name))
}

func snake(name string) string {
	var sb strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			sb.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

// Clip cuts s to at most n runes
func Clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Truncate clips s to n runes and marks the cut with "..."
func Truncate(s string, n int) string {
	if c := Clip(s, n); len(c) < len(s) {
		return c + "..."
	}
	return s
}

// CaptureKind tells whether a capture is a recorded video or a screenshot fallback
type CaptureKind string

const (
	CaptureVideo CaptureKind = "video"
	CaptureStill CaptureKind = "still"
)

// CaptureResult is the output of one capture-with-fallback run
type CaptureResult struct {
	Segment   string        `json:"segment"`
	Kind      CaptureKind   `json:"kind"`
	Path      string        `json:"path"`
	Degraded  bool          `json:"degraded"`
	Reason    string        `json:"reason,omitempty"`
	Trace     []string      `json:"trace,omitempty"`
	Headings  []string      `json:"headings,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Narration is the generated voice-over for one segment
type Narration struct {
	Segment     string  `json:"segment"`
	Text        string  `json:"text"`
	Path        string  `json:"path"`
	Provider    string  `json:"provider"`
	DurationSec float64 `json:"duration_sec"`
	Silent      bool    `json:"silent"`
}

// Verdict is what a critic decided about one beat
type Verdict struct {
	Score  float64  `json:"score"`
	Pass   bool     `json:"pass"`
	Issues []string `json:"issues,omitempty"`
	Fixes  []string `json:"fixes,omitempty"`
	Critic string   `json:"critic"`
}

// Attempt is one capture → mux → critic round for a beat
type Attempt struct {
	ID       string         `json:"id"`
	Number   int            `json:"number"`
	Capture  *CaptureResult `json:"capture,omitempty"`
	BeatFile string         `json:"beat_file,omitempty"`
	Verdict  *Verdict       `json:"verdict,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Score returns the attempt's critic score, 0 when it never got a verdict
func (a Attempt) Score() float64 {
	if a.Verdict == nil {
		return 0
	}
	return a.Verdict.Score
}

// BeatResult is persisted as the per-segment JSON result file
type BeatResult struct {
	Segment     string     `json:"segment"`
	Stem        string     `json:"stem"`
	Order       int        `json:"order"`
	Passed      bool       `json:"passed"`
	Score       float64    `json:"score"`
	Attempts    []Attempt  `json:"attempts"`
	BestAttempt int        `json:"best_attempt,omitempty"`
	BeatFile    string     `json:"beat_file,omitempty"`
	DurationSec float64    `json:"duration_sec"`
	Narration   *Narration `json:"narration,omitempty"`
	StartedAt   string     `json:"started_at"`
	CompletedAt string     `json:"completed_at"`
	Error       string     `json:"error,omitempty"`
}

// Best returns the promoted attempt, if any
func (r BeatResult) Best() *Attempt {
	for i := range r.Attempts {
		if r.Attempts[i].Number == r.BestAttempt {
			return &r.Attempts[i]
		}
	}
	return nil
}

// PipelineState tracks the full state of one pipeline run
type PipelineState struct {
	RunID        string       `json:"run_id"`
	StartedAt    string       `json:"started_at"`
	CompletedAt  string       `json:"completed_at"`
	Beats        []BeatResult `json:"beats"`
	RoughCut     string       `json:"rough_cut"`
	SubtitledCut string       `json:"subtitled_cut,omitempty"`
	Timeline     string       `json:"timeline,omitempty"`
	Report       string       `json:"report,omitempty"`
	YouTubeURL   string       `json:"youtube_url,omitempty"`
	YouTubeID    string       `json:"youtube_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// StageError records which stage failed for which segment
type StageError struct {
	Stage   string
	Segment string
	Err     error
}

func (e *StageError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Segment, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
