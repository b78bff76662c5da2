package review

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"demo-reel-pipeline/types"
)

// ReportBeat summarizes one beat for reviewers
type ReportBeat struct {
	Segment     string   `json:"segment"`
	Stem        string   `json:"stem"`
	Order       int      `json:"order"`
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Attempts    int      `json:"attempts"`
	BeatFile    string   `json:"beat_file,omitempty"`
	DurationSec float64  `json:"duration_sec"`
	Capture     string   `json:"capture,omitempty"`
	Degraded    bool     `json:"degraded"`
	Narrator    string   `json:"narrator,omitempty"`
	Issues      []string `json:"issues,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Report is the run summary served by the review server
type Report struct {
	Title       string       `json:"title"`
	RunID       string       `json:"run_id"`
	GeneratedAt string       `json:"generated_at"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	TotalSec    float64      `json:"total_sec"`
	RoughCut    string       `json:"rough_cut,omitempty"`
	Beats       []ReportBeat `json:"beats"`
}

// BuildReport summarizes beat results in the given order
func BuildReport(title, runID string, beats []*types.BeatResult, roughCut string) *Report {
	r := &Report{
		Title:       title,
		RunID:       runID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		RoughCut:    roughCut,
		Beats:       []ReportBeat{},
	}
	for _, b := range beats {
		rb := ReportBeat{
			Segment:     b.Segment,
			Stem:        b.Stem,
			Order:       b.Order,
			Passed:      b.Passed,
			Score:       b.Score,
			Attempts:    len(b.Attempts),
			BeatFile:    b.BeatFile,
			DurationSec: b.DurationSec,
			Error:       b.Error,
		}
		if best := b.Best(); best != nil {
			if best.Capture != nil {
				rb.Capture = string(best.Capture.Kind)
				rb.Degraded = best.Capture.Degraded
			}
			if best.Verdict != nil {
				rb.Issues = best.Verdict.Issues
			}
		}
		if b.Narration != nil {
			rb.Narrator = b.Narration.Provider
		}
		if b.Passed {
			r.Passed++
		} else {
			r.Failed++
		}
		if b.BeatFile != "" {
			r.TotalSec += b.DurationSec
		}
		r.Beats = append(r.Beats, rb)
	}
	return r
}

// Write saves the report as JSON
func (r *Report) Write(path string) error {
	return WriteJSON(path, r)
}

// LoadReport reads a report written by Write
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}
