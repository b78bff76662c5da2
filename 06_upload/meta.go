package upload

import (
	"fmt"
	"strings"

	"demo-reel-pipeline/05_review"
	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"
)

// Meta is the YouTube metadata for the rough cut
type Meta struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CategoryID  string   `json:"category_id"`
	Visibility  string   `json:"visibility"`
}

var baseTags = []string{"demo", "disaster response", "dashboard", "emergency management", "product walkthrough"}

// BuildMeta derives upload metadata from the run report.
// The description carries YouTube chapter markers for each beat on the cut.
func BuildMeta(cfg *config.Config, report *review.Report) *Meta {
	title := cfg.Upload.Title
	if title == "" {
		title = cfg.Review.Title
	}
	title = types.Clip(title, 100)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", cfg.Review.Title)
	b.WriteString("Chapters:\n")
	var at float64
	for _, beat := range report.Beats {
		if beat.BeatFile == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", chapterTime(at), beat.Segment)
		at += beat.DurationSec
	}
	fmt.Fprintf(&b, "\nRun %s: %d/%d beats passed review.\n", report.RunID, report.Passed, report.Passed+report.Failed)

	return &Meta{
		Title:       title,
		Description: b.String(),
		Tags:        append([]string(nil), baseTags...),
		CategoryID:  cfg.Upload.CategoryID,
		Visibility:  cfg.Upload.Visibility,
	}
}

// chapterTime formats seconds as m:ss or h:mm:ss
func chapterTime(sec float64) string {
	s := int(sec)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
