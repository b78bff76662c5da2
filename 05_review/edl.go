package review

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"demo-reel-pipeline/types"
)

// WriteEDL writes a CMX3600 edit decision list with one event per beat, laid end to end.
// Resolve and Premiere import it to rebuild the rough cut from the beat files.
func WriteEDL(title string, beats []*types.BeatResult, fps int, path string) error {
	if fps <= 0 {
		fps = 30
	}
	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	b.WriteString("FCM: NON-DROP FRAME\n\n")

	event := 0
	var record int64
	for _, beat := range beats {
		if beat.BeatFile == "" || beat.DurationSec <= 0 {
			continue
		}
		event++
		frames := int64(math.Round(beat.DurationSec * float64(fps)))
		reel := reelName(event)
		fmt.Fprintf(&b, "%03d  %-8s V     C        %s %s %s %s\n",
			event, reel,
			timecode(0, fps), timecode(frames, fps),
			timecode(record, fps), timecode(record+frames, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME: %s\n", filepath.Base(beat.BeatFile))
		fmt.Fprintf(&b, "* COMMENT: %s score %.1f\n\n", beat.Segment, beat.Score)
		record += frames
	}
	if event == 0 {
		return fmt.Errorf("no beats with media to put on the timeline")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func reelName(event int) string {
	return fmt.Sprintf("BEAT%03d", event)
}

// timecode formats a frame count as HH:MM:SS:FF
func timecode(frames int64, fps int) string {
	f := int64(fps)
	hh := frames / (3600 * f)
	mm := frames / (60 * f) % 60
	ss := frames / f % 60
	ff := frames % f
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hh, mm, ss, ff)
}
