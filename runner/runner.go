// Package runner drives one beat through capture, mux and critique, retrying until the critic is satisfied.
package runner

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"demo-reel-pipeline/04_critic"
	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Capturer interface {
	Capture(ctx context.Context, seg types.Segment, outDir, stem string) (*types.CaptureResult, error)
}

type Narrator interface {
	Generate(ctx context.Context, seg types.Segment, outDir string) (*types.Narration, error)
}

type Composer interface {
	Normalize(ctx context.Context, capture *types.CaptureResult, seconds float64, out string) error
	Mux(ctx context.Context, video, audio, out string) error
	Probe(ctx context.Context, path string) (float64, error)
}

type Store interface {
	Save(r *types.BeatResult) error
	Load(stem string) (*types.BeatResult, error)
}

// Runner runs beats one at a time
type Runner struct {
	maxAttempts int
	capture     Capturer
	narrate     Narrator
	compose     Composer
	critic      critic.Critic
	store       Store
	logger      *zap.Logger
	now         func() time.Time
}

func New(cfg *config.Config, c Capturer, n Narrator, comp Composer, cr critic.Critic, s Store, logger *zap.Logger) *Runner {
	return &Runner{
		maxAttempts: max(cfg.Critic.MaxAttempts, 1),
		capture:     c,
		narrate:     n,
		compose:     comp,
		critic:      cr,
		store:       s,
		logger:      logger.Named("runner"),
		now:         time.Now,
	}
}

// attempt is the working state of one try; only the record is persisted
type attempt struct {
	record  types.Attempt
	beatSec float64
}

// RunBeat records seg into outDir/<stem>.mp4 and saves its result.
// narration may be nil, in which case it is generated first. The result is
// always returned; its Error field explains a beat that produced nothing.
// A result without a beat file is only saved when no earlier result has one.
func (r *Runner) RunBeat(ctx context.Context, seg types.Segment, outDir string, narration *types.Narration) *types.BeatResult {
	stem := types.FileStem(seg)
	log := r.logger.With(zap.String("segment", seg.Name))
	res := &types.BeatResult{
		Segment:   seg.Name,
		Stem:      stem,
		Order:     seg.Order,
		StartedAt: r.now().UTC().Format(time.RFC3339),
		Attempts:  []types.Attempt{},
	}
	defer func() {
		res.CompletedAt = r.now().UTC().Format(time.RFC3339)
		if res.BeatFile == "" {
			// A run that produced nothing must not hide a beat an earlier run left on disk.
			if prev, err := r.store.Load(stem); err == nil && prev.BeatFile != "" {
				log.Warn("no new beat, keeping previous result",
					zap.String("beat_file", prev.BeatFile),
					zap.String("error", res.Error),
				)
				return
			}
		}
		if err := r.store.Save(res); err != nil {
			log.Error("save result", zap.Error(err))
		}
	}()

	if narration == nil {
		n, err := r.narrate.Generate(ctx, seg, outDir)
		if err != nil {
			res.Error = err.Error()
			log.Error("narration failed", zap.Error(err))
			return res
		}
		narration = n
	}
	res.Narration = narration

	var tries []*attempt
	for n := 1; n <= r.maxAttempts; n++ {
		if ctx.Err() != nil {
			break
		}
		a := r.runAttempt(ctx, seg, outDir, narration, n)
		tries = append(tries, a)
		res.Attempts = append(res.Attempts, a.record)

		v := a.record.Verdict
		log.Info("attempt finished",
			zap.Int("attempt", n),
			zap.Float64("score", a.record.Score()),
			zap.Bool("pass", v != nil && v.Pass),
			zap.String("error", a.record.Error),
		)
		if v != nil && v.Pass {
			break
		}
	}

	best := pickBest(tries)
	if best == nil {
		discard(tries, nil)
		res.Error = lastError(ctx, tries)
		log.Error("no usable attempt", zap.String("error", res.Error))
		return res
	}

	if err := r.promote(best, tries, outDir, stem); err != nil {
		res.Error = fmt.Sprintf("promote attempt %d: %v", best.record.Number, err)
		log.Error("promote failed", zap.Error(err))
		return res
	}
	// promote rewrote the best record's paths
	for i := range res.Attempts {
		if res.Attempts[i].Number == best.record.Number {
			res.Attempts[i] = best.record
		}
	}

	res.BestAttempt = best.record.Number
	res.BeatFile = best.record.BeatFile
	res.DurationSec = best.beatSec
	res.Score = best.record.Score()
	res.Passed = best.record.Verdict != nil && best.record.Verdict.Pass
	if !res.Passed {
		log.Warn("beat kept below threshold", zap.Int("attempt", best.record.Number), zap.Float64("score", res.Score))
	}
	return res
}

// runAttempt runs one capture → normalize → mux → critic round
func (r *Runner) runAttempt(ctx context.Context, seg types.Segment, outDir string, narration *types.Narration, n int) *attempt {
	log := r.logger.With(zap.String("segment", seg.Name), zap.Int("attempt", n))
	a := &attempt{record: types.Attempt{ID: uuid.New().String()[:8], Number: n}}
	prefix := fmt.Sprintf("%s.attempt%d", types.FileStem(seg), n)

	shot, err := r.capture.Capture(ctx, seg, outDir, prefix)
	if err != nil {
		a.record.Error = err.Error()
		return a
	}
	a.record.Capture = shot

	seconds := math.Max(narration.DurationSec, seg.Duration.Seconds())
	video := filepath.Join(outDir, prefix+".video.mp4")
	beat := filepath.Join(outDir, prefix+".mp4")
	defer os.Remove(video)

	if err := r.compose.Normalize(ctx, shot, seconds, video); err != nil {
		a.record.Error = err.Error()
		return a
	}
	if err := r.compose.Mux(ctx, video, narration.Path, beat); err != nil {
		os.Remove(beat)
		a.record.Error = err.Error()
		return a
	}
	a.record.BeatFile = beat

	a.beatSec = seconds
	if d, err := r.compose.Probe(ctx, beat); err == nil && d > 0 {
		a.beatSec = d
	} else {
		log.Debug("probe failed, using target length", zap.Error(err))
	}

	var size int64
	if info, err := os.Stat(beat); err == nil {
		size = info.Size()
	}
	verdict, err := r.critic.Score(ctx, critic.Description{
		Segment:       seg.Name,
		Title:         seg.Title,
		Narration:     narration.Text,
		ExpectedSec:   seconds,
		CaptureKind:   string(shot.Kind),
		Degraded:      shot.Degraded,
		Reason:        shot.Reason,
		BeatFile:      filepath.Base(beat),
		BeatSec:       a.beatSec,
		FileBytes:     size,
		SilentAudio:   narration.Silent,
		SlideHeadings: shot.Headings,
	})
	if err != nil {
		// No verdict counts as a zero score.
		log.Warn("critic failed", zap.Error(err))
		a.record.Error = "critic: " + err.Error()
		return a
	}
	a.record.Verdict = &verdict
	return a
}

// pickBest returns the highest scoring attempt that produced a beat file; ties go to the earliest
func pickBest(tries []*attempt) *attempt {
	var best *attempt
	for _, a := range tries {
		if a.record.BeatFile == "" {
			continue
		}
		if best == nil || a.record.Score() > best.record.Score() {
			best = a
		}
	}
	return best
}

// promote renames the best attempt's files to the final names and removes the other attempts
func (r *Runner) promote(best *attempt, tries []*attempt, outDir, stem string) error {
	final := filepath.Join(outDir, stem+".mp4")
	if err := os.Rename(best.record.BeatFile, final); err != nil {
		return err
	}
	best.record.BeatFile = final

	if c := best.record.Capture; c != nil {
		raw := filepath.Join(outDir, stem+filepath.Ext(c.Path))
		if err := os.Rename(c.Path, raw); err != nil {
			r.logger.Warn("keep raw capture", zap.String("path", c.Path), zap.Error(err))
		} else {
			promoted := *c
			promoted.Path = raw
			best.record.Capture = &promoted
		}
		// Drop a capture of the other kind left by an earlier run.
		other := ".png"
		if filepath.Ext(raw) == ".png" {
			other = ".webm"
		}
		os.Remove(filepath.Join(outDir, stem+other))
	}

	discard(tries, best)
	return nil
}

// discard removes the files of every attempt except keep
func discard(tries []*attempt, keep *attempt) {
	for _, a := range tries {
		if a == keep {
			continue
		}
		if a.record.BeatFile != "" {
			os.Remove(a.record.BeatFile)
		}
		if a.record.Capture != nil {
			os.Remove(a.record.Capture.Path)
		}
	}
}

func lastError(ctx context.Context, tries []*attempt) string {
	if err := ctx.Err(); err != nil && len(tries) == 0 {
		return err.Error()
	}
	var msgs []string
	for _, a := range tries {
		if a.record.Error != "" {
			msgs = append(msgs, fmt.Sprintf("attempt %d: %s", a.record.Number, a.record.Error))
		}
	}
	if len(msgs) == 0 {
		return "no attempt produced a beat file"
	}
	return strings.Join(msgs, "; ")
}
