package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"demo-reel-pipeline/01_capture"
	"demo-reel-pipeline/02_narration"
	"demo-reel-pipeline/05_review"
	"demo-reel-pipeline/06_upload"
	"demo-reel-pipeline/config"
	"demo-reel-pipeline/ffmpeg"
	"demo-reel-pipeline/logging"
	"demo-reel-pipeline/types"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errFailed means the command ran but some beats or checks did not pass
var errFailed = errors.New("pipeline finished with failures")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "demo-reel",
		Short:        "Record, narrate and review a dashboard demo video beat by beat",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(a.verbose)
			if err != nil {
				return err
			}
			a.logger = logger
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				logger.Error("failed to load config", zap.String("path", a.configPath), zap.Error(err))
				return err
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to the pipeline config")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		a.runCmd(),
		a.captureCmd(),
		a.narrateCmd(),
		a.stitchCmd(),
		a.verifyCmd(),
		a.checkCmd(),
		a.serveCmd(),
		a.uploadCmd(),
		a.scheduleCmd(),
	)
	return cmd
}

func (a *app) pipeline() (*Pipeline, error) {
	return NewPipeline(a.cfg, filepath.Dir(a.configPath), a.logger)
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [segment...]",
		Short: "Run the whole pipeline, or only the named segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			segs, err := a.cfg.Select(args)
			if err != nil {
				return err
			}
			return a.runOnce(cmd.Context(), segs)
		},
	}
}

func (a *app) runOnce(ctx context.Context, segs []types.Segment) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	state, err := p.Run(ctx, segs)
	if err != nil {
		return err
	}
	if failed := Failed(state); len(failed) > 0 {
		a.logger.Error("beats below threshold", zap.Strings("segments", failed))
		return errFailed
	}
	return nil
}

func (a *app) captureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture <segment>",
		Short: "Capture one segment without narration or review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seg, ok := a.cfg.Segment(args[0])
			if !ok {
				return fmt.Errorf("unknown segment %q", args[0])
			}
			browser := capture.NewRodBrowser(a.cfg, a.logger)
			defer browser.Close()
			g := capture.New(a.cfg, browser, a.logger)
			g.BaseDir = filepath.Dir(a.configPath)

			res, err := g.Capture(cmd.Context(), seg, a.cfg.Paths.Output, types.FileStem(seg))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (a *app) narrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "narrate [segment...]",
		Short: "Generate narration tracks only",
		RunE: func(cmd *cobra.Command, args []string) error {
			segs, err := a.cfg.Select(args)
			if err != nil {
				return err
			}
			table, err := narration.LoadTable(a.cfg.Paths.NarrationTable)
			if err != nil {
				return err
			}
			g, err := narration.New(a.cfg, ffmpeg.New(a.cfg.Compose, nil, a.logger), table, a.logger)
			if err != nil {
				return err
			}
			out, err := g.GenerateAll(cmd.Context(), segs, filepath.Join(a.cfg.Paths.Output, "narration"))
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func (a *app) stitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stitch",
		Short: "Rebuild the rough cut, timeline and report from saved beats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			defer p.Close()
			state, err := p.Stitch(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.Info("stitched", zap.String("rough_cut", state.RoughCut), zap.String("report", state.Report))
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every segment has a beat file and a complete result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			problems := review.Verify(a.cfg.Paths.Output, a.cfg.Paths.Results, a.cfg.Segments)
			return a.reportProblems(cmd, "verify", problems)
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Smoke-test that live segments load on the frontend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: timeout}
			problems := review.CheckFrontend(cmd.Context(), client, a.cfg.Browser.FrontendURL, a.cfg.Segments)
			return a.reportProblems(cmd, "check", problems)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-page request timeout")
	return cmd
}

func (a *app) reportProblems(cmd *cobra.Command, name string, problems []string) error {
	if len(problems) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d segments)\n", name, len(a.cfg.Segments))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d problem(s)\n  %s\n", name, len(problems), strings.Join(problems, "\n  "))
	return errFailed
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review report, beat results and media",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Review.Addr
			}
			store := review.NewStore(a.cfg.Paths.Results)
			srv := review.NewServer(store, filepath.Join(a.cfg.Paths.Output, "report.json"), a.cfg.Paths.Output, a.logger)
			return srv.Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default review.addr)")
	return cmd
}

func (a *app) uploadCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload the last rough cut to YouTube",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := review.LoadReport(filepath.Join(a.cfg.Paths.Output, "report.json"))
			if err != nil {
				return fmt.Errorf("load report (run the pipeline first): %w", err)
			}
			if file == "" {
				file = filepath.Join(a.cfg.Paths.Output, "rough_cut_subtitled.mp4")
				if _, err := os.Stat(file); err != nil {
					file = report.RoughCut
				}
			}
			meta := upload.BuildMeta(a.cfg, report)
			res, err := upload.New(a.cfg.Upload, a.logger).Run(cmd.Context(), file, meta)
			if err != nil {
				return err
			}
			if _, err := upload.LogUpload(res, file, a.cfg.Paths.Logs, meta); err != nil {
				a.logger.Warn("failed to log upload", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.VideoURL)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "video to upload (default: subtitled cut, else rough cut)")
	return cmd
}

func (a *app) scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Re-run the pipeline on the schedule.cron expression",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Schedule.Cron == "" {
				return fmt.Errorf("%w: schedule.cron is empty", config.ErrInvalid)
			}
			ctx := cmd.Context()
			c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
			_, err := c.AddFunc(a.cfg.Schedule.Cron, func() {
				if err := a.runOnce(ctx, a.cfg.Segments); err != nil {
					a.logger.Error("scheduled run failed", zap.Error(err))
				}
			})
			if err != nil {
				return fmt.Errorf("%w: schedule.cron: %v", config.ErrInvalid, err)
			}

			c.Start()
			a.logger.Info("scheduler started", zap.String("cron", a.cfg.Schedule.Cron))
			<-ctx.Done()
			<-c.Stop().Done()
			a.logger.Info("scheduler stopped")
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
