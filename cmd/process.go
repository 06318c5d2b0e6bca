package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/facescan/internal/input"
	"github.com/andresmejia3/facescan/internal/matcher"
	"github.com/andresmejia3/facescan/internal/store"
	"github.com/andresmejia3/facescan/internal/utils"
	"github.com/andresmejia3/facescan/internal/video"
	"github.com/andresmejia3/facescan/internal/worker"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ProcessOptions holds the process-video arguments and flag overrides.
type ProcessOptions struct {
	VideoPath     string
	EncodingsPath string
	PersonMapPath string

	SamplingRate float64
	Threshold    float64
	Engines      int
	OnFrameError string
	MaxImageDim  int
}

var processOpts ProcessOptions

// videoSource decodes videos for process-video. Replaced in tests.
var videoSource video.Source = video.FFmpegSource{}

var processCmd = &cobra.Command{
	Use:   "process-video <video> <encodings.json> <person_map.json>",
	Short: "Scan a video for the target faces and print timestamped matches",
	Args:  exactArgs(3),
	Annotations: map[string]string{
		annotationJSON: "true",
		annotationDB:   dbOptional,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := processOpts
		opts.VideoPath, opts.EncodingsPath, opts.PersonMapPath = args[0], args[1], args[2]
		return runProcess(cmd, opts)
	},
}

func init() {
	f := processCmd.Flags()
	f.Float64Var(&processOpts.SamplingRate, "fps", 0, "Frames per second of video to analyze (default from config, 0.5)")
	f.Float64VarP(&processOpts.Threshold, "threshold", "t", 0, "Maximum embedding distance for a match (default from config, 0.45)")
	f.IntVarP(&processOpts.Engines, "engines", "e", 0, "Number of parallel detector engines")
	f.StringVar(&processOpts.OnFrameError, "on-frame-error", "", "What to do when a frame fails: abort or skip")
	f.IntVar(&processOpts.MaxImageDim, "max-image-dim", 0, "Downscale frames so the longest side is at most N pixels (0 keeps native size)")
	rootCmd.AddCommand(processCmd)
}

// applyProcessFlags overrides configuration with the flags set on the command line.
func applyProcessFlags(cmd *cobra.Command, opts ProcessOptions) error {
	f := cmd.Flags()
	if f.Changed("fps") {
		Cfg.Matching.SamplingRate = opts.SamplingRate
	}
	if f.Changed("threshold") {
		Cfg.Matching.Threshold = opts.Threshold
	}
	if f.Changed("engines") {
		if opts.Engines < 1 {
			return &usageError{err: fmt.Errorf("--engines must be >= 1, got %d", opts.Engines)}
		}
		Cfg.Detector.Engines = opts.Engines
	}
	if f.Changed("on-frame-error") {
		Cfg.Matching.OnFrameError = opts.OnFrameError
	}
	if f.Changed("max-image-dim") {
		Cfg.Matching.MaxImageDim = opts.MaxImageDim
	}
	if err := Cfg.Validate(); err != nil {
		return &usageError{err: err}
	}
	return nil
}

// runProcess orchestrates a scan: input loading, the engine pool, the matcher and run recording.
func runProcess(cmd *cobra.Command, opts ProcessOptions) error {
	ctx := cmd.Context()

	if err := applyProcessFlags(cmd, opts); err != nil {
		return err
	}

	// Malformed inputs fail before any engine is started.
	targets, err := input.LoadTargets(opts.EncodingsPath)
	if err != nil {
		return err
	}
	if err := input.CheckTargets(targets, Cfg.Matching.EmbeddingDim); err != nil {
		return err
	}
	identities, err := input.LoadPersonMap(opts.PersonMapPath)
	if err != nil {
		return err
	}

	Logger.Info("starting detector engines",
		zap.String("backend", Cfg.Detector.Backend),
		zap.Int("engines", Cfg.Detector.Engines),
	)
	engines, err := startEngines(ctx, Cfg.Detector.Engines, worker.ConfigFrom(Cfg))
	if err != nil {
		return fmt.Errorf("failed to start face engines: %w", err)
	}
	defer worker.ClosePool(engines)

	bar := newScanBar(cmd.ErrOrStderr())
	m, err := matcher.New(matcher.Options{
		Threshold:     Cfg.Matching.Threshold,
		SamplingRate:  Cfg.Matching.SamplingRate,
		EmbeddingDim:  Cfg.Matching.EmbeddingDim,
		ProgressEvery: Cfg.Matching.ProgressEvery,
		MaxImageDim:   Cfg.Matching.MaxImageDim,
		OnFrameError:  matcher.FramePolicy(Cfg.Matching.OnFrameError),
		OnProgress:    bar.update,
	}, Logger, worker.Detectors(engines)...)
	if err != nil {
		return err
	}

	rec := startRecording(ctx, DB, opts.VideoPath)

	res, err := m.Match(ctx, videoSource, opts.VideoPath, targets, identities)
	bar.finish()
	if err != nil {
		rec.fail(ctx, err)
		if errors.Is(err, matcher.ErrFrameProcessing) {
			showWorkerLogs(engines, err)
		}
		return err
	}
	rec.finish(ctx, res)

	return writeJSON(cmd.OutOrStdout(), resultsResponse{Success: true, Results: res.Matches})
}

// showWorkerLogs dumps the captured stderr of python engines after a frame failure.
func showWorkerLogs(engines []worker.Engine, err error) {
	for _, e := range engines {
		if pw, ok := e.(*worker.PythonWorker); ok && pw.Cmd.Stderr.Len() > 0 {
			utils.ShowError(fmt.Sprintf("Engine %d failed", pw.ID), err, pw.Cmd)
		}
	}
}

// scanBar renders scan progress on an interactive stderr. The zero value is a no-op.
type scanBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newScanBar(w io.Writer) *scanBar {
	f, ok := w.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return &scanBar{}
	}
	return &scanBar{w: w}
}

func (b *scanBar) update(p matcher.Progress) {
	if b.w == nil {
		return
	}
	if b.bar == nil {
		total := p.TotalFrames
		if total <= 0 {
			// Fallback to a spinner if ffprobe could not count frames
			total = -1
		}
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🔍 Scanning"),
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionShowCount(),
		)
	}
	_ = b.bar.Set(p.FrameIndex + 1)
}

func (b *scanBar) finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(b.w)
	}
}

// runRecorder mirrors one scan into the results store. A nil recorder records nothing.
type runRecorder struct {
	db     *store.Store
	id     uuid.UUID
	logger *zap.Logger
}

// startRecording registers the video and opens a run. Store failures are
// logged and never fail the scan.
func startRecording(ctx context.Context, db *store.Store, path string) *runRecorder {
	if db == nil {
		return nil
	}
	videoID, err := utils.GenerateVideoID(path)
	if err != nil {
		Logger.Warn("cannot identify video, run will not be recorded", zap.String("source", path), zap.Error(err))
		return nil
	}
	if err := db.EnsureVideoMetadata(ctx, videoID, path); err != nil {
		Logger.Warn("failed to register video metadata", zap.Error(err))
		return nil
	}
	runID, err := db.StartRun(ctx, videoID, store.RunParams{
		SamplingRate: Cfg.Matching.SamplingRate,
		Threshold:    Cfg.Matching.Threshold,
	})
	if err != nil {
		Logger.Warn("failed to start run record", zap.Error(err))
		return nil
	}
	Logger.Info("recording run", zap.String("run_id", runID.String()), zap.String("video_id", videoID[:12]))
	return &runRecorder{db: db, id: runID, logger: Logger}
}

func (r *runRecorder) finish(ctx context.Context, res *matcher.Result) {
	if r == nil {
		return
	}
	err := r.db.FinishRun(context.WithoutCancel(ctx), r.id, store.RunSummary{
		FrameSkip:     res.FrameSkip,
		SampledFrames: res.SampledFrames,
		Matches:       res.Matches,
	})
	if err != nil {
		r.logger.Warn("failed to record run results", zap.String("run_id", r.id.String()), zap.Error(err))
	}
}

func (r *runRecorder) fail(ctx context.Context, cause error) {
	if r == nil {
		return
	}
	if err := r.db.FailRun(context.WithoutCancel(ctx), r.id, cause); err != nil {
		r.logger.Warn("failed to record run failure", zap.String("run_id", r.id.String()), zap.Error(err))
	}
}
