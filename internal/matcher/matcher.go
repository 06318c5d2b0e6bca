package matcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/andresmejia3/facescan/internal/face"
	"github.com/andresmejia3/facescan/internal/types"
	"github.com/andresmejia3/facescan/internal/video"
	"go.uber.org/zap"
)

// FramePolicy decides what a frame-level failure does to the run.
type FramePolicy string

const (
	// AbortOnFrameError discards the whole run on the first failing frame.
	AbortOnFrameError FramePolicy = "abort"
	// SkipOnFrameError logs the failing frame and keeps scanning.
	SkipOnFrameError FramePolicy = "skip"
)

const defaultProgressEvery = 10

// Options tunes a Matcher.
type Options struct {
	Threshold     float64 // a face matches a target when distance < Threshold
	SamplingRate  float64 // sampled frames per second of video
	EmbeddingDim  int     // expected embedding length; 0 infers it from the targets
	ProgressEvery int     // log progress every N sampled frames
	MaxImageDim   int     // downscale frames before detection; 0 disables
	OnFrameError  FramePolicy
	// OnProgress, when set, is called after every sampled frame in frame order.
	OnProgress func(Progress)
}

// Progress reports how far a scan has come.
type Progress struct {
	FrameIndex  int
	TotalFrames int // 0 when unknown
	Processed   int // sampled frames handled so far
	Matches     int
}

// Percent is FrameIndex relative to TotalFrames, or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.TotalFrames <= 0 {
		return -1
	}
	return float64(p.FrameIndex) / float64(p.TotalFrames) * 100
}

// Result is the outcome of one scan. Matches is never nil.
type Result struct {
	Matches       []types.MatchEvent
	TotalFrames   int
	FrameRate     float64
	FrameSkip     int
	FramesRead    int
	SampledFrames int
	SkippedFrames int
}

// Matcher drives frame sampling, detection and comparison for one video at a time.
type Matcher struct {
	opts      Options
	detectors []face.Detector
	logger    *zap.Logger
}

// New creates a Matcher. Each detector is used by one engine goroutine, so
// passing several detectors analyses frames in parallel.
func New(opts Options, logger *zap.Logger, detectors ...face.Detector) (*Matcher, error) {
	if len(detectors) == 0 {
		return nil, errors.New("at least one detector is required")
	}
	if !(opts.Threshold > 0) || math.IsInf(opts.Threshold, 1) {
		return nil, fmt.Errorf("threshold must be a positive finite number, got %f", opts.Threshold)
	}
	if opts.SamplingRate <= 0 || math.IsNaN(opts.SamplingRate) || math.IsInf(opts.SamplingRate, 0) {
		return nil, fmt.Errorf("sampling rate must be positive, got %f", opts.SamplingRate)
	}
	if opts.EmbeddingDim < 0 {
		return nil, fmt.Errorf("embedding dimension must not be negative, got %d", opts.EmbeddingDim)
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	switch opts.OnFrameError {
	case "":
		opts.OnFrameError = AbortOnFrameError
	case AbortOnFrameError, SkipOnFrameError:
	default:
		return nil, fmt.Errorf("unknown frame error policy %q", opts.OnFrameError)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{opts: opts, detectors: detectors, logger: logger}, nil
}

func emptyResult() *Result {
	return &Result{Matches: []types.MatchEvent{}}
}

// Match scans the video at path for the targets. On any terminal failure the
// returned result carries no matches; partial matches are discarded.
func (m *Matcher) Match(ctx context.Context, src video.Source, path string, targets []types.Embedding, identities types.PersonMap) (*Result, error) {
	dim, err := m.targetDim(targets)
	if err != nil {
		return emptyResult(), err
	}

	stream, err := src.Open(ctx, path)
	if err != nil {
		m.logger.Error("could not open video", zap.String("source", path), zap.Error(err))
		return emptyResult(), fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	defer stream.Close()

	info := stream.Info()
	if info.FPS <= 0 || math.IsNaN(info.FPS) || math.IsInf(info.FPS, 0) {
		m.logger.Error("video reports no usable frame rate", zap.String("source", path), zap.Float64("fps", info.FPS))
		return emptyResult(), fmt.Errorf("%w: %s", ErrFrameRateUnavailable, path)
	}

	res := emptyResult()
	res.TotalFrames = info.TotalFrames
	res.FrameRate = info.FPS
	res.FrameSkip = FrameSkip(info.FPS, m.opts.SamplingRate)

	m.logger.Info("processing video",
		zap.String("source", path),
		zap.Int("total_frames", info.TotalFrames),
		zap.Float64("fps", info.FPS),
	)
	m.logger.Info("sampling frames",
		zap.Int("frame_skip", res.FrameSkip),
		zap.Float64("sampling_rate", m.opts.SamplingRate),
		zap.Int("engines", len(m.detectors)),
	)

	s := &scan{
		Matcher:    m,
		stream:     stream,
		info:       info,
		skip:       res.FrameSkip,
		dim:        dim,
		targets:    targets,
		identities: identities,
		res:        res,
	}
	if err := s.run(ctx); err != nil {
		m.logger.Error("video processing aborted", zap.String("source", path), zap.Error(err))
		res.Matches = []types.MatchEvent{}
		return res, err
	}

	m.logger.Info("processing complete",
		zap.Int("matches", len(res.Matches)),
		zap.Int("sampled_frames", res.SampledFrames),
		zap.Int("skipped_frames", res.SkippedFrames),
	)
	return res, nil
}

// targetDim validates the target set and returns the embedding length faces
// must have. All targets must share one length.
func (m *Matcher) targetDim(targets []types.Embedding) (int, error) {
	dim := m.opts.EmbeddingDim
	for i, t := range targets {
		if dim == 0 {
			dim = len(t)
		}
		if len(t) == 0 || len(t) != dim {
			return 0, fmt.Errorf("%w: target %d has %d values, expected %d", ErrInvalidTargets, i, len(t), dim)
		}
	}
	return dim, nil
}

type frameResult struct {
	task  types.FrameTask
	faces []types.FaceResult
	err   error
}

type readOutcome struct {
	framesRead int
	err        error
	cancelled  bool
}

// scan holds the state of a single Match call.
type scan struct {
	*Matcher
	stream     video.Stream
	info       video.Info
	skip       int
	dim        int
	targets    []types.Embedding
	identities types.PersonMap
	res        *Result
}

func (s *scan) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	tasks := make(chan types.FrameTask, len(s.detectors))
	results := make(chan frameResult, len(s.detectors)*2)
	readDone := make(chan readOutcome, 1)

	// Engine pool
	var wg sync.WaitGroup
	for _, det := range s.detectors {
		wg.Add(1)
		go func(det face.Detector) {
			defer wg.Done()
			for task := range tasks {
				faces, err := s.analyze(ctx, det, task.Data)
				select {
				case results <- frameResult{task: task, faces: faces, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}(det)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Sequential reader: no seeking, every frame is read and only every
	// skip-th one is handed to the engines.
	go func() {
		defer close(tasks)
		frameIndex, seq := 0, 0
		for {
			if ctx.Err() != nil {
				readDone <- readOutcome{framesRead: frameIndex, err: ctx.Err(), cancelled: true}
				return
			}
			frame, err := s.stream.Next()
			if errors.Is(err, io.EOF) {
				readDone <- readOutcome{framesRead: frameIndex}
				return
			}
			if err != nil {
				readDone <- readOutcome{framesRead: frameIndex, err: err}
				return
			}
			if frameIndex%s.skip == 0 {
				select {
				case tasks <- types.FrameTask{Seq: seq, Index: frameIndex, Data: frame}:
					seq++
				case <-ctx.Done():
					readDone <- readOutcome{framesRead: frameIndex, err: ctx.Err(), cancelled: true}
					return
				}
			}
			frameIndex++
		}
	}()

	// Aggregator: engines may finish out of order, frames are released in order.
	pending := make(map[int]frameResult)
	next := 0
	var failure error
	for r := range results {
		if failure != nil {
			continue // draining
		}
		pending[r.task.Seq] = r
		for {
			fr, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if err := s.consume(ctx, fr); err != nil {
				failure = err
				cancel()
				break
			}
		}
	}

	outcome := <-readDone
	s.res.FramesRead = outcome.framesRead

	if err := parent.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	if failure != nil {
		return failure
	}
	if outcome.err != nil && !outcome.cancelled {
		return fmt.Errorf("%w: read frame %d: %v", ErrFrameProcessing, outcome.framesRead, outcome.err)
	}
	return nil
}

// analyze prepares one frame for the detector and validates what it returns.
func (s *scan) analyze(ctx context.Context, det face.Detector, frame []byte) ([]types.FaceResult, error) {
	jpg, err := face.PrepareJPEG(frame, s.opts.MaxImageDim)
	if err != nil {
		return nil, err
	}
	faces, err := det.Detect(ctx, jpg)
	if err != nil {
		return nil, err
	}
	if s.dim > 0 {
		for i, f := range faces {
			if err := face.CheckDim(f.Vec, s.dim); err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
		}
	}
	return faces, nil
}

// consume folds one in-order frame result into the accumulated result.
func (s *scan) consume(ctx context.Context, fr frameResult) error {
	idx := fr.task.Index
	if fr.err != nil {
		if ctx.Err() != nil || s.opts.OnFrameError == AbortOnFrameError {
			return fmt.Errorf("%w: frame %d: %v", ErrFrameProcessing, idx, fr.err)
		}
		s.logger.Warn("skipping frame", zap.Int("frame", idx), zap.Error(fr.err))
		s.res.SkippedFrames++
	} else {
		s.compare(idx, fr.faces)
	}

	s.res.SampledFrames++
	p := Progress{
		FrameIndex:  idx,
		TotalFrames: s.info.TotalFrames,
		Processed:   s.res.SampledFrames,
		Matches:     len(s.res.Matches),
	}
	if p.Processed%s.opts.ProgressEvery == 0 {
		if pct := p.Percent(); pct >= 0 {
			s.logger.Info("progress", zap.String("percent", fmt.Sprintf("%.1f%%", pct)), zap.Int("frame", idx))
		} else {
			s.logger.Info("progress", zap.Int("frame", idx), zap.Int("sampled", p.Processed))
		}
	}
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
	return nil
}

// compare checks every face against every target, in detection then target order.
func (s *scan) compare(frameIndex int, faces []types.FaceResult) {
	ts := Timestamp(frameIndex, s.info.FPS)
	for _, f := range faces {
		for i, target := range s.targets {
			dist, err := face.Distance(f.Vec, target)
			if err != nil || dist >= s.opts.Threshold {
				continue
			}
			id := s.identities[i]
			ev := types.MatchEvent{
				Timestamp:          ts,
				TimestampFormatted: FormatTimestamp(ts),
				Confidence:         face.Confidence(dist),
				Distance:           dist,
				PersonID:           id.PersonID,
				PersonName:         id.Name,
				Frame:              FrameLabel(frameIndex),
				FrameIndex:         frameIndex,
				TargetIndex:        i,
			}
			s.res.Matches = append(s.res.Matches, ev)

			name := id.Name
			if name == "" {
				name = "Unknown"
			}
			s.logger.Info("match found",
				zap.String("person", name),
				zap.String("at", ev.TimestampFormatted),
				zap.String("confidence", fmt.Sprintf("%.1f%%", ev.Confidence*100)),
			)
		}
	}
}
