package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/andresmejia3/facescan/internal/utils"
)

const megabyte = 1024 * 1024

// Info describes a stream as reported by its container.
type Info struct {
	TotalFrames int     // 0 when unknown
	FPS         float64 // 0 when unknown
}

// Stream yields encoded frames sequentially. Next returns io.EOF once the
// stream is exhausted. Close must be safe to call more than once.
type Stream interface {
	Info() Info
	Next() ([]byte, error)
	Close() error
}

// Source opens streams by path.
type Source interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// FFmpegSource decodes videos through an ffmpeg MJPEG pipe.
type FFmpegSource struct{}

// Open probes the file and starts the decoder.
func (FFmpegSource) Open(ctx context.Context, path string) (Stream, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a video file", path)
	}

	fps, err := utils.GetVideoFPS(ctx, path)
	if err != nil && !errors.Is(err, utils.ErrNoFrameRate) {
		return nil, err
	}
	total := utils.GetTotalFrames(ctx, path)

	return startStream(utils.NewFFmpegCmd(ctx, path), Info{TotalFrames: total, FPS: fps})
}

// startStream runs a decoder command whose stdout is a concatenation of JPEG frames.
func startStream(cmd *utils.SafeCommand, info Info) (*ffmpegStream, error) {
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create decoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &ffmpegStream{
		info:    info,
		cmd:     cmd,
		out:     out,
		scanner: scanner,
	}, nil
}

type ffmpegStream struct {
	info    Info
	cmd     *utils.SafeCommand
	out     io.ReadCloser
	scanner *bufio.Scanner

	done      bool
	waited    bool
	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Info() Info { return s.info }

// Next returns a copy of the next frame; the scanner reuses its buffer.
func (s *ffmpegStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.scanner.Scan() {
		frame := make([]byte, len(s.scanner.Bytes()))
		copy(frame, s.scanner.Bytes())
		return frame, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}
	if err := s.wait(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *ffmpegStream) wait() error {
	s.closeOnce.Do(func() {
		s.waited = true
		if err := s.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(s.cmd.Stderr.String())
			if msg != "" {
				s.closeErr = fmt.Errorf("ffmpeg execution failed: %w: %s", err, msg)
			} else {
				s.closeErr = fmt.Errorf("ffmpeg execution failed: %w", err)
			}
		}
	})
	return s.closeErr
}

// Close stops the decoder if it is still running and reaps it.
func (s *ffmpegStream) Close() error {
	s.done = true
	if s.waited {
		return nil
	}
	// Ensure pipe is closed to prevent leaks/zombies
	s.out.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// A killed decoder always reports an error; it is expected here.
	_ = s.wait()
	return nil
}
