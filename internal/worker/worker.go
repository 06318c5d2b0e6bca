package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/facescan/internal/types"
	"github.com/andresmejia3/facescan/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1
	boxBytes    = 4 * 4
	valueBytes  = 8
)

// PythonWorker talks to a long-lived python face engine over a framed protocol.
// Requests go to stdin; responses come back on a side-channel pipe (FD 3) so
// library chatter on the child's stdout cannot corrupt the stream.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Dim      int
	Timeout  time.Duration

	mu     sync.Mutex
	broken error
}

// NewPythonWorker starts the engine process.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.PythonBin, "-u", cfg.WorkerScript, "--dim", strconv.Itoa(cfg.Dim))

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Dim:      cfg.Dim,
		Timeout:  cfg.ReadTimeout,
	}, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one frame and returns the raw response payload.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame runs detection on one JPEG frame.
func (w *PythonWorker) ProcessFrame(data []byte) ([]types.FaceResult, error) {
	resp, err := w.Communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp, w.Dim)
}

// Detect implements face.Detector. A timed-out or crashed worker is marked
// broken, since the framed stream can no longer be trusted.
func (w *PythonWorker) Detect(ctx context.Context, jpeg []byte) ([]types.FaceResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, fmt.Errorf("worker %d unusable: %w", w.ID, w.broken)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(readDeadliner); ok {
		deadline := time.Time{}
		if w.Timeout > 0 {
			deadline = time.Now().Add(w.Timeout)
		}
		if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
			deadline = ctxDeadline
		}
		_ = d.SetReadDeadline(deadline)
	}

	faces, err := w.ProcessFrame(jpeg)
	if err != nil {
		var logicErr *EngineError
		if !errors.As(err, &logicErr) {
			w.broken = err
		}
		return nil, err
	}
	return faces, nil
}

// Close shuts the engine down and reaps the process.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// EngineError is a failure reported by the engine itself; the worker stays usable.
type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return "python worker error: " + e.Msg
}

// decodeFaces parses a response payload.
//
//	status 0: [u32 count] then count x ([4]i32 box, [dim]f64 vec)
//	status 1: [u32 len][message]
func decodeFaces(resp []byte, dim int) ([]types.FaceResult, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty response from worker")
	}
	r := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, &EngineError{Msg: string(msg)}
	default:
		return nil, fmt.Errorf("unknown response status %d", resp[0])
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}
	faceBytes := boxBytes + valueBytes*dim
	if int64(r.Len()) != int64(count)*int64(faceBytes) {
		return nil, fmt.Errorf("response holds %d bytes, expected %d faces of %d-d", r.Len(), count, dim)
	}

	faces := make([]types.FaceResult, count)
	box := make([]int32, 4)
	vec := make([]float64, dim)
	for i := range faces {
		if err := binary.Read(r, binary.BigEndian, box); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, err
		}
		f := types.FaceResult{Vec: make(types.Embedding, dim)}
		for j := range box {
			f.Loc[j] = int(box[j])
		}
		for j, v := range vec {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("face %d has NaN in its embedding", i)
			}
			f.Vec[j] = v
		}
		faces[i] = f
	}
	return faces, nil
}
