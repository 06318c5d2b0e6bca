package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/andresmejia3/facescan/internal/config"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

const testDim = 128

// okPayload builds a status-0 response with one face per vector.
func okPayload(vecs ...[testDim]float64) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                       // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(vecs))) // Face count
	for i, v := range vecs {
		binary.Write(payload, binary.BigEndian, [4]int32{10, int32(20 + i), 30, 40}) // Box
		binary.Write(payload, binary.BigEndian, v)                                   // Vec
	}
	return payload.Bytes()
}

func frame(pipe *MockCloser, payload []byte) {
	// Write the length header (Big Endian uint32)
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)))
	// Write the body
	pipe.Write(payload)
}

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		Dim:      testDim,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestProcessFrame(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()

	var vecA, vecB [testDim]float64
	vecA[0] = 0.5
	vecB[127] = -0.25
	frame(dataPipeMock, okPayload(vecA, vecB))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	resp, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	// Expect 4 bytes header + 4 bytes data
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if !bytes.Equal(sentData[4:], inputFrame) {
		t.Errorf("Frame body corrupted in transit: %X", sentData[4:])
	}

	// Verify Go read the correct data FROM Python, in detection order
	if len(resp) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(resp))
	}
	if len(resp[0].Vec) != testDim {
		t.Fatalf("Expected %d-d vector, got %d", testDim, len(resp[0].Vec))
	}
	// Use epsilon for float comparison
	if math.Abs(resp[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", resp[0].Vec[0])
	}
	if math.Abs(resp[1].Vec[127]+0.25) > 1e-9 {
		t.Errorf("Expected second face vector[127] approx -0.25, got %f", resp[1].Vec[127])
	}
	if resp[1].Loc != [4]int{10, 21, 30, 40} {
		t.Errorf("Unexpected location %v", resp[1].Loc)
	}
}

func TestProcessFrame_FullPrecision(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	var vec [testDim]float64
	vec[0] = 0.1 // not representable as float32
	vec[1] = -0.123456789012345
	frame(dataPipeMock, okPayload(vec))

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if faces[0].Vec[0] != 0.1 || faces[0].Vec[1] != -0.123456789012345 {
		t.Errorf("Embedding lost precision in transit: %v", faces[0].Vec[:2])
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	frame(dataPipeMock, okPayload())

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	frame(dataPipeMock, payload.Bytes())

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_Truncated(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	var vec [testDim]float64
	payload := okPayload(vec)
	frame(dataPipeMock, payload[:len(payload)-4])

	if _, err := w.ProcessFrame([]byte("frame")); err == nil {
		t.Fatal("Expected error for truncated payload")
	}
}

func TestDetectMarksWorkerBroken(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	// An engine-reported error leaves the worker usable.
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	binary.Write(payload, binary.BigEndian, uint32(3))
	payload.WriteString("bad")
	frame(dataPipeMock, payload.Bytes())

	_, err := w.Detect(context.Background(), []byte("frame"))
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got %v", err)
	}

	// A dead pipe (EOF) poisons the worker.
	if _, err := w.Detect(context.Background(), []byte("frame")); err == nil {
		t.Fatal("Expected error on empty pipe")
	}
	frame(dataPipeMock, okPayload())
	_, err = w.Detect(context.Background(), []byte("frame"))
	if err == nil || !strings.Contains(err.Error(), "unusable") {
		t.Errorf("Expected broken worker error, got %v", err)
	}
}

func TestDetectHonoursCancelledContext(t *testing.T) {
	w, stdinMock, _ := newMockWorker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Detect(ctx, []byte("frame")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if stdinMock.Len() != 0 {
		t.Error("Nothing should be sent for a cancelled context")
	}
}

func TestNewEngineUnknownBackend(t *testing.T) {
	if _, err := NewEngine(context.Background(), 0, Config{Backend: "onnx"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Detector.Backend = config.BackendDlib
	got := ConfigFrom(&cfg)
	if got.Backend != config.BackendDlib || got.Dim != config.DefaultEmbeddingDim || got.ReadTimeout != cfg.WorkerTimeout() {
		t.Errorf("Unexpected engine config: %+v", got)
	}
}
