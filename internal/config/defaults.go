package config

// Defaults mirror the calibration of the dlib/face_recognition 128-d model family.
const (
	DefaultMatchThreshold  = 0.45
	DefaultEmbeddingDim    = 128
	DefaultSamplingRate    = 0.5
	DefaultProgressEvery   = 10
	DefaultEngines         = 1
	DefaultWorkerTimeout   = 30
	DefaultPythonBin       = "python3"
	DefaultWorkerScript    = "python/worker.py"
	DefaultModelsDir       = "models"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	FrameErrorAbort        = "abort"
	FrameErrorSkip         = "skip"
	BackendPython          = "python"
	BackendDlib            = "dlib"
	EnvPrefix              = "FACESCAN_"
	defaultFrameErrorMode  = FrameErrorAbort
	defaultDetectorBackend = BackendPython
)

// Default returns a Config populated with built-in defaults.
func Default() Config {
	return Config{
		Matching: Matching{
			Threshold:     DefaultMatchThreshold,
			EmbeddingDim:  DefaultEmbeddingDim,
			SamplingRate:  DefaultSamplingRate,
			ProgressEvery: DefaultProgressEvery,
			OnFrameError:  defaultFrameErrorMode,
		},
		Detector: Detector{
			Backend:              defaultDetectorBackend,
			Engines:              DefaultEngines,
			PythonBin:            DefaultPythonBin,
			WorkerScript:         DefaultWorkerScript,
			ModelsDir:            DefaultModelsDir,
			WorkerTimeoutSeconds: DefaultWorkerTimeout,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
