package types

// Embedding is a face identity signature produced by the external model.
// Two embeddings are compared by Euclidean distance.
type Embedding []float64

// FrameTask represents a single sampled frame sent to a detector
type FrameTask struct {
	Seq   int // sample ordinal, used to restore order after parallel detection
	Index int // frame index in the stream
	Data  []byte
}

// FaceResult is one face reported by a detector, in detection order.
type FaceResult struct {
	Loc [4]int    `json:"loc"` // [top, right, bottom, left]
	Vec Embedding `json:"vec"`
}

// Identity is the metadata attached to one target embedding.
type Identity struct {
	PersonID string `json:"personId"`
	Name     string `json:"name"`
}

// PersonMap keys identity metadata by target index.
type PersonMap map[int]Identity

// MatchEvent is one occurrence of a target person in a sampled frame.
type MatchEvent struct {
	Timestamp          float64 `json:"timestamp"`
	TimestampFormatted string  `json:"timestampFormatted"`
	Confidence         float64 `json:"confidence"`
	Distance           float64 `json:"distance"`
	PersonID           string  `json:"personId"`
	PersonName         string  `json:"personName"`
	Frame              string  `json:"frame"`

	// Not part of the wire format; kept for persistence and ordering.
	FrameIndex  int `json:"-"`
	TargetIndex int `json:"-"`
}
