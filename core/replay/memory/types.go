package memory

// StreamIndex marks a sample that is not (yet) stored in the buffer.
const StreamIndex = -1

// Sample is one labeled example. Index is its stable buffer slot, or
// StreamIndex for samples that only exist in the current stream batch.
type Sample struct {
	Index int
	Label int
	Data  []float32
}

// Batch is an ordered group of samples.
type Batch struct {
	Samples []Sample
}

// Len returns the number of samples.
func (b Batch) Len() int {
	return len(b.Samples)
}

// Inputs returns the raw sample contents in batch order.
func (b Batch) Inputs() [][]float32 {
	out := make([][]float32, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Data
	}
	return out
}

// Labels returns the sample labels in batch order.
func (b Batch) Labels() []int {
	out := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Label
	}
	return out
}

// Indices returns the buffer indices in batch order.
func (b Batch) Indices() []int {
	out := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Index
	}
	return out
}

// Pool selects where a balanced evaluation draw comes from.
type Pool int

const (
	// PoolStream draws from the registered current-stream batch.
	PoolStream Pool = iota
	// PoolMemory draws from the stored buffer.
	PoolMemory
)

func (p Pool) String() string {
	switch p {
	case PoolStream:
		return "stream"
	case PoolMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Stats summarizes buffer balance.
type Stats struct {
	Population int
	Classes    int
	// ClassStd is the standard deviation of per-class sample counts.
	ClassStd float64
	// SampleStd is the standard deviation of per-slot replay usage counts.
	SampleStd float64
}
