// Package memory implements the bounded replay buffer consumed by replay
// selection: reservoir admission, balanced and candidate sampling, and
// training batch assembly from committed selections.
package memory

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Buffer is a fixed-capacity sample store with reservoir admission.
//
// Within one selection round the caller registers the stream batch, draws
// evaluation and candidate sets, and then commits a selection. Candidate
// draws never include slots handed out by the last memory-pool balanced draw
// of the same round.
type Buffer struct {
	mu sync.Mutex

	capacity int
	rng      *rand.Rand
	logger   *slog.Logger

	slots   []Sample
	usage   []int
	byLabel map[int][]int
	labels  []int
	seen    int

	stream   []Sample
	reserved map[int]struct{}
	selected []int
}

// NewBuffer creates an empty buffer. rng is owned by the caller and is the
// only source of randomness the buffer uses.
func NewBuffer(capacity int, rng *rand.Rand, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		capacity: capacity,
		rng:      rng,
		logger:   logger,
		byLabel:  make(map[int][]int),
		reserved: make(map[int]struct{}),
	}
}

// Capacity returns the maximum number of stored samples.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// PopulationCount returns the number of stored samples.
func (b *Buffer) PopulationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Labels returns every label seen so far in discovery order.
func (b *Buffer) Labels() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.labels)
}

// Admit offers s to the buffer. Until the buffer is full every sample is
// stored; afterwards the n-th offered sample replaces a uniformly chosen slot
// with probability capacity/n. It returns the slot used, if any.
func (b *Buffer) Admit(s Sample) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seen++
	b.discover(s.Label)

	if len(b.slots) < b.capacity {
		slot := len(b.slots)
		s.Index = slot
		b.slots = append(b.slots, s)
		b.usage = append(b.usage, 0)
		b.byLabel[s.Label] = append(b.byLabel[s.Label], slot)
		return slot, true
	}

	slot := b.rng.IntN(b.seen)
	if slot >= b.capacity {
		return StreamIndex, false
	}

	old := b.slots[slot]
	b.byLabel[old.Label] = removeSlot(b.byLabel[old.Label], slot)
	s.Index = slot
	b.slots[slot] = s
	b.usage[slot] = 0
	b.byLabel[s.Label] = append(b.byLabel[s.Label], slot)
	return slot, true
}

func (b *Buffer) discover(label int) {
	if _, ok := b.byLabel[label]; !ok {
		b.byLabel[label] = nil
		b.labels = append(b.labels, label)
		b.logger.Debug("new label discovered", "label", label, "known", len(b.labels))
	}
}

func removeSlot(slots []int, slot int) []int {
	i := slices.Index(slots, slot)
	if i < 0 {
		return slots
	}
	slots[i] = slots[len(slots)-1]
	return slots[:len(slots)-1]
}

// RegisterStream records the current stream batch and starts a new
// selection round. Stream samples are not stored.
func (b *Buffer) RegisterStream(stream []Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stream = make([]Sample, len(stream))
	for i, s := range stream {
		s.Index = StreamIndex
		b.stream[i] = s
		b.discover(s.Label)
	}
	b.selected = nil
	clear(b.reserved)
}

// SampleBalanced draws up to nPerClass samples of every known label from
// pool. Labels with fewer samples contribute all they have.
func (b *Buffer) SampleBalanced(pool Pool, nPerClass int) Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if nPerClass <= 0 {
		return Batch{}
	}

	var out []Sample
	switch pool {
	case PoolStream:
		groups := make(map[int][]int)
		for i, s := range b.stream {
			groups[s.Label] = append(groups[s.Label], i)
		}
		for _, label := range b.labels {
			for _, i := range b.pick(groups[label], nPerClass) {
				out = append(out, b.stream[i])
			}
		}
	case PoolMemory:
		for _, label := range b.labels {
			for _, slot := range b.pick(b.byLabel[label], nPerClass) {
				b.reserved[slot] = struct{}{}
				out = append(out, b.slots[slot])
			}
		}
	}
	return Batch{Samples: out}
}

// SampleCandidates draws up to size stored samples uniformly without
// replacement, excluding slots reserved by this round's memory-pool
// balanced draw.
func (b *Buffer) SampleCandidates(size int) Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	eligible := make([]int, 0, len(b.slots))
	for slot := range b.slots {
		if _, taken := b.reserved[slot]; !taken {
			eligible = append(eligible, slot)
		}
	}

	picked := b.pick(eligible, size)
	out := make([]Sample, len(picked))
	for i, slot := range picked {
		out[i] = b.slots[slot]
	}
	return Batch{Samples: out}
}

// pick returns up to n entries of from in random order. from is not modified.
func (b *Buffer) pick(from []int, n int) []int {
	if n <= 0 || len(from) == 0 {
		return nil
	}
	work := slices.Clone(from)
	n = min(n, len(work))
	for i := range n {
		j := i + b.rng.IntN(len(work)-i)
		work[i], work[j] = work[j], work[i]
	}
	return work[:n]
}

// CommitSelection records the slots chosen for this round's replay batch.
func (b *Buffer) CommitSelection(indices []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commit(indices)
}

// RandomSelection chooses up to count distinct stored slots uniformly,
// commits them, and returns them.
func (b *Buffer) RandomSelection(count int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]int, len(b.slots))
	for i := range all {
		all[i] = i
	}
	picked := b.pick(all, count)
	b.commit(picked)
	return slices.Clone(picked)
}

func (b *Buffer) commit(indices []int) {
	b.selected = slices.Clone(indices)
	for _, slot := range indices {
		if slot >= 0 && slot < len(b.usage) {
			b.usage[slot]++
		}
	}
	clear(b.reserved)
}

// Selected returns the slots committed in the current round.
func (b *Buffer) Selected() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.selected)
}

// TrainBatch returns the registered stream samples followed by the committed
// replay samples.
func (b *Buffer) TrainBatch() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Sample, 0, len(b.stream)+len(b.selected))
	out = append(out, b.stream...)
	for _, slot := range b.selected {
		if slot >= 0 && slot < len(b.slots) {
			out = append(out, b.slots[slot])
		}
	}
	return Batch{Samples: out}
}

// StreamBatch returns only the registered stream samples, truncated to n.
func (b *Buffer) StreamBatch(n int) Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(max(n, 0), len(b.stream))
	return Batch{Samples: slices.Clone(b.stream[:n])}
}

// Stats reports class balance and replay usage spread.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make([]float64, 0, len(b.labels))
	for _, label := range b.labels {
		if n := len(b.byLabel[label]); n > 0 {
			counts = append(counts, float64(n))
		}
	}
	usage := make([]float64, len(b.usage))
	for i, u := range b.usage {
		usage[i] = float64(u)
	}

	return Stats{
		Population: len(b.slots),
		Classes:    len(counts),
		ClassStd:   stdDev(counts),
		SampleStd:  stdDev(usage),
	}
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
