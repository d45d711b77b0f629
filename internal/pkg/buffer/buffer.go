package buffer

import (
	"sync"
	"time"
)

//Sample is one raw reading tagged with the identity it was received under.
//Samples only live until the next aggregation drain.
type Sample struct {
	ReceivedAt  time.Time
	UserID      uint
	DeviceID    uint
	DeviceName  string
	Temperature float64
	Turbidity   float64
	TDS         float64
	PH          float64
}

//SampleBuffer is an append-only buffer of raw readings. It is intentionally
//unbounded between drains.
type SampleBuffer struct {
	mu      sync.Mutex
	samples []Sample
}

//NewSampleBuffer returns an empty buffer
func NewSampleBuffer() *SampleBuffer {
	return &SampleBuffer{}
}

//Push appends one sample in O(1)
func (b *SampleBuffer) Push(s Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, s)
	b.mu.Unlock()
}

//DrainAll atomically swaps the buffer for an empty one and returns the previous
//contents, so a concurrent Push never observes a partially drained buffer and no
//sample can be counted by two drains.
func (b *SampleBuffer) DrainAll() []Sample {
	b.mu.Lock()
	drained := b.samples
	b.samples = nil
	b.mu.Unlock()
	return drained
}

//Len returns the number of buffered samples
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
