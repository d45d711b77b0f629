package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThatPushedSamplesAreReturnedByDrain(t *testing.T) {
	buf := NewSampleBuffer()
	buf.Push(Sample{DeviceID: 1, Temperature: 24.5})
	buf.Push(Sample{DeviceID: 2, Temperature: 25.5})

	drained := buf.DrainAll()

	assert.Len(t, drained, 2)
	assert.Equal(t, uint(1), drained[0].DeviceID)
	assert.Equal(t, 0, buf.Len())
}

func TestThatSecondDrainIsEmpty(t *testing.T) {
	buf := NewSampleBuffer()
	buf.Push(Sample{DeviceID: 1})

	assert.Len(t, buf.DrainAll(), 1)
	assert.Empty(t, buf.DrainAll())
}

func TestThatConcurrentPushesAreNeitherLostNorDuplicated(t *testing.T) {
	buf := NewSampleBuffer()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	done := make(chan struct{})
	total := make(chan int, 1)

	go func() {
		drainedTotal := 0
		for {
			select {
			case <-done:
				drainedTotal += len(buf.DrainAll())
				total <- drainedTotal
				return
			default:
				drainedTotal += len(buf.DrainAll())
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Push(Sample{DeviceID: uint(producer), Temperature: float64(i)})
			}
		}(p)
	}

	wg.Wait()
	close(done)

	assert.Equal(t, producers*perProducer, <-total)
}
