package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_DoubleBuffered(t *testing.T) {
	b := NewBus()
	var got []uint64
	Subscribe(b, func(e StateCommitted) { got = append(got, e.Version) })

	Emit(b, StateCommitted{Version: 1})
	b.DispatchAll()
	assert.Empty(t, got, "events are not visible before the swap")

	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, []uint64{1}, got)

	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, []uint64{1}, got, "front buffer is cleared after two swaps")
}

func TestBus_ConcurrentEmit(t *testing.T) {
	b := NewBus()
	count := 0
	Subscribe(b, func(EntityEliminated) { count++ })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Emit(b, EntityEliminated{EntityID: "x"})
		}()
	}
	wg.Wait()

	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, 50, count)
}
