package fn

import (
	"fmt"
	"sync"
)

// FanOut runs functions concurrently and returns results in argument order.
// A panic in any function is re-raised in the calling goroutine after all
// of them have returned, so callers can recover it.
func FanOut[T any](fns ...func() T) []T {
	out := make([]T, len(fns))
	panics := make([]any, len(fns))
	var wg sync.WaitGroup
	for i, f := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { panics[i] = recover() }()
			out[i] = f()
		}()
	}
	wg.Wait()
	for i, p := range panics {
		if p != nil {
			panic(fmt.Sprintf("fn: fan-out branch %d: %v", i, p))
		}
	}
	return out
}
