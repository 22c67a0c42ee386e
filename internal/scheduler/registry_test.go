package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRegistrySingleFlight(t *testing.T) {
	registry := NewRunRegistry()

	assert.True(t, registry.TryBegin("evaluation"))
	assert.False(t, registry.TryBegin("evaluation"))
	assert.True(t, registry.Running("evaluation"))

	// Distinct keys do not contend
	assert.True(t, registry.TryBegin("sync"))

	registry.End("evaluation")
	assert.False(t, registry.Running("evaluation"))
	assert.True(t, registry.TryBegin("evaluation"))
}

func TestRunRegistryConcurrentBegin(t *testing.T) {
	registry := NewRunRegistry()

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.TryBegin("evaluation") {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}
