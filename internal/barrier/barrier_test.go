package barrier

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControlBlockReleasesAllAtOnce(t *testing.T) {
	const n = 8
	cb := New(n)
	var passed int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			cb.Enter()
			atomic.AddInt64(&passed, 1)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never released all participants")
	}
	assert.EqualValues(t, n, passed)
}

func TestLeaveReportsLastDeparture(t *testing.T) {
	cb := New(3)
	assert.False(t, cb.Leave())
	assert.False(t, cb.Leave())
	assert.True(t, cb.Leave())
}
