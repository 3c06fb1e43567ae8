package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterFuncRegistry(t *testing.T) {
	r := newAfterFuncRegistry()
	fired := make(chan string, 4)

	assert.False(t, r.rearm("a", time.Millisecond, func() { fired <- "a" }), "rearm of unknown id must not arm")
	assert.False(t, r.active("a"))

	r.arm("a", 5*time.Millisecond, func() { fired <- "a" })
	assert.True(t, r.active("a"))
	select {
	case id := <-fired:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	// Fired timers stay registered until cancelled.
	assert.True(t, r.active("a"))
	require.True(t, r.rearm("a", time.Hour, func() { fired <- "late" }))

	r.cancel("a")
	assert.False(t, r.active("a"))
	r.cancel("a")
}

func TestAfterFuncRegistryArmReplaces(t *testing.T) {
	r := newAfterFuncRegistry()
	var calls atomic.Int32
	r.arm("a", 20*time.Millisecond, func() { calls.Add(100) })
	done := make(chan struct{})
	r.arm("a", time.Millisecond, func() { calls.Add(1); close(done) })
	<-done
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	r.arm("b", time.Hour, func() {})
	r.stopAll()
	assert.False(t, r.active("b"))
}
