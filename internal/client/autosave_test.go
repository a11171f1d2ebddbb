package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerCoalescesRapidEdits(t *testing.T) {
	var saves atomic.Int32
	saver := NewAutosaver(50*time.Millisecond, func() { saves.Add(1) })

	for i := 0; i < 10; i++ {
		saver.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), saves.Load(), "rapid triggers must coalesce into one save")
}

func TestEachQuietPeriodSavesOnce(t *testing.T) {
	var saves atomic.Int32
	saver := NewAutosaver(20*time.Millisecond, func() { saves.Add(1) })

	saver.Trigger()
	time.Sleep(60 * time.Millisecond)
	saver.Trigger()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(2), saves.Load())
}

func TestStopCancelsPendingSave(t *testing.T) {
	var saves atomic.Int32
	saver := NewAutosaver(20*time.Millisecond, func() { saves.Add(1) })

	saver.Trigger()
	saver.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), saves.Load())
}

func TestFlushSavesImmediately(t *testing.T) {
	var saves atomic.Int32
	saver := NewAutosaver(time.Hour, func() { saves.Add(1) })

	saver.Trigger()
	saver.Flush()

	assert.Equal(t, int32(1), saves.Load())

	// The pending timer was consumed by the flush; nothing fires later.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), saves.Load())
}
