package bufferpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquire_MissAllocatesExactSize(t *testing.T) {
	p := New()
	buf := p.Acquire(160)
	assert.Len(t, buf, 160)
}

func TestAcquireRelease_SecondAcquireIsHit(t *testing.T) {
	p := New()
	buf := p.Acquire(320)
	p.Release(buf)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats[320].Misses)

	buf2 := p.Acquire(320)
	assert.Len(t, buf2, 320)

	stats = p.Stats()
	assert.Equal(t, int64(1), stats[320].Hits)
}

func TestRelease_ZeroesBuffer(t *testing.T) {
	p := New()
	buf := p.Acquire(4)
	for i := range buf {
		buf[i] = 0xFF
	}
	p.Release(buf)

	buf2 := p.Acquire(4)
	for _, b := range buf2 {
		assert.Equal(t, byte(0), b)
	}
}

func TestRelease_RespectsMaxPoolSize(t *testing.T) {
	p := New(WithMaxPoolSize(2))
	bufs := make([][]byte, 5)
	for i := range bufs {
		bufs[i] = p.Acquire(160)
	}
	for _, b := range bufs {
		p.Release(b)
	}
	stats := p.Stats()
	assert.LessOrEqual(t, stats[160].Available, 2)
}

func TestRelease_UnderMemoryPressureHalvesAvailable(t *testing.T) {
	p := New(WithMaxPoolSize(100))
	bufs := make([][]byte, 10)
	for i := range bufs {
		bufs[i] = p.Acquire(160)
	}
	for _, b := range bufs {
		p.Release(b)
	}
	before := p.Stats()[160].Available
	assert.Equal(t, 10, before)

	p.SetMemoryPressure(true)
	p.Release(p.Acquire(160))

	after := p.Stats()[160].Available
	assert.Less(t, after, before)
}

func TestRelease_UnderMemoryPressureDiscardsInstead(t *testing.T) {
	p := New()
	p.SetMemoryPressure(true)
	buf := make([]byte, 160)
	p.Release(buf)
	assert.Equal(t, 0, p.Stats()[160].Available)
}

func TestEvictIdle_RemovesStaleUncommonSizeClass(t *testing.T) {
	p := New()
	p.Release(p.Acquire(777))
	p.mu.Lock()
	p.classes[777].lastAccess = time.Now().Add(-10 * time.Minute)
	p.mu.Unlock()

	p.EvictIdle()

	_, exists := p.Stats()[777]
	assert.False(t, exists)
}

func TestEvictIdle_KeepsCommonSizeClassEvenWhenStale(t *testing.T) {
	p := New()
	p.Release(p.Acquire(160))
	p.mu.Lock()
	p.classes[160].lastAccess = time.Now().Add(-10 * time.Minute)
	p.mu.Unlock()

	p.EvictIdle()

	_, exists := p.Stats()[160]
	assert.True(t, exists)
}

func TestAcquire_NonPositiveSizeReturnsNil(t *testing.T) {
	p := New()
	assert.Nil(t, p.Acquire(0))
	assert.Nil(t, p.Acquire(-1))
}

func TestRelease_NilIsNoop(t *testing.T) {
	p := New()
	p.Release(nil)
}
