package jitter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	open   bool
	frames [][]byte
	marks  int
}

func newFakeSink() *fakeSink { return &fakeSink{open: true} }

func (f *fakeSink) SocketOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSink) EmitFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
}

func (f *fakeSink) EmitMark() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
}

func (f *fakeSink) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

func (f *fakeSink) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSink) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks
}

func TestAddAudio_ActivatesAndStartsTimer(t *testing.T) {
	sink := newFakeSink()
	b := New(sink, WithInterval(5*time.Millisecond))
	assert.False(t, b.Active())
	b.AddAudio(make([]byte, 160))
	assert.True(t, b.Active())
	b.Stop("test")
}

func TestTick_EmitsExactlyFrameSizeFrames(t *testing.T) {
	sink := newFakeSink()
	b := New(sink, WithInterval(5*time.Millisecond))
	b.AddAudio(make([]byte, 480)) // 3 frames worth

	require.Eventually(t, func() bool { return sink.frameCount() >= 3 }, time.Second, 5*time.Millisecond)
	for _, f := range sink.frames {
		assert.Len(t, f, DefaultFrameSize)
	}
	b.Stop("test")
}

func TestTick_StopsWhenSocketClosed(t *testing.T) {
	sink := newFakeSink()
	b := New(sink, WithInterval(5*time.Millisecond))
	b.AddAudio(make([]byte, 160))
	sink.close()

	require.Eventually(t, func() bool { return !b.Active() }, time.Second, 5*time.Millisecond)
}

func TestFlush_PadsPartialFrameWithMuLawSilence(t *testing.T) {
	sink := newFakeSink()
	b := New(sink, WithInterval(time.Hour))
	b.AddAudio(make([]byte, 50))

	b.Flush()

	require.Len(t, sink.frames, 1)
	frame := sink.frames[0]
	assert.Len(t, frame, DefaultFrameSize)
	for i := 50; i < DefaultFrameSize; i++ {
		assert.Equal(t, byte(0xFF), frame[i])
	}
	assert.Equal(t, 1, sink.markCount())
}

func TestStop_SendsMarkAtMostOnce(t *testing.T) {
	sink := newFakeSink()
	b := New(sink, WithInterval(time.Hour))
	b.AddAudio(make([]byte, 160))
	b.Stop("first")
	b.Stop("second")
	assert.Equal(t, 1, sink.markCount())
}

func TestAddAudio_OverflowDropsOldestNotNewest(t *testing.T) {
	sink := newFakeSink()
	b := New(sink, WithInterval(time.Hour), WithMaxBufferBytes(160))
	first := make([]byte, 160)
	for i := range first {
		first[i] = 0xAA
	}
	second := make([]byte, 160)
	for i := range second {
		second[i] = 0xBB
	}
	b.AddAudio(first)
	b.AddAudio(second)

	assert.Equal(t, 160, b.DataLength())
	b.Flush()
	require.Len(t, sink.frames, 1)
	assert.Equal(t, second, sink.frames[0])
}

type observerSpy struct {
	mu        sync.Mutex
	overruns  int
	underruns int
	delays    int
}

func (o *observerSpy) Overrun(level float64)                       { o.mu.Lock(); o.overruns++; o.mu.Unlock() }
func (o *observerSpy) Underrun(level float64)                      { o.mu.Lock(); o.underruns++; o.mu.Unlock() }
func (o *observerSpy) TickDelay(actual, nominal time.Duration)      { o.mu.Lock(); o.delays++; o.mu.Unlock() }

func TestAddAudio_OverflowNotifiesObserver(t *testing.T) {
	obs := &observerSpy{}
	sink := newFakeSink()
	b := New(sink, WithInterval(time.Hour), WithMaxBufferBytes(160), WithObserver(obs))
	b.AddAudio(make([]byte, 160))
	b.AddAudio(make([]byte, 160))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.overruns)
}
