package framer

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu             sync.Mutex
	state          SocketState
	bufferedAmount int
	streamSID      string
	sent           [][]byte
	failNext       bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{state: SocketOpen, streamSID: "MZ1234"}
}

func (s *fakeSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSocket) BufferedAmount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedAmount
}

func (s *fakeSocket) StreamSID() string { return s.streamSID }

func (s *fakeSocket) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *fakeSocket) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSocket) setBuffered(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferedAmount = n
}

func (s *fakeSocket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SocketClosed
}

func TestEmitFrame_SendsMediaMessageWithMonotonicSeq(t *testing.T) {
	sock := newFakeSocket()
	f := New(sock)
	defer f.Close()

	f.EmitFrame(make([]byte, 160))
	f.EmitFrame(make([]byte, 160))

	require.Eventually(t, func() bool { return sock.sentCount() == 2 }, time.Second, 5*time.Millisecond)

	var first mediaWireMessage
	require.NoError(t, json.Unmarshal(sock.sent[0], &first))
	assert.Equal(t, "media", first.Event)
	assert.Equal(t, "1", first.SequenceNumber)
	assert.Equal(t, "MZ1234", first.StreamSID)

	var second mediaWireMessage
	require.NoError(t, json.Unmarshal(sock.sent[1], &second))
	assert.Equal(t, "2", second.SequenceNumber)
}

func TestEmitMark_SendsMarkMessage(t *testing.T) {
	sock := newFakeSocket()
	f := New(sock)
	defer f.Close()

	f.EmitMark()
	require.Eventually(t, func() bool { return sock.sentCount() == 1 }, time.Second, 5*time.Millisecond)

	var mark markWireMessage
	require.NoError(t, json.Unmarshal(sock.sent[0], &mark))
	assert.Equal(t, "mark", mark.Event)
	assert.Contains(t, mark.Mark.Name, "bedrock_out_")
}

func TestEnqueue_DropsOldestOnOverflowAndCountsOverrun(t *testing.T) {
	sock := newFakeSocket()
	sock.setBuffered(1 << 20) // force backpressure so nothing drains
	f := New(sock, WithBackpressureThreshold(100))
	defer f.Close()

	for i := 0; i < maxQueueDepth+5; i++ {
		f.EmitFrame(make([]byte, 160))
	}

	time.Sleep(20 * time.Millisecond)
	stats := f.Stats()
	assert.GreaterOrEqual(t, stats.Overruns, int64(5))
	assert.LessOrEqual(t, stats.QueueDepth, maxQueueDepth)
}

func TestBackpressure_SkipsSendWhenBufferedAmountHigh(t *testing.T) {
	sock := newFakeSocket()
	sock.setBuffered(1 << 20)
	f := New(sock, WithBackpressureThreshold(1000))
	defer f.Close()

	f.EmitFrame(make([]byte, 160))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sock.sentCount())

	sock.setBuffered(0)
	f.EmitFrame(make([]byte, 160))
	require.Eventually(t, func() bool { return sock.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestSocketOpen_ReflectsSocketState(t *testing.T) {
	sock := newFakeSocket()
	f := New(sock)
	defer f.Close()
	assert.True(t, f.SocketOpen())
	sock.close()
	assert.False(t, f.SocketOpen())
}
