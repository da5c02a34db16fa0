package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/dispatch"
)

func TestNew_AssignsUniqueIdentifiers(t *testing.T) {
	a := New("CA1", InferenceConfig{})
	b := New("CA2", InferenceConfig{})
	assert.NotEqual(t, a.PromptID, b.PromptID)
	assert.NotEqual(t, a.AudioContentID, b.AudioContentID)
}

func TestStart_SendsSessionStartPromptStartContentStartInOrder(t *testing.T) {
	s := New("CA1", InferenceConfig{MaxTokens: 10})
	s.Start()

	ctx := context.Background()
	names := []string{}
	for i := 0; i < 3; i++ {
		data, ok := s.Next(ctx)
		require.True(t, ok)
		var evt struct {
			Event map[string]json.RawMessage `json:"event"`
		}
		require.NoError(t, json.Unmarshal(data, &evt))
		for k := range evt.Event {
			names = append(names, k)
		}
	}
	assert.Equal(t, []string{"sessionStart", "promptStart", "contentStart"}, names)
	assert.Equal(t, ActiveStreamingAudio, s.State())
}

func TestStart_CalledTwiceIsNoop(t *testing.T) {
	s := New("CA1", InferenceConfig{})
	s.Start()
	state1 := s.State()
	s.Start()
	assert.Equal(t, state1, s.State())
}

func TestSendAudioInput_BeforeStartIsDropped(t *testing.T) {
	s := New("CA1", InferenceConfig{})
	s.SendAudioInput([]byte{1, 2, 3})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := s.Next(ctx)
	assert.False(t, ok)
}

func TestSendAudioInput_AfterStartIsDelivered(t *testing.T) {
	s := New("CA1", InferenceConfig{})
	s.Start()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, ok := s.Next(ctx)
		require.True(t, ok)
	}
	s.SendAudioInput([]byte{1, 2, 3})

	data, ok := s.Next(ctx)
	require.True(t, ok)
	var evt struct {
		Event map[string]interface{} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &evt))
	_, hasAudio := evt.Event["audioInput"]
	assert.True(t, hasAudio)
}

func TestBeginClose_SendsEndSequenceThenCloses(t *testing.T) {
	s := New("CA1", InferenceConfig{})
	s.Start()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = s.Next(ctx)
	}
	s.BeginClose()

	names := []string{}
	for i := 0; i < 3; i++ {
		data, ok := s.Next(ctx)
		if !ok {
			break
		}
		var evt struct {
			Event map[string]json.RawMessage `json:"event"`
		}
		require.NoError(t, json.Unmarshal(data, &evt))
		for k := range evt.Event {
			names = append(names, k)
		}
	}
	assert.Equal(t, []string{"contentEnd", "promptEnd", "sessionEnd"}, names)

	select {
	case <-s.ClosedSignal():
	default:
		t.Fatal("expected close signal to have fired")
	}
	assert.False(t, s.WaitingForResponse(), "waitingForResponse should clear once Close finalizes the session")
}

func TestClose_IsIdempotent(t *testing.T) {
	s := New("CA1", InferenceConfig{})
	assert.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
}

func TestPublish_FansOutToSubscribersNonBlocking(t *testing.T) {
	s := New("CA1", InferenceConfig{})
	ch := s.Subscribe(1)

	s.Dispatch.RegisterAnyHandler(func(e dispatch.Event) {})
	s.Dispatch.Dispatch("textOutput", map[string]interface{}{"text": "hi"})

	select {
	case evt := <-ch:
		assert.Equal(t, "textOutput", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected broadcast event")
	}
}

func TestQueue_DropsOldestOnOverflow(t *testing.T) {
	s := New("CA1", InferenceConfig{}, WithMaxQueueSize(1))
	s.Start() // fills the 1-slot queue repeatedly but should never block

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := s.Next(ctx)
	assert.True(t, ok)
}
