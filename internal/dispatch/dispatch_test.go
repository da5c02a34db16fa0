package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubject struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSubject) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestNormalize_AliasesContentIdFromContentName(t *testing.T) {
	raw := map[string]interface{}{"contentName": "abc"}
	out := Normalize(raw).(map[string]interface{})
	assert.Equal(t, "abc", out["contentId"])
	assert.Equal(t, "abc", out["contentName"])
}

func TestNormalize_PrefersContentIdWhenBothPresent(t *testing.T) {
	raw := map[string]interface{}{"contentId": "id1", "contentName": "name1"}
	out := Normalize(raw).(map[string]interface{})
	assert.Equal(t, "id1", out["contentId"])
	assert.Equal(t, "id1", out["contentName"])
}

func TestNormalize_ParsesAdditionalModelFieldsString(t *testing.T) {
	raw := map[string]interface{}{"additionalModelFields": `{"a":1}`}
	out := Normalize(raw).(map[string]interface{})
	parsed, ok := out["parsedAdditionalModelFields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), parsed["a"])
}

func TestNormalize_LeavesUnparsableStringUntouched(t *testing.T) {
	raw := map[string]interface{}{"additionalModelFields": "not json"}
	out := Normalize(raw).(map[string]interface{})
	assert.Equal(t, "not json", out["additionalModelFields"])
	_, exists := out["parsedAdditionalModelFields"]
	assert.False(t, exists)
}

func TestNormalize_NonObjectPassesThrough(t *testing.T) {
	assert.Equal(t, "hello", Normalize("hello"))
	assert.Equal(t, 42, Normalize(42))
}

func TestDispatch_PublishesToSubjectAndInvokesHandlers(t *testing.T) {
	subj := &recordingSubject{}
	r := NewRegistry(subj, nil)

	var typedCalled, anyCalled bool
	r.RegisterHandler("audioOutput", func(e Event) { typedCalled = true })
	r.RegisterAnyHandler(func(e Event) { anyCalled = true })

	r.Dispatch("audioOutput", map[string]interface{}{"payload": "xyz"})

	assert.True(t, typedCalled)
	assert.True(t, anyCalled)
	require.Len(t, subj.events, 1)
	assert.Equal(t, "audioOutput", subj.events[0].Type)
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	subj := &recordingSubject{}
	r := NewRegistry(subj, nil)

	var anyCalled bool
	r.RegisterHandler("boom", func(e Event) { panic("kaboom") })
	r.RegisterAnyHandler(func(e Event) { anyCalled = true })

	assert.NotPanics(t, func() { r.Dispatch("boom", nil) })
	assert.True(t, anyCalled)
}

func TestDispatch_NoHandlersIsNoop(t *testing.T) {
	subj := &recordingSubject{}
	r := NewRegistry(subj, nil)
	assert.NotPanics(t, func() { r.Dispatch("whatever", nil) })
}
