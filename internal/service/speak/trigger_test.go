package speak

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortisvoice/backend/internal/model/chat"
)

// queueSynth models a browser speech queue: Speak enqueues, Cancel empties.
type queueSynth struct {
	queue []string
	calls []string
}

func (q *queueSynth) Cancel(context.Context) error {
	q.calls = append(q.calls, "cancel")
	q.queue = nil
	return nil
}

func (q *queueSynth) Speak(_ context.Context, u Utterance) error {
	q.calls = append(q.calls, "speak:"+u.Text)
	q.queue = append(q.queue, u.Text)
	return nil
}

func TestSpeakCancelsBeforeSpeaking(t *testing.T) {
	synth := &queueSynth{}
	trigger := NewTrigger(synth)
	ctx := context.Background()

	first, err := trigger.Speak(ctx, "first reply", "en-US")
	require.NoError(t, err)
	second, err := trigger.Speak(ctx, "second reply", "en-US")
	require.NoError(t, err)

	assert.Equal(t, []string{"cancel", "speak:first reply", "cancel", "speak:second reply"}, synth.calls)
	assert.Equal(t, []string{"second reply"}, synth.queue, "only the second string is audible")
	assert.Greater(t, second.Seq, first.Seq)
}

func TestSpeakRejectsBlankText(t *testing.T) {
	synth := &queueSynth{}
	_, err := NewTrigger(synth).Speak(context.Background(), "  ", "en-US")
	assert.ErrorIs(t, err, ErrNothingToSpeak)
	assert.Empty(t, synth.calls)
}

func TestLatestReply(t *testing.T) {
	_, err := LatestReply(chat.Session{})
	assert.ErrorIs(t, err, ErrNothingToSpeak)

	session := chat.Session{Messages: []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello!"},
		{Role: chat.RoleUser, Content: "again"},
		{Role: chat.RoleAssistant, Content: "Hello again!"},
	}}
	text, err := LatestReply(session)
	require.NoError(t, err)
	assert.Equal(t, "Hello again!", text)
}

func TestAutoSpeakFollowsToggle(t *testing.T) {
	assert.False(t, AutoSpeak(chat.Session{}))
	assert.True(t, AutoSpeak(chat.Session{Settings: chat.Settings{AutoSpeak: true}}))
}

func TestScriptLiteralIsScriptSafe(t *testing.T) {
	inputs := []string{
		`</script><script>alert(1)</script>`,
		"line one\nline two",
		`she said "hi" & left \ back`,
		"sep\u2028arator\u2029",
		"آپ کیسے ہیں؟",
	}

	for _, in := range inputs {
		lit := ScriptLiteral(in)
		assert.True(t, strings.HasPrefix(lit, `"`) && strings.HasSuffix(lit, `"`), lit)
		assert.NotContains(t, lit, "<")
		assert.NotContains(t, lit, ">")
		assert.NotContains(t, lit, "\n")
		assert.NotContains(t, lit, "\u2028")
		assert.NotContains(t, lit, "\u2029")

		var back string
		require.NoError(t, json.Unmarshal([]byte(lit), &back))
		assert.Equal(t, in, back)
	}
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand(`Bye </script>`, "ur-PK")
	assert.Equal(t, "ur-PK", cmd.Locale)
	assert.True(t, strings.HasPrefix(cmd.Script, "window.speechSynthesis.cancel();"))
	assert.Contains(t, cmd.Script, `u.lang="ur-PK"`)
	assert.NotContains(t, cmd.Script, "</script>")
}
