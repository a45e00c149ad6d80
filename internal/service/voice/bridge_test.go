package voice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatsvc "github.com/fortisvoice/backend/internal/service/chat"
	"github.com/fortisvoice/backend/internal/service/reply"
)

func newBridge(t *testing.T) (*Bridge, *chatsvc.Service, string) {
	t.Helper()
	svc := chatsvc.NewService(reply.NewRules())
	session, err := svc.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	return NewBridge(svc), svc, session.ID
}

func TestCompletedRecordingDeliveredOnce(t *testing.T) {
	bridge, svc, id := newBridge(t)
	ctx := context.Background()

	rec, err := bridge.Begin(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ID)
	assert.Equal(t, "en-US", rec.Locale)

	listening, _ := svc.GetSession(ctx, id)
	assert.True(t, listening.Listening)

	first, err := bridge.Complete(ctx, id, rec.ID, Transcript("hello"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	require.NotNil(t, first.Turn)
	assert.False(t, first.Session.Listening)
	assert.Len(t, first.Session.Messages, 2)

	// The same outcome replayed by redraws or reconnects appends nothing.
	for i := 0; i < 3; i++ {
		again, err := bridge.Complete(ctx, id, rec.ID, Transcript("hello"))
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Nil(t, again.Turn)
	}

	session, _ := svc.GetSession(ctx, id)
	assert.Len(t, session.Messages, 2)
}

func TestSupersededRecordingIgnored(t *testing.T) {
	bridge, svc, id := newBridge(t)
	ctx := context.Background()

	stale, _ := bridge.Begin(ctx, id)
	current, _ := bridge.Begin(ctx, id)

	res, err := bridge.Complete(ctx, id, stale.ID, Transcript("old words"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Session.Listening, "newer recording must keep the controls disabled")

	res, err = bridge.Complete(ctx, id, stale.ID, Failed("network"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Session.Listening)

	res, err = bridge.Complete(ctx, id, current.ID, Transcript("new words"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	assert.False(t, res.Session.Listening)

	session, _ := svc.GetSession(ctx, id)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "new words", session.Messages[0].Content)
}

func TestOutcomeAfterClearIsNotDelivered(t *testing.T) {
	bridge, svc, id := newBridge(t)
	ctx := context.Background()

	rec, _ := bridge.Begin(ctx, id)
	_, err := svc.Clear(ctx, id)
	require.NoError(t, err)

	// Clear keeps the counters, so the open recording can still finish once.
	res, err := bridge.Complete(ctx, id, rec.ID, Transcript("hi"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = bridge.Complete(ctx, id, rec.ID, Transcript("hi"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestNonTranscriptOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		outcome    Outcome
		noticeKind string
	}{
		{name: "no speech", outcome: NoSpeech()},
		{name: "blank transcript", outcome: Transcript("   ")},
		{name: "unsupported", outcome: Unsupported(), noticeKind: NoticeUnsupported},
		{name: "error", outcome: Failed("network"), noticeKind: NoticeError},
		{name: "error without reason", outcome: Failed(""), noticeKind: NoticeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, _, id := newBridge(t)
			ctx := context.Background()

			rec, _ := bridge.Begin(ctx, id)
			res, err := bridge.Complete(ctx, id, rec.ID, tt.outcome)
			require.NoError(t, err)

			assert.Nil(t, res.Turn)
			assert.Empty(t, res.Session.Messages)
			assert.False(t, res.Session.Listening, "controls must be re-enabled")
			if tt.noticeKind == "" {
				assert.Nil(t, res.Notice)
				return
			}
			require.NotNil(t, res.Notice)
			assert.Equal(t, tt.noticeKind, res.Notice.Kind)
		})
	}
}

func TestErrorNoticeCarriesReason(t *testing.T) {
	bridge, _, id := newBridge(t)
	ctx := context.Background()

	rec, _ := bridge.Begin(ctx, id)
	res, err := bridge.Complete(ctx, id, rec.ID, Failed("not-allowed"))
	require.NoError(t, err)
	require.NotNil(t, res.Notice)
	assert.Equal(t, "not-allowed", res.Notice.Reason)
	assert.Contains(t, res.Notice.Message, "not-allowed")
}

func TestSubmitAudioAtMostOnce(t *testing.T) {
	bridge, svc, id := newBridge(t)
	ctx := context.Background()

	rec, _ := bridge.Begin(ctx, id)
	res, err := bridge.SubmitAudio(ctx, id, rec.ID, []byte("RIFF"), "wav")
	require.NoError(t, err)
	require.NotNil(t, res.Turn)
	assert.Equal(t, chatsvc.AudioUnavailableReply, res.Turn.Assistant.Content)

	res, err = bridge.SubmitAudio(ctx, id, rec.ID, []byte("RIFF"), "wav")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// Uploads without a recording id are always accepted.
	res, err = bridge.SubmitAudio(ctx, id, 0, []byte("RIFF"), "wav")
	require.NoError(t, err)
	assert.NotNil(t, res.Turn)

	session, _ := svc.GetSession(ctx, id)
	assert.Len(t, session.Messages, 4)
}

func TestUnknownSession(t *testing.T) {
	bridge, _, _ := newBridge(t)
	ctx := context.Background()

	_, err := bridge.Begin(ctx, "missing")
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)

	_, err = bridge.Complete(ctx, "missing", 1, Transcript("hi"))
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)
}
