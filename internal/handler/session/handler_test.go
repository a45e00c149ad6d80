package session

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fortisvoice/backend/internal/model/chat"
	chatservice "github.com/fortisvoice/backend/internal/service/chat"
	"github.com/fortisvoice/backend/internal/service/reply"
)

type stubTranscriber struct {
	text string
}

func (s stubTranscriber) Transcribe(_ context.Context, _ []byte, _ string, _ string) (string, error) {
	return s.text, nil
}

func setupRouter(opts ...chatservice.Option) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(reply.NewRules(), opts...)
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	resp := do(r, http.MethodPost, "/session", []byte(`{}`))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Locale string `json:"locale"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Locale != chat.DefaultLocale {
		t.Fatalf("unexpected session %+v", created)
	}
	return created.ID
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, svc := setupRouter()
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if svc.Len() != 1 {
		t.Fatalf("expected one session, got %d", svc.Len())
	}
}

func TestCreateSessionInvalidLocale(t *testing.T) {
	r, _ := setupRouter()
	resp := do(r, http.MethodPost, "/session", []byte(`{"locale":"fr-FR"}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionMalformedBody(t *testing.T) {
	r, _ := setupRouter()
	resp := do(r, http.MethodPost, "/session", []byte(`{"locale":`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSubmitTextAppendsPair(t *testing.T) {
	r, _ := setupRouter()
	id := createSession(t, r)

	resp := do(r, http.MethodPost, "/session/"+id+"/messages", []byte(`{"text":"hello"}`))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var turn struct {
		User      chat.Message `json:"user"`
		Assistant chat.Message `json:"assistant"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.User.Content != "hello" || turn.Assistant.Role != chat.RoleAssistant {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if !strings.Contains(turn.Assistant.Content, "Hello") {
		t.Fatalf("expected greeting reply, got %q", turn.Assistant.Content)
	}

	resp = do(r, http.MethodGet, "/session/"+id, nil)
	var snapshot chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(snapshot.Messages) != 2 || snapshot.LastReply != turn.Assistant.Content {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestSubmitEmptyTextIsNoContent(t *testing.T) {
	r, svc := setupRouter()
	id := createSession(t, r)

	resp := do(r, http.MethodPost, "/session/"+id+"/messages", []byte(`{"text":"  "}`))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	session, _ := svc.GetSession(context.Background(), id)
	if len(session.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(session.Messages))
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	r, _ := setupRouter()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/session/nope"},
		{http.MethodDelete, "/session/nope"},
		{http.MethodPost, "/session/nope/messages"},
		{http.MethodPost, "/session/nope/clear"},
		{http.MethodGet, "/session/nope/transcript"},
		{http.MethodPost, "/session/nope/speak"},
	} {
		body := []byte(`{"text":"hi"}`)
		resp := do(r, tc.method, tc.path, body)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestClearAndTranscript(t *testing.T) {
	r, _ := setupRouter()
	id := createSession(t, r)
	do(r, http.MethodPost, "/session/"+id+"/messages", []byte(`{"text":"<i>hi</i>"}`))

	resp := do(r, http.MethodGet, "/session/"+id+"/transcript", nil)
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(resp.Body.String(), "&lt;i&gt;hi&lt;/i&gt;") {
		t.Fatalf("expected escaped message, got %s", resp.Body.String())
	}

	resp = do(r, http.MethodPost, "/session/"+id+"/clear", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var cleared chat.Session
	json.Unmarshal(resp.Body.Bytes(), &cleared)
	if len(cleared.Messages) != 0 || cleared.LastReply != "" || cleared.Draft != "" {
		t.Fatalf("clear left state behind: %+v", cleared)
	}
}

func TestSettingsUpdate(t *testing.T) {
	r, _ := setupRouter()
	id := createSession(t, r)

	resp := do(r, http.MethodPut, "/session/"+id+"/settings", []byte(`{"locale":"ur-PK","autoSpeak":true}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var settings chat.Settings
	json.Unmarshal(resp.Body.Bytes(), &settings)
	if settings.Locale != "ur-PK" || !settings.AutoSpeak {
		t.Fatalf("unexpected settings %+v", settings)
	}

	resp = do(r, http.MethodPut, "/session/"+id+"/settings", []byte(`{"autoSpeak":false}`))
	json.Unmarshal(resp.Body.Bytes(), &settings)
	if settings.Locale != "ur-PK" || settings.AutoSpeak {
		t.Fatalf("partial update lost locale: %+v", settings)
	}

	resp = do(r, http.MethodPut, "/session/"+id+"/settings", []byte(`{"locale":"xx"}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSpeakCommand(t *testing.T) {
	r, _ := setupRouter()
	id := createSession(t, r)

	resp := do(r, http.MethodPost, "/session/"+id+"/speak", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any reply, got %d", resp.Code)
	}

	do(r, http.MethodPost, "/session/"+id+"/messages", []byte(`{"text":"thanks"}`))
	resp = do(r, http.MethodPost, "/session/"+id+"/speak", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var cmd struct {
		Text   string `json:"text"`
		Locale string `json:"locale"`
		Script string `json:"script"`
	}
	json.Unmarshal(resp.Body.Bytes(), &cmd)
	if cmd.Text == "" || cmd.Locale != chat.DefaultLocale {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if !strings.HasPrefix(cmd.Script, "window.speechSynthesis.cancel();") {
		t.Fatalf("script must cancel first: %s", cmd.Script)
	}
}

func multipartAudio(t *testing.T, recordingID string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.webm")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(audio)
	if recordingID != "" {
		mw.WriteField("recordingId", recordingID)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSubmitAudioAndFetchClip(t *testing.T) {
	r, svc := setupRouter(chatservice.WithTranscriber(stubTranscriber{text: "assalam o alaikum"}))
	id := createSession(t, r)

	body, contentType := multipartAudio(t, "", []byte("RIFF-audio"))
	req := httptest.NewRequest(http.MethodPost, "/session/"+id+"/audio", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	session, _ := svc.GetSession(context.Background(), id)
	if len(session.Messages) != 2 {
		t.Fatalf("expected pair, got %d messages", len(session.Messages))
	}
	user := session.Messages[0]
	if user.Kind != chat.KindAudio || user.AudioFormat != "webm" || user.Transcript != "assalam o alaikum" {
		t.Fatalf("unexpected audio message %+v", user)
	}

	resp = do(r, http.MethodGet, "/session/"+id+"/messages/"+user.ID+"/audio", nil)
	if resp.Code != http.StatusOK || resp.Body.String() != "RIFF-audio" {
		t.Fatalf("unexpected clip response %d %q", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "audio/webm" {
		t.Fatalf("unexpected content type %q", ct)
	}

	resp = do(r, http.MethodGet, "/session/"+id+"/messages/"+session.Messages[1].ID+"/audio", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("text message served audio: %d", resp.Code)
	}
}

func TestSubmitAudioStaleRecording(t *testing.T) {
	r, svc := setupRouter()
	id := createSession(t, r)

	body, contentType := multipartAudio(t, "3", []byte("clip"))
	req := httptest.NewRequest(http.MethodPost, "/session/"+id+"/audio", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	session, _ := svc.GetSession(context.Background(), id)
	if len(session.Messages) != 0 {
		t.Fatalf("stale recording appended %d messages", len(session.Messages))
	}
}

func TestEmptyUploadReleasesRecording(t *testing.T) {
	r, svc := setupRouter()
	id := createSession(t, r)
	ctx := context.Background()

	recordingID, _, err := svc.BeginRecording(ctx, id)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	body, contentType := multipartAudio(t, "1", nil)
	req := httptest.NewRequest(http.MethodPost, "/session/"+id+"/audio", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.Listening || session.DeliveredTrigger != recordingID {
		t.Fatalf("recording left open: listening=%v delivered=%d", session.Listening, session.DeliveredTrigger)
	}
	if len(session.Messages) != 0 {
		t.Fatalf("empty clip appended %d messages", len(session.Messages))
	}
}

func TestBadUploadReleasesRecording(t *testing.T) {
	r, svc := setupRouter()
	id := createSession(t, r)
	ctx := context.Background()

	if _, _, err := svc.BeginRecording(ctx, id); err != nil {
		t.Fatalf("begin: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/session/"+id+"/audio?recordingId=1", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.Listening {
		t.Fatal("controls stayed disabled after a rejected upload")
	}
}

func TestUploadWithoutAudioFieldReleasesRecording(t *testing.T) {
	r, svc := setupRouter()
	id := createSession(t, r)
	ctx := context.Background()

	if _, _, err := svc.BeginRecording(ctx, id); err != nil {
		t.Fatalf("begin: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("recordingId", "1")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/session/"+id+"/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	session, _ := svc.GetSession(ctx, id)
	if session.Listening {
		t.Fatal("controls stayed disabled after an upload without audio")
	}
}

func TestAudioFormat(t *testing.T) {
	cases := []struct{ name, ct, want string }{
		{"clip.OGG", "", "ogg"},
		{"blob", "audio/webm;codecs=opus", "webm"},
		{"", "audio/x-wav", "wav"},
		{"", "", "wav"},
	}
	for _, tc := range cases {
		if got := AudioFormat(tc.name, tc.ct); got != tc.want {
			t.Fatalf("AudioFormat(%q, %q) = %q, want %q", tc.name, tc.ct, got, tc.want)
		}
	}
}

func TestLocales(t *testing.T) {
	r, _ := setupRouter()
	resp := do(r, http.MethodGet, "/locales", nil)
	var body struct {
		Locales []string `json:"locales"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	if len(body.Locales) != len(chat.SupportedLocales()) {
		t.Fatalf("unexpected locales %v", body.Locales)
	}
}
