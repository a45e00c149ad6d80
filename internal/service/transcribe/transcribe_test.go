package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortisvoice/backend/internal/config"
)

func TestAudioFrameRoundTrip(t *testing.T) {
	f, err := audioFrame([]byte("pcm-bytes"), 7, true)
	require.NoError(t, err)

	decoded, err := decodeFrame(encodeFrame(f))
	require.NoError(t, err)

	assert.Equal(t, frameAudioOnlyRequest, decoded.Type)
	assert.True(t, decoded.isLast())
	assert.Equal(t, int32(-7), decoded.Sequence)

	body, err := decoded.payload()
	require.NoError(t, err)
	assert.Equal(t, "pcm-bytes", string(body))
}

func TestDecodeFrameErrors(t *testing.T) {
	_, err := decodeFrame([]byte{0x11})
	assert.Error(t, err, "short header")

	_, err = decodeFrame([]byte{0x21, 0x90, 0x10, 0x00, 0, 0, 0, 0})
	assert.Error(t, err, "wrong protocol version")

	truncated := encodeFrame(&frame{Type: frameFullServerResponse, Payload: []byte("abcdef")})
	_, err = decodeFrame(truncated[:len(truncated)-2])
	assert.Error(t, err, "truncated payload")
}

func TestErrorFrameCarriesCode(t *testing.T) {
	raw := encodeFrame(&frame{Type: frameError, ErrorCode: 45000001, Payload: []byte("bad audio")})
	f, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(45000001), f.ErrorCode)
	assert.Equal(t, "bad audio", string(f.Payload))
}

// fakeASR accepts the client request and audio frames, then answers with a
// final gzip-compressed result.
func fakeASR(t *testing.T, result string, fail bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first, err := decodeFrame(data)
		if err != nil || first.Type != frameFullClientRequest {
			return
		}
		body, _ := first.payload()
		var req volcRequest
		if json.Unmarshal(body, &req) != nil || req.Request.ModelName != "bigmodel" {
			return
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := decodeFrame(data)
			if err != nil {
				return
			}
			if f.isLast() {
				break
			}
		}

		if fail {
			_ = conn.WriteMessage(websocket.BinaryMessage, encodeFrame(&frame{Type: frameError, ErrorCode: 45000000, Payload: []byte("invalid audio")}))
			return
		}

		resp, _ := json.Marshal(map[string]any{
			"code":     20000000,
			"sequence": -3,
			"result":   map[string]any{"text": result},
		})
		compressed, _ := gzipBytes(resp)
		_ = conn.WriteMessage(websocket.BinaryMessage, encodeFrame(&frame{
			Type:          frameFullServerResponse,
			Flags:         flagNegativeSequence,
			Serialization: serializationJSON,
			Compression:   compressionGzip,
			Sequence:      -3,
			Payload:       compressed,
		}))
	}))
}

func newTestVolcengine(server *httptest.Server) *Volcengine {
	v := NewVolcengine(config.SpeechConfig{
		Provider:    "volcengine",
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     "ws" + strings.TrimPrefix(server.URL, "http"),
	})
	v.chunkInterval = 0
	return v
}

func TestVolcengineTranscribe(t *testing.T) {
	server := fakeASR(t, " hello there ", false)
	defer server.Close()

	audio := make([]byte, volcChunkSize*2+100)
	text, err := newTestVolcengine(server).Transcribe(context.Background(), audio, "wav", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestVolcengineErrorFrame(t *testing.T) {
	server := fakeASR(t, "", true)
	defer server.Close()

	_, err := newTestVolcengine(server).Transcribe(context.Background(), []byte{1, 2, 3}, "wav", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid audio")
}

func TestVolcengineRejectsEmptyAudio(t *testing.T) {
	v := NewVolcengine(config.SpeechConfig{})
	_, err := v.Transcribe(context.Background(), nil, "wav", "")
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestVolcengineRejectsWebm(t *testing.T) {
	v := NewVolcengine(config.SpeechConfig{})
	_, err := v.Transcribe(context.Background(), []byte{1, 2, 3}, "webm", "ur")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestVolcengineRequestFormat(t *testing.T) {
	v := NewVolcengine(config.SpeechConfig{})

	req := v.buildRequest("u1", "ogg", "ur")
	assert.Equal(t, "ogg", req.Audio.Format)
	assert.Equal(t, "opus", req.Audio.Codec)
	assert.Empty(t, req.Audio.Language)

	req = v.buildRequest("u1", "", "en")
	assert.Equal(t, "wav", req.Audio.Format)
	assert.Equal(t, "raw", req.Audio.Codec)
	assert.Equal(t, "en-US", req.Audio.Language)
}

func TestWhisperTranscribe(t *testing.T) {
	var gotModel, gotLanguage, gotFile string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		file, header, err := r.FormFile("file")
		if err == nil {
			data, _ := io.ReadAll(file)
			gotFile = header.Filename + ":" + string(data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  salam  "}`))
	}))
	defer server.Close()

	w := NewWhisper(config.SpeechConfig{Provider: "openai", APIKey: "sk-test", Model: "whisper-1", BaseURL: server.URL + "/"})
	text, err := w.Transcribe(context.Background(), []byte("RIFF"), "WAV", "ur")
	require.NoError(t, err)

	assert.Equal(t, "salam", text)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "ur", gotLanguage)
	assert.Equal(t, "audio.wav:RIFF", gotFile)
}

type slowTranscriber struct{}

func (slowTranscriber) Transcribe(ctx context.Context, _ []byte, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	tr := WithTimeout(slowTranscriber{}, 10*time.Millisecond)
	_, err := tr.Transcribe(context.Background(), []byte{1}, "wav", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.SpeechConfig{Provider: "none"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	tr, err := New(config.SpeechConfig{Provider: "openai", APIKey: "sk", Model: "whisper-1", Timeout: time.Second})
	require.NoError(t, err)
	assert.NotNil(t, tr)
}
