package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fortisvoice/backend/internal/config"
	"github.com/fortisvoice/backend/internal/logger"
)

const (
	volcResourceID = "volc.bigasr.sauc.duration"
	// 200ms of 16kHz 16-bit mono PCM.
	volcChunkSize = 6400
	volcOKCode    = 20000000
)

// Volcengine transcribes through the volcengine big-model streaming ASR
// websocket, sending the whole clip and waiting for the final result.
type Volcengine struct {
	url           string
	appID         string
	accessToken   string
	dialer        *websocket.Dialer
	chunkInterval time.Duration
}

// NewVolcengine builds a client from cfg.
func NewVolcengine(cfg config.SpeechConfig) *Volcengine {
	return &Volcengine{
		url:         cfg.BaseURL,
		appID:       cfg.AppID,
		accessToken: cfg.AccessToken,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
		chunkInterval: 20 * time.Millisecond,
	}
}

type volcRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
	} `json:"request"`
}

type volcUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type volcResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string          `json:"text"`
		Utterances []volcUtterance `json:"utterances,omitempty"`
	} `json:"result"`
}

// volcLanguages maps language hints to the codes the ASR accepts. Hints
// without an entry, Urdu and Hindi among them, leave the language unset so
// the service detects it.
var volcLanguages = map[string]string{
	"en": "en-US",
	"zh": "zh-CN",
	"ja": "ja-JP",
	"ko": "ko-KR",
}

type volcAudio struct {
	format string
	codec  string
}

// volcFormats maps upload containers to the format and codec the ASR
// decodes. Browser webm recordings are not among them.
var volcFormats = map[string]volcAudio{
	"":     {format: "wav", codec: "raw"},
	"wav":  {format: "wav", codec: "raw"},
	"pcm":  {format: "pcm", codec: "raw"},
	"raw":  {format: "pcm", codec: "raw"},
	"mp3":  {format: "mp3", codec: "raw"},
	"ogg":  {format: "ogg", codec: "opus"},
	"opus": {format: "ogg", codec: "opus"},
}

// Transcribe sends audio and returns the final transcript.
func (v *Volcengine) Transcribe(ctx context.Context, audio []byte, format, languageHint string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}
	if _, ok := volcFormats[format]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", v.appID)
	header.Set("X-Api-Access-Key", v.accessToken)
	header.Set("X-Api-Resource-Id", volcResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	log := logger.For("asr").With("connect", connectID)

	conn, resp, err := v.dialer.DialContext(ctx, v.url, header)
	if err != nil {
		return "", fmt.Errorf("failed to connect to ASR websocket: %w", err)
	}
	defer conn.Close()
	if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
		log.Debug("connected", "logid", logID)
	}

	// Unblock the reader when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	request := v.buildRequest(connectID, format, languageHint)
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	first, err := clientRequestFrame(payload)
	if err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(first)); err != nil {
		return "", fmt.Errorf("failed to send ASR request: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() { sendErr <- v.sendAudio(ctx, conn, audio) }()

	text, err := v.receive(conn)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		select {
		case serr := <-sendErr:
			if serr != nil {
				return "", fmt.Errorf("failed to send audio: %w", serr)
			}
		default:
		}
		return "", err
	}

	log.Debug("transcript received", "length", len(text))
	return text, nil
}

func (v *Volcengine) buildRequest(uid, format, languageHint string) *volcRequest {
	req := &volcRequest{}
	req.User.UID = uid
	audio, ok := volcFormats[format]
	if !ok {
		audio = volcFormats[""]
	}
	req.Audio.Format = audio.format
	req.Audio.Codec = audio.codec
	req.Audio.Language = volcLanguages[languageHint]
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	return req
}

func (v *Volcengine) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2)
	for start := 0; start < len(audio); start += volcChunkSize {
		end := min(start+volcChunkSize, len(audio))
		last := end == len(audio)

		f, err := audioFrame(audio[start:end], sequence, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(f)); err != nil {
			return fmt.Errorf("failed to send audio chunk %d: %w", sequence, err)
		}
		sequence++

		if last || v.chunkInterval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.chunkInterval):
		}
	}
	return nil
}

func (v *Volcengine) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read ASR response: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			return "", fmt.Errorf("failed to decode ASR frame: %w", err)
		}

		switch f.Type {
		case frameError:
			body, _ := f.payload()
			return "", fmt.Errorf("ASR error %d: %s", f.ErrorCode, string(body))
		case frameFullServerResponse:
			body, err := f.payload()
			if err != nil {
				return "", err
			}

			var resp volcResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", fmt.Errorf("failed to parse ASR response: %w", err)
			}
			if resp.Code != 0 && resp.Code != volcOKCode {
				return "", fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)
			}

			if candidate := resultText(resp); candidate != "" {
				text = candidate
			}
			if f.isLast() || resp.Sequence < 0 {
				return strings.TrimSpace(text), nil
			}
		}
	}
}

func resultText(resp volcResponse) string {
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}
