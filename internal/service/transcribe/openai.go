package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fortisvoice/backend/internal/config"
)

// Whisper transcribes through the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

// NewWhisper builds a client from cfg.
func NewWhisper(cfg config.SpeechConfig) *Whisper {
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(options...)
	return &Whisper{client: &client, model: cfg.Model}
}

var audioContentTypes = map[string]string{
	"wav":  "audio/wav",
	"webm": "audio/webm",
	"ogg":  "audio/ogg",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
}

// Transcribe uploads audio and returns the recognised text.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, format, languageHint string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}

	format = strings.ToLower(strings.TrimSpace(format))
	contentType, ok := audioContentTypes[format]
	if !ok {
		format, contentType = "wav", "audio/wav"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "audio."+format, contentType),
		Model: openai.AudioModel(w.model),
	}
	if languageHint != "" {
		params.Language = openai.String(languageHint)
	}

	transcription, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("whisper request failed: %w", err)
	}
	return strings.TrimSpace(transcription.Text), nil
}
