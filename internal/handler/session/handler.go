// Package session exposes the chat sessions over plain HTTP for clients
// that do not hold a websocket open.
package session

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
	chatsvc "github.com/fortisvoice/backend/internal/service/chat"
	"github.com/fortisvoice/backend/internal/service/speak"
	"github.com/fortisvoice/backend/internal/service/voice"
	"github.com/fortisvoice/backend/internal/view"
	"github.com/fortisvoice/backend/pkg/utils"
)

// MaxAudioBytes bounds an uploaded recording.
const MaxAudioBytes = 10 << 20

// Handler serves the session routes.
type Handler struct {
	chatSvc *chatsvc.Service
	voice   *voice.Bridge
}

// New creates a session handler.
func New(chatSvc *chatsvc.Service) *Handler {
	return &Handler{chatSvc: chatSvc, voice: voice.NewBridge(chatSvc)}
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/locales", h.handleLocales)
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(s chi.Router) {
		s.Get("/", h.handleGetSession)
		s.Delete("/", h.handleDeleteSession)
		s.Post("/messages", h.handleSubmitText)
		s.Get("/messages/{messageID}/audio", h.handleMessageAudio)
		s.Post("/audio", h.handleSubmitAudio)
		s.Post("/clear", h.handleClear)
		s.Put("/settings", h.handleSettings)
		s.Get("/transcript", h.handleTranscript)
		s.Post("/speak", h.handleSpeak)
	})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatsvc.ErrSessionNotFound), errors.Is(err, chatsvc.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatsvc.ErrInvalidLocale):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatsvc.ErrTurnInProgress), errors.Is(err, chatsvc.ErrTurnDiscarded):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		logger.For("http").Error("request failed", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) handleLocales(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"locales": chat.SupportedLocales(),
		"default": chat.DefaultLocale,
	})
}

type settingsPayload struct {
	Locale    string `json:"locale"`
	AutoSpeak *bool  `json:"autoSpeak"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var settings *chat.Settings
	if payload.Locale != "" || payload.AutoSpeak != nil {
		settings = &chat.Settings{Locale: payload.Locale}
		if payload.AutoSpeak != nil {
			settings.AutoSpeak = *payload.AutoSpeak
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), settings)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":        session.ID,
		"locale":    session.Settings.Locale,
		"autoSpeak": session.Settings.AutoSpeak,
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := h.chatSvc.SubmitText(r.Context(), chi.URLParam(r, "sessionID"), payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if turn == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, turn)
}

func (h *Handler) handleSubmitAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// The query copy of recordingId is readable even when the body is not.
	recordingID, err := parseRecordingID(r.URL.Query().Get("recordingId"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid recordingId")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioBytes)
	if err := r.ParseMultipartForm(MaxAudioBytes); err != nil {
		h.abandonRecording(r, sessionID, recordingID, voice.Failed("invalid upload"))
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	if recordingID == 0 {
		if recordingID, err = parseRecordingID(r.FormValue("recordingId")); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid recordingId")
			return
		}
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		h.abandonRecording(r, sessionID, recordingID, voice.Failed("missing audio"))
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		h.abandonRecording(r, sessionID, recordingID, voice.Failed("unreadable audio"))
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	if len(audio) == 0 {
		h.abandonRecording(r, sessionID, recordingID, voice.NoSpeech())
		w.WriteHeader(http.StatusNoContent)
		return
	}

	format := AudioFormat(header.Filename, header.Header.Get("Content-Type"))
	result, err := h.voice.SubmitAudio(r.Context(), sessionID, recordingID, audio, format)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	switch {
	case result.Duplicate:
		utils.RespondError(w, http.StatusConflict, "recording already delivered")
	case result.Notice != nil:
		utils.RespondError(w, http.StatusConflict, result.Notice.Message)
	default:
		utils.RespondJSON(w, http.StatusCreated, result)
	}
}

func parseRecordingID(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// abandonRecording ends a recording whose upload produced no clip, so the
// composer is enabled again.
func (h *Handler) abandonRecording(r *http.Request, sessionID string, recordingID uint64, outcome voice.Outcome) {
	if recordingID == 0 {
		return
	}
	if _, err := h.voice.Complete(r.Context(), sessionID, recordingID, outcome); err != nil {
		logger.For("http").Debug("abandon recording failed", "session", sessionID, "recording", recordingID, "err", err)
	}
}

// AudioFormat derives a short container name ("webm", "wav") from an upload's
// file name, falling back to its content type.
func AudioFormat(filename, contentType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		return ext
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
			return strings.TrimPrefix(sub, "x-")
		}
	}
	return "wav"
}

func (h *Handler) handleMessageAudio(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chatSvc.FindMessage(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if msg.Kind != chat.KindAudio || len(msg.Audio) == 0 {
		utils.RespondError(w, http.StatusNotFound, "message has no audio")
		return
	}

	w.Header().Set("Content-Type", "audio/"+msg.AudioFormat)
	w.Header().Set("Content-Length", strconv.Itoa(len(msg.Audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(msg.Audio)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Clear(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload settingsPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	current, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	settings := current.Settings
	if payload.Locale != "" {
		settings.Locale = payload.Locale
	}
	if payload.AutoSpeak != nil {
		settings.AutoSpeak = *payload.AutoSpeak
	}

	session, err := h.chatSvc.UpdateSettings(r.Context(), sessionID, settings)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Settings)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := view.RenderTranscript(w, session); err != nil {
		logger.For("http").Error("render transcript failed", "session", session.ID, "err", err)
	}
}

func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	text, err := speak.LatestReply(session)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "no reply to speak yet")
		return
	}
	utils.RespondJSON(w, http.StatusOK, speak.NewCommand(text, session.Settings.Locale))
}
