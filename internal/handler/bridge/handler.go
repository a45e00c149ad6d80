// Package bridge serves the websocket that carries voice outcomes, typed
// turns and redraws between a chat tab and its session.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/middleware"
	"github.com/fortisvoice/backend/internal/model/chat"
	chatsvc "github.com/fortisvoice/backend/internal/service/chat"
	"github.com/fortisvoice/backend/internal/service/speak"
	"github.com/fortisvoice/backend/internal/service/voice"
	"github.com/fortisvoice/backend/internal/view"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// DefaultTeardownGrace is how long a session outlives its last socket, so
// a tab that reconnects after a network drop keeps its conversation.
const DefaultTeardownGrace = 30 * time.Second

// Sessions is the session store the bridge drives.
type Sessions interface {
	voice.Store
	SetDraft(ctx context.Context, sessionID, draft string) (chat.Session, error)
	UpdateSettings(ctx context.Context, sessionID string, settings chat.Settings) (chat.Session, error)
	Clear(ctx context.Context, sessionID string) (chat.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Watch(sessionID string, fn func(chatsvc.Event)) func()
}

// Handler upgrades tab connections and dispatches their envelopes.
type Handler struct {
	sessions Sessions
	voice    *voice.Bridge
	upgrader websocket.Upgrader

	grace time.Duration

	mu      sync.Mutex
	conns   map[string]int
	pending map[string]*teardown
}

type teardown struct {
	timer *time.Timer
}

// Option customises a Handler.
type Option func(*Handler)

// WithTeardownGrace sets how long a session is kept after its last tab
// disconnects. Zero tears it down at once.
func WithTeardownGrace(d time.Duration) Option {
	return func(h *Handler) { h.grace = d }
}

// New creates a bridge handler. Upgrades are accepted from allowedOrigins
// only.
func New(sessions Sessions, allowedOrigins []string, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		voice:    voice.NewBridge(sessions),
		grace:    DefaultTeardownGrace,
		conns:    make(map[string]int),
		pending:  make(map[string]*teardown),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type outcomeMessage struct {
	RecordingID uint64            `json:"recordingId"`
	Kind        voice.OutcomeKind `json:"kind"`
	Text        string            `json:"text"`
	Reason      string            `json:"reason"`
}

type audioMessage struct {
	RecordingID uint64 `json:"recordingId"`
	Format      string `json:"format"`
	Audio       []byte `json:"audio"`
}

type textMessage struct {
	Text string `json:"text"`
}

type configMessage struct {
	Locale    string `json:"locale"`
	AutoSpeak *bool  `json:"autoSpeak,omitempty"`
}

type speakMessage struct {
	Cancel bool `json:"cancel"`
	speak.Utterance
}

// connection is one open tab. Writes from the read loop, turn goroutines
// and session watchers are serialized by writeMu.
type connection struct {
	ws        *websocket.Conn
	sessionID string
	writeMu   sync.Mutex
	speaker   *speak.Trigger
}

func (c *connection) send(msgType string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *connection) sendError(message string) {
	if err := c.send("error", map[string]string{"message": message}); err != nil {
		logger.For("bridge").Debug("write error failed", "session", c.sessionID, "err", err)
	}
}

func (c *connection) sendNotice(n *voice.Notice) {
	if n == nil {
		return
	}
	if err := c.send("notice", n); err != nil {
		logger.For("bridge").Debug("write notice failed", "session", c.sessionID, "err", err)
	}
}

func (c *connection) sendState(session chat.Session) {
	state, err := view.Build(session)
	if err != nil {
		logger.For("bridge").Error("render failed", "session", c.sessionID, "err", err)
		c.sendError("failed to render conversation")
		return
	}
	if err := c.send("state", state); err != nil {
		logger.For("bridge").Debug("write state failed", "session", c.sessionID, "err", err)
	}
}

func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Cancel is folded into the next speak envelope; the client always silences
// speech before starting an utterance.
func (c *connection) Cancel(context.Context) error {
	return nil
}

// Speak pushes an utterance to the tab.
func (c *connection) Speak(_ context.Context, u speak.Utterance) error {
	return c.send("speak", speakMessage{Cancel: true, Utterance: u})
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.For("bridge").Warn("upgrade failed", "session", sessionID, "err", err)
		return
	}
	defer ws.Close()

	log := logger.For("bridge").With("session", sessionID)
	log.Info("tab connected")

	conn := &connection{ws: ws, sessionID: sessionID}
	conn.speaker = speak.NewTrigger(conn)

	// Turns outlive the request context only as long as the socket does.
	ctx, cancel := context.WithCancel(context.Background())
	var turns sync.WaitGroup
	defer func() {
		cancel()
		turns.Wait()
	}()

	unwatch := h.sessions.Watch(sessionID, func(event chatsvc.Event) {
		h.onEvent(ctx, conn, event)
	})
	h.attach(sessionID)
	leaving := false
	defer func() {
		unwatch()
		h.detach(sessionID, leaving)
	}()

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	conn.sendState(session)

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read failed", "err", err)
			}
			log.Info("tab disconnected")
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		if msg.Type == "close" {
			leaving = true
			log.Info("tab closed")
			return
		}
		h.handleMessage(ctx, conn, &msg, &turns)
	}
}

// onEvent mirrors a session change to the tab. A session deleted elsewhere
// closes the socket, which ends the read loop.
func (h *Handler) onEvent(ctx context.Context, conn *connection, event chatsvc.Event) {
	switch event.Kind {
	case chatsvc.EventDeleted:
		conn.sendError("session closed")
		conn.ws.Close()
	case chatsvc.EventReplied:
		conn.sendState(event.Session)
		if event.Turn != nil && speak.AutoSpeak(event.Session) {
			if _, err := conn.speaker.Speak(ctx, event.Turn.Assistant.Content, event.Session.Settings.Locale); err != nil {
				logger.For("bridge").Debug("auto speak skipped", "session", conn.sessionID, "err", err)
			}
		}
	default:
		conn.sendState(event.Session)
	}
}

// attach and detach count the tabs open on a session. A session whose last
// tab disconnects is torn down after the grace period unless a tab attaches
// again first; a tab that announced it is closing tears it down at once.
func (h *Handler) attach(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[sessionID]++
	if td, ok := h.pending[sessionID]; ok {
		td.timer.Stop()
		delete(h.pending, sessionID)
	}
}

func (h *Handler) detach(sessionID string, leaving bool) {
	h.mu.Lock()
	h.conns[sessionID]--
	if h.conns[sessionID] > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.conns, sessionID)

	if leaving || h.grace <= 0 {
		h.mu.Unlock()
		h.teardown(sessionID)
		return
	}

	td := &teardown{}
	td.timer = time.AfterFunc(h.grace, func() { h.expire(sessionID, td) })
	h.pending[sessionID] = td
	h.mu.Unlock()
}

func (h *Handler) expire(sessionID string, td *teardown) {
	h.mu.Lock()
	if h.pending[sessionID] != td {
		h.mu.Unlock()
		return
	}
	delete(h.pending, sessionID)
	h.mu.Unlock()

	h.teardown(sessionID)
}

func (h *Handler) teardown(sessionID string) {
	if err := h.sessions.DeleteSession(context.Background(), sessionID); err != nil && !errors.Is(err, chatsvc.ErrSessionNotFound) {
		logger.For("bridge").Warn("teardown failed", "session", sessionID, "err", err)
	}
}

// Connections reports the number of tabs attached to sessionID.
func (h *Handler) Connections(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[sessionID]
}

func (h *Handler) handleMessage(ctx context.Context, conn *connection, msg *inboundMessage, turns *sync.WaitGroup) {
	switch msg.Type {
	case "listen":
		h.handleListen(ctx, conn)
	case "outcome":
		var payload outcomeMessage
		if err := decode(msg.Data, &payload); err != nil {
			conn.sendError("invalid outcome payload")
			return
		}
		outcome := voice.Outcome{Kind: payload.Kind, Text: payload.Text, Reason: payload.Reason}
		h.runTurn(turns, func() (voice.Result, error) {
			return h.voice.Complete(ctx, conn.sessionID, payload.RecordingID, outcome)
		}, conn)
	case "audio":
		var payload audioMessage
		if err := decode(msg.Data, &payload); err != nil {
			conn.sendError("invalid audio payload")
			return
		}
		h.runTurn(turns, func() (voice.Result, error) {
			return h.voice.SubmitAudio(ctx, conn.sessionID, payload.RecordingID, payload.Audio, payload.Format)
		}, conn)
	case "text":
		var payload textMessage
		if err := decode(msg.Data, &payload); err != nil {
			conn.sendError("invalid text payload")
			return
		}
		h.runTurn(turns, func() (voice.Result, error) {
			return h.submitText(ctx, conn.sessionID, payload.Text)
		}, conn)
	case "draft":
		var payload textMessage
		if err := decode(msg.Data, &payload); err != nil {
			conn.sendError("invalid draft payload")
			return
		}
		if _, err := h.sessions.SetDraft(ctx, conn.sessionID, payload.Text); err != nil {
			conn.sendError(err.Error())
		}
	case "speak":
		h.handleSpeak(ctx, conn)
	case "config":
		h.handleConfig(ctx, conn, msg.Data)
	case "clear":
		if _, err := h.sessions.Clear(ctx, conn.sessionID); err != nil {
			conn.sendError(err.Error())
		}
	case "sync":
		session, err := h.sessions.GetSession(ctx, conn.sessionID)
		if err != nil {
			conn.sendError(err.Error())
			return
		}
		conn.sendState(session)
	default:
		conn.sendError("unsupported message type: " + msg.Type)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (h *Handler) handleListen(ctx context.Context, conn *connection) {
	rec, err := h.voice.Begin(ctx, conn.sessionID)
	if err != nil {
		conn.sendError(err.Error())
		return
	}
	if err := conn.send("recording", rec); err != nil {
		logger.For("bridge").Debug("write recording failed", "session", conn.sessionID, "err", err)
	}
}

// runTurn completes a submission off the read loop so that clear and draft
// envelopes keep flowing while the reply is generated.
func (h *Handler) runTurn(turns *sync.WaitGroup, run func() (voice.Result, error), conn *connection) {
	turns.Add(1)
	go func() {
		defer turns.Done()

		result, err := run()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.For("bridge").Error("turn failed", "session", conn.sessionID, "err", err)
				conn.sendError(err.Error())
			}
			return
		}
		if result.Duplicate {
			return
		}
		conn.sendNotice(result.Notice)
	}()
}

func (h *Handler) submitText(ctx context.Context, sessionID, text string) (voice.Result, error) {
	_, err := h.sessions.SubmitText(ctx, sessionID, text)
	switch {
	case errors.Is(err, chatsvc.ErrTurnInProgress):
		return voice.Result{Notice: voice.BusyNotice()}, nil
	case errors.Is(err, chatsvc.ErrTurnDiscarded):
		return voice.Result{}, nil
	case err != nil:
		return voice.Result{}, err
	}
	return voice.Result{}, nil
}

func (h *Handler) handleSpeak(ctx context.Context, conn *connection) {
	session, err := h.sessions.GetSession(ctx, conn.sessionID)
	if err != nil {
		conn.sendError(err.Error())
		return
	}

	text, err := speak.LatestReply(session)
	if err == nil {
		_, err = conn.speaker.Speak(ctx, text, session.Settings.Locale)
	}
	switch {
	case errors.Is(err, speak.ErrNothingToSpeak):
		conn.sendNotice(&voice.Notice{Kind: "empty", Message: "There is no reply to read aloud yet."})
	case err != nil:
		logger.For("bridge").Debug("speak failed", "session", conn.sessionID, "err", err)
	}
}

func (h *Handler) handleConfig(ctx context.Context, conn *connection, raw json.RawMessage) {
	var payload configMessage
	if err := decode(raw, &payload); err != nil {
		conn.sendError("invalid config payload")
		return
	}

	session, err := h.sessions.GetSession(ctx, conn.sessionID)
	if err != nil {
		conn.sendError(err.Error())
		return
	}

	settings := session.Settings
	if payload.Locale != "" {
		settings.Locale = payload.Locale
	}
	if payload.AutoSpeak != nil {
		settings.AutoSpeak = *payload.AutoSpeak
	}

	if _, err := h.sessions.UpdateSettings(ctx, conn.sessionID, settings); err != nil {
		conn.sendError(err.Error())
		if errors.Is(err, chatsvc.ErrInvalidLocale) {
			conn.sendState(session)
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
