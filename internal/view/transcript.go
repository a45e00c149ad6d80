// Package view renders a session into the HTML fragment and control state
// the chat page redraws on every change.
package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/fortisvoice/backend/internal/model/chat"
)

const transcriptTemplate = `<div class="chat" id="chatShell" data-revision="{{.Revision}}">
{{- range .Messages}}
  <div class="row {{.Role}}" data-id="{{.ID}}">
    <div class="bubble" dir="auto"{{with .Language}} lang="{{.}}"{{end}}>
      {{- if eq .Kind "audio"}}
      <audio controls preload="none" src="/api/session/{{.SessionID}}/messages/{{.ID}}/audio"></audio>
      {{- with .Transcript}}<div class="transcript">{{lines .}}</div>{{end}}
      {{- else}}{{lines .Content}}{{end}}
      <span class="time">{{.DisplayTime}}</span>
    </div>
  </div>
{{- end}}
{{- if .Busy}}
  {{- with .Pending}}
  <div class="row user pending"><div class="bubble" dir="auto">{{lines .}}</div></div>
  {{- end}}
  <div class="row assistant typing"><div class="bubble"><span></span><span></span><span></span></div></div>
{{- end}}
{{- if and (not .Messages) (not .Busy)}}
  <div class="empty">No messages yet. Type below or tap the mic to talk.</div>
{{- end}}
</div>`

var transcript = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"lines": lines,
}).Parse(transcriptTemplate))

// lines escapes text and keeps its line breaks.
func lines(text string) template.HTML {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, part := range parts {
		parts[i] = template.HTMLEscapeString(part)
	}
	return template.HTML(strings.Join(parts, "<br>"))
}

// RenderTranscript writes the transcript fragment for session. Rendering has
// no effect on the session.
func RenderTranscript(w io.Writer, session chat.Session) error {
	if err := transcript.Execute(w, session); err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}
	return nil
}

// Controls is the enabled state of the composer.
type Controls struct {
	Disabled  bool   `json:"disabled"`
	Listening bool   `json:"listening"`
	Busy      bool   `json:"busy"`
	Draft     string `json:"draft"`
	Locale    string `json:"locale"`
	AutoSpeak bool   `json:"autoSpeak"`
}

// State is one full redraw.
type State struct {
	Revision  uint64   `json:"revision"`
	HTML      string   `json:"html"`
	Controls  Controls `json:"controls"`
	LastReply string   `json:"lastReply"`
	Count     int      `json:"count"`
}

// Build renders session into a redraw.
func Build(session chat.Session) (State, error) {
	var buf bytes.Buffer
	if err := RenderTranscript(&buf, session); err != nil {
		return State{}, err
	}

	return State{
		Revision: session.Revision,
		HTML:     buf.String(),
		Controls: Controls{
			Disabled:  session.Listening || session.Busy,
			Listening: session.Listening,
			Busy:      session.Busy,
			Draft:     session.Draft,
			Locale:    session.Settings.Locale,
			AutoSpeak: session.Settings.AutoSpeak,
		},
		LastReply: session.LastReply,
		Count:     len(session.Messages),
	}, nil
}
