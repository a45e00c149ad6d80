package chat

import "time"

// Settings holds the per-tab preferences exposed in the sidebar.
type Settings struct {
	Locale    string `json:"locale"`
	AutoSpeak bool   `json:"autoSpeak"`
}

// Session captures one browser tab's conversation and UI state.
type Session struct {
	ID               string    `json:"id"`
	Settings         Settings  `json:"settings"`
	Messages         []Message `json:"messages"`
	Draft            string    `json:"draft"`
	LastReply        string    `json:"lastReply"`
	VoiceTrigger     uint64    `json:"voiceTrigger"`
	DeliveredTrigger uint64    `json:"deliveredTrigger"`
	Listening        bool      `json:"listening"`
	Busy             bool      `json:"busy"`
	Pending          string    `json:"pending,omitempty"`
	Revision         uint64    `json:"revision"`
	CreatedAt        time.Time `json:"createdAt"`
}

// LastAssistant returns the most recent assistant message, if any.
func (s Session) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
