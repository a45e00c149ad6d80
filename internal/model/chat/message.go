package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind identifies the payload a message carries.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// Message is one appended turn of a session transcript. Messages are never
// mutated after being appended.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Role        Role      `json:"role"`
	Kind        Kind      `json:"kind"`
	Content     string    `json:"content,omitempty"`
	Audio       []byte    `json:"-"`
	AudioFormat string    `json:"audioFormat,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsUser reports whether the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// Text returns the text the message stands for: its content, or the
// transcript of an audio payload.
func (m Message) Text() string {
	if m.Kind == KindAudio {
		return m.Transcript
	}
	return m.Content
}

// DisplayTime formats the creation time the way the chat bubbles show it.
func (m Message) DisplayTime() string {
	return m.CreatedAt.Local().Format("15:04")
}
