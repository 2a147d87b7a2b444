package message

import (
	"errors"
	"strings"
	"time"
)

// Message is the chat document stored in a room collection. The JSON shape
// matches what the chat widget renders: `_id`, `user`, and one optional
// attachment field.
type Message struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Author    Author    `json:"user"`
	Image     string    `json:"image,omitempty"`
	Audio     string    `json:"audio,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// Author identifies the session that sent a message.
type Author struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Location is a GPS fix shared as an attachment.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Kind names the attachment a message carries.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindLocation Kind = "location"
)

var (
	ErrEmpty              = errors.New("message has neither text nor attachment")
	ErrMultipleAttachment = errors.New("message carries more than one attachment kind")
	ErrMissingAuthor      = errors.New("message author id required")
)

// Kind reports the attachment kind, or KindText for plain messages.
func (m Message) Kind() Kind {
	switch {
	case m.Image != "":
		return KindImage
	case m.Audio != "":
		return KindAudio
	case m.Location != nil:
		return KindLocation
	}
	return KindText
}

func (m Message) attachmentCount() int {
	n := 0
	if m.Image != "" {
		n++
	}
	if m.Audio != "" {
		n++
	}
	if m.Location != nil {
		n++
	}
	return n
}

// Validate enforces that a message carries text and/or exactly one
// attachment kind.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Author.ID) == "" {
		return ErrMissingAuthor
	}
	count := m.attachmentCount()
	if count > 1 {
		return ErrMultipleAttachment
	}
	if count == 0 && strings.TrimSpace(m.Text) == "" {
		return ErrEmpty
	}
	return nil
}

// Snapshot is a full, newest-first copy of a room collection.
type Snapshot struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// Clone returns a copy of msgs so callers cannot mutate shared state.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
