package ui

import (
	"fmt"
	"time"

	"chat-app/internal/message"
)

// Status describes the chat screen header: the title is the display name and
// the background is the color chosen on the Start screen.
type Status struct {
	Title           string
	BackgroundColor string
	Online          bool
}

// Notification is used for alerts such as sign-in results or a lost
// connection.
type Notification struct {
	Text      string    `json:"text"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink is the unified interface every UI surface must satisfy.
type Sink interface {
	// ShowMessages renders the full newest-first list.
	ShowMessages([]message.Message)
	ShowSystem(string)
	ShowNotification(Notification)
	UpdateStatus(Status)
}

type multiSink struct {
	sinks []Sink
}

// NewMultiSink fans chat events out to each registered sink.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) ShowMessages(msgs []message.Message) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowMessages(msgs)
		}
	}
}

func (m *multiSink) ShowSystem(text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowSystem(text)
		}
	}
}

func (m *multiSink) ShowNotification(n Notification) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowNotification(n)
		}
	}
}

func (m *multiSink) UpdateStatus(s Status) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.UpdateStatus(s)
		}
	}
}

// Alert builds a Notification stamped now.
func Alert(text string) Notification {
	return Notification{Text: text, Level: "alert", Timestamp: time.Now()}
}

// body renders text plus the attachment of msg without markup.
func body(msg message.Message) string {
	var att string
	switch msg.Kind() {
	case message.KindImage:
		att = "[image: " + msg.Image + "]"
	case message.KindAudio:
		att = "[audio ▶ " + msg.Audio + "]"
	case message.KindLocation:
		att = fmt.Sprintf("[location: %.5f, %.5f]", msg.Location.Latitude, msg.Location.Longitude)
	}
	switch {
	case att == "":
		return msg.Text
	case msg.Text == "":
		return att
	}
	return msg.Text + " " + att
}

// chronological returns msgs oldest first for top-to-bottom rendering.
func chronological(msgs []message.Message) []message.Message {
	out := make([]message.Message, len(msgs))
	for i, msg := range msgs {
		out[len(msgs)-1-i] = msg
	}
	return out
}
