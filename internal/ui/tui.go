package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"chat-app/internal/message"
)

// TUIDisplay renders the chat screen using tview. Submitted input is
// delivered on Lines.
type TUIDisplay struct {
	app      *tview.Application
	messages *tview.TextView
	notices  *tview.TextView
	input    *tview.InputField
	lines    chan string
	once     sync.Once
}

func NewTUIDisplay() *TUIDisplay {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(false).
		SetScrollable(true)
	messages.SetBorder(true).SetTitle("Let's Chat")

	notices := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	notices.SetBorder(true).SetTitle("System")

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)

	td := &TUIDisplay{
		app:      tview.NewApplication(),
		messages: messages,
		notices:  notices,
		input:    input,
		lines:    make(chan string, 16),
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := strings.TrimSpace(input.GetText())
			input.SetText("")
			select {
			case td.lines <- text:
			default:
			}
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 5, false).
		AddItem(notices, 8, 1, false).
		AddItem(input, 3, 1, true)

	td.app.SetRoot(layout, true).EnableMouse(true)
	return td
}

// Lines delivers submitted input, including empty lines.
func (t *TUIDisplay) Lines() <-chan string {
	return t.lines
}

func (t *TUIDisplay) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	return t.app.Run()
}

func (t *TUIDisplay) Stop() {
	t.once.Do(func() {
		t.app.Stop()
	})
}

func (t *TUIDisplay) ShowMessages(msgs []message.Message) {
	var b strings.Builder
	for _, msg := range chronological(msgs) {
		name := msg.Author.Name
		if name == "" {
			name = msg.Author.ID
		}
		ts := msg.CreatedAt.Local().Format("15:04:05")
		fmt.Fprintf(&b, "[yellow][%s][-] [lightgreen]%s[-]: %s\n", ts, tview.Escape(name), tview.Escape(body(msg)))
	}
	content := b.String()
	t.app.QueueUpdateDraw(func() {
		t.messages.SetText(content)
		t.messages.ScrollToEnd()
	})
}

func (t *TUIDisplay) ShowSystem(text string) {
	content := fmt.Sprintf("[green]>>> %s[-]\n", tview.Escape(text))
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.notices, content)
		t.notices.ScrollToEnd()
	})
}

func (t *TUIDisplay) ShowNotification(n Notification) {
	content := fmt.Sprintf("[orange]** %s [-] %s\n", strings.ToUpper(n.Level), tview.Escape(n.Text))
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.notices, content)
		t.notices.ScrollToEnd()
	})
}

// UpdateStatus titles the chat with the display name, applies the chosen
// background and relabels the input while offline.
func (t *TUIDisplay) UpdateStatus(s Status) {
	bg := tcell.GetColor(s.BackgroundColor)
	t.app.QueueUpdateDraw(func() {
		t.messages.SetTitle(s.Title)
		if s.BackgroundColor != "" {
			t.messages.SetBackgroundColor(bg)
		}
		if s.Online {
			t.input.SetLabel("> ")
		} else {
			t.input.SetLabel("(offline) ")
		}
	})
}
