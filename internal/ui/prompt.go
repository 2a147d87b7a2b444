package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chat-app/internal/attachment"
)

var ErrInputClosed = errors.New("ui: input closed")

// LinePrompter asks modal questions by showing them on the sink and reading
// the next input line. It must be driven from the goroutine that otherwise
// consumes lines, so a prompt never races the dispatcher for input.
type LinePrompter struct {
	sink  Sink
	lines <-chan string
}

func NewLinePrompter(sink Sink, lines <-chan string) *LinePrompter {
	return &LinePrompter{sink: sink, lines: lines}
}

// Ask shows prompt and returns the next line.
func (p *LinePrompter) Ask(ctx context.Context, prompt string) (string, error) {
	p.sink.ShowSystem(prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return strings.TrimSpace(line), nil
	}
}

// Choose lists options numbered from 1 and returns the chosen index. An
// empty answer selects the last option.
func (p *LinePrompter) Choose(ctx context.Context, title string, options []string) (int, error) {
	var b strings.Builder
	b.WriteString(title)
	for i, opt := range options {
		fmt.Fprintf(&b, "\n  %d) %s", i+1, opt)
	}
	prompt := b.String()
	for {
		answer, err := p.Ask(ctx, prompt)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return len(options) - 1, nil
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		prompt = fmt.Sprintf("Please choose 1-%d", len(options))
	}
}

// ChooseAction presents the action sheet.
func (p *LinePrompter) ChooseAction(ctx context.Context) (attachment.Action, error) {
	actions := attachment.Actions()
	labels := make([]string, len(actions))
	for i, a := range actions {
		labels[i] = a.String()
	}
	idx, err := p.Choose(ctx, "Attach:", labels)
	if err != nil {
		return attachment.Cancel, err
	}
	return actions[idx], nil
}

func (p *LinePrompter) UploadFailed(ctx context.Context, name, reason string) (attachment.Fallback, error) {
	p.sink.ShowNotification(Alert("Upload Failed: " + reason + " Send as text message instead?"))
	idx, err := p.Choose(ctx, name+":", []string{"Send Text", "Cancel"})
	if err != nil || idx != 0 {
		return attachment.Abandon, err
	}
	return attachment.SendAsText, nil
}

func (p *LinePrompter) RecordingControl(ctx context.Context) (attachment.RecordingChoice, error) {
	idx, err := p.Choose(ctx, "Recording...", []string{"Stop and send", "Discard"})
	if err != nil || idx != 0 {
		return attachment.Discard, err
	}
	return attachment.StopAndSend, nil
}
