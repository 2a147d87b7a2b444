// Package attachment runs the action sheet flows: pick or capture a payload,
// upload it, and append the resulting message to the conversation.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"chat-app/internal/chaterr"
	"chat-app/internal/conversation"
	"chat-app/internal/session"
)

// Action is one entry of the action sheet.
type Action int

const (
	PickImage Action = iota
	TakePhoto
	ShareLocation
	RecordAudio
	Cancel
)

var actionLabels = map[Action]string{
	PickImage:     "Select an image from library",
	TakePhoto:     "Take a photo",
	ShareLocation: "Share location",
	RecordAudio:   "Record audio",
	Cancel:        "Cancel",
}

func (a Action) String() string {
	if label, ok := actionLabels[a]; ok {
		return label
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Actions lists the action sheet in display order; Cancel is last.
func Actions() []Action {
	return []Action{PickImage, TakePhoto, ShareLocation, RecordAudio, Cancel}
}

// Outcome reports how a flow ended when it did not fail.
type Outcome int

const (
	Abandoned Outcome = iota
	Sent
	SentFallback
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case SentFallback:
		return "sent as text"
	}
	return "abandoned"
}

var ErrRecordingActive = errors.New("attachment: a recording is already active")

const (
	reasonPermission = "Permissions haven't been granted."
	reasonLocation   = "Error occurred while fetching location"
	reasonRecording  = "Recording failed."
)

// Sender is the conversation append path.
type Sender interface {
	Append(ctx context.Context, out conversation.OutgoingMessage) error
}

type Options struct {
	Device   Device
	Uploader Uploader
	Sender   Sender
	Prompter Prompter
	Session  session.Context
	// Now stamps storage keys; defaults to time.Now.
	Now func() time.Time
}

type Composer struct {
	opts Options

	mu        sync.Mutex
	recording Recording
}

func New(opts Options) *Composer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Composer{opts: opts}
}

// Recording reports whether a microphone capture is active.
func (c *Composer) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording != nil
}

// Run executes one action sheet choice. Cancellation by the user ends with
// Abandoned and a nil error.
func (c *Composer) Run(ctx context.Context, action Action) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch action {
	case PickImage:
		out, err = c.sendImage(ctx, MediaLibrary, c.opts.Device.PickImage)
	case TakePhoto:
		out, err = c.sendImage(ctx, Camera, c.opts.Device.TakePhoto)
	case ShareLocation:
		out, err = c.shareLocation(ctx)
	case RecordAudio:
		out, err = c.recordAudio(ctx)
	case Cancel:
		return Abandoned, nil
	default:
		return Abandoned, fmt.Errorf("attachment: unknown action %d", int(action))
	}
	if errors.Is(err, ErrCancelled) {
		return Abandoned, nil
	}
	return out, err
}

func (c *Composer) requirePermission(ctx context.Context, p Permission) error {
	granted, err := c.opts.Device.RequestPermission(ctx, p)
	if err != nil {
		return chaterr.New(chaterr.PermissionDenied, reasonPermission, fmt.Errorf("request %s: %w", p, err))
	}
	if !granted {
		return chaterr.New(chaterr.PermissionDenied, reasonPermission, fmt.Errorf("%s denied", p))
	}
	return nil
}

func (c *Composer) sendImage(ctx context.Context, p Permission, acquire func(context.Context) (string, error)) (Outcome, error) {
	if err := c.requirePermission(ctx, p); err != nil {
		return Abandoned, err
	}
	uri, err := acquire(ctx)
	if err != nil {
		return Abandoned, err
	}
	return c.uploadAndSend(ctx, blobImage, uri)
}

func (c *Composer) shareLocation(ctx context.Context) (Outcome, error) {
	if err := c.requirePermission(ctx, ForegroundLocation); err != nil {
		return Abandoned, err
	}
	loc, err := c.opts.Device.CurrentLocation(ctx)
	if errors.Is(err, ErrCancelled) {
		return Abandoned, err
	}
	if err != nil || loc == nil {
		return Abandoned, chaterr.New(chaterr.Acquisition, reasonLocation, err)
	}
	if err := c.opts.Sender.Append(ctx, conversation.OutgoingMessage{Location: loc}); err != nil {
		return Abandoned, err
	}
	return Sent, nil
}

func (c *Composer) beginRecording(ctx context.Context) (Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording != nil {
		return nil, ErrRecordingActive
	}
	rec, err := c.opts.Device.StartRecording(ctx)
	if err != nil {
		return nil, chaterr.New(chaterr.Acquisition, reasonRecording, err)
	}
	c.recording = rec
	return rec, nil
}

func (c *Composer) endRecording() {
	c.mu.Lock()
	c.recording = nil
	c.mu.Unlock()
}

func (c *Composer) recordAudio(ctx context.Context) (Outcome, error) {
	if c.Recording() {
		return Abandoned, ErrRecordingActive
	}
	if err := c.requirePermission(ctx, Microphone); err != nil {
		return Abandoned, err
	}
	rec, err := c.beginRecording(ctx)
	if err != nil {
		return Abandoned, err
	}
	released := false
	defer func() {
		if !released {
			if err := rec.Discard(); err != nil {
				log.Printf("attachment: discard recording: %v", err)
			}
		}
		c.endRecording()
	}()

	choice, err := c.opts.Prompter.RecordingControl(ctx)
	if err != nil || choice == Discard {
		return Abandoned, err
	}
	released = true
	uri, err := rec.Stop(ctx)
	c.endRecording()
	if err != nil {
		return Abandoned, chaterr.New(chaterr.Acquisition, reasonRecording, err)
	}
	defer func() {
		if err := rec.Discard(); err != nil {
			log.Printf("attachment: remove stopped recording: %v", err)
		}
	}()
	return c.uploadAndSend(ctx, blobAudio, uri)
}

type blobKind struct {
	folder      string
	contentType string
	label       string
	fallback    string
}

var (
	blobImage = blobKind{folder: "images", contentType: "image/jpeg", label: "Image", fallback: "📸 Photo: "}
	blobAudio = blobKind{folder: "audio", contentType: "audio/mp4", label: "Audio", fallback: "🎤 Audio: "}
)

// baseName returns the last path element of a device uri.
func baseName(uri string) string {
	uri = strings.TrimRight(uri, "/\\")
	if i := strings.LastIndexAny(uri, "/\\"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// StorageKey derives a per-user, per-upload object name.
func StorageKey(userID string, at time.Time, uri string) string {
	return fmt.Sprintf("%s-%d-%s", userID, at.UnixMilli(), baseName(uri))
}

func (c *Composer) uploadAndSend(ctx context.Context, kind blobKind, uri string) (Outcome, error) {
	name := baseName(uri)
	link, err := c.upload(ctx, kind, uri)
	if err != nil {
		uerr := uploadError(kind, err)
		log.Printf("attachment: %s upload %s: %v", strings.ToLower(kind.label), name, uerr)
		choice, perr := c.opts.Prompter.UploadFailed(ctx, name, uerr.Reason)
		if perr != nil || choice != SendAsText {
			return Abandoned, perr
		}
		if err := c.opts.Sender.Append(ctx, conversation.OutgoingMessage{Text: kind.fallback + name}); err != nil {
			return Abandoned, err
		}
		return SentFallback, nil
	}
	out := conversation.OutgoingMessage{}
	if kind == blobAudio {
		out.Audio = link
	} else {
		out.Image = link
	}
	if err := c.opts.Sender.Append(ctx, out); err != nil {
		return Abandoned, err
	}
	return Sent, nil
}

func (c *Composer) upload(ctx context.Context, kind blobKind, uri string) (string, error) {
	key := kind.folder + "/" + StorageKey(c.opts.Session.UserID, c.opts.Now(), uri)
	body, contentType, err := c.opts.Device.Open(uri)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", uri, err)
	}
	defer body.Close()
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = kind.contentType
	}
	if err := c.opts.Uploader.Upload(ctx, key, contentType, body); err != nil {
		return "", err
	}
	return c.opts.Uploader.DownloadURL(ctx, key)
}

// uploadError classifies a failed upload for the fallback prompt.
func uploadError(kind blobKind, err error) *chaterr.Error {
	prefix := kind.label + " upload failed. "
	var reason string
	switch {
	case errors.Is(err, chaterr.ErrStorageUnauthorized):
		reason = prefix + "Storage permissions denied."
	case errors.Is(err, chaterr.ErrStorageCanceled), errors.Is(err, context.Canceled):
		reason = prefix + "Upload was canceled."
	case errors.Is(err, chaterr.ErrStorageUnknown):
		reason = prefix + "Unknown storage error. Please check your backend configuration."
	default:
		reason = prefix + err.Error()
	}
	return chaterr.New(chaterr.Upload, reason, err)
}
