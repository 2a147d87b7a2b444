package attachment

import (
	"context"
	"errors"
	"io"

	"chat-app/internal/chaterr"
	"chat-app/internal/message"
)

// ErrCancelled is returned by a Device when the user backs out of a picker,
// the camera or a location request. It carries the Cancelled code.
var ErrCancelled error = chaterr.New(chaterr.Cancelled, "Cancelled.", errors.New("attachment: cancelled by user"))

// Permission names a device capability gated by the platform.
type Permission int

const (
	MediaLibrary Permission = iota
	Camera
	ForegroundLocation
	Microphone
)

func (p Permission) String() string {
	switch p {
	case MediaLibrary:
		return "media library"
	case Camera:
		return "camera"
	case ForegroundLocation:
		return "location"
	case Microphone:
		return "microphone"
	}
	return "unknown"
}

// Recording is one active microphone capture. Exactly one of Stop or
// Discard releases it; Discard after a successful Stop deletes the stopped
// file.
type Recording interface {
	Stop(ctx context.Context) (uri string, err error)
	Discard() error
}

// Device is the capability boundary: permission prompts and single-shot
// capture actions.
type Device interface {
	RequestPermission(ctx context.Context, p Permission) (bool, error)
	PickImage(ctx context.Context) (uri string, err error)
	TakePhoto(ctx context.Context) (uri string, err error)
	// CurrentLocation returns nil without error when no fix is available.
	CurrentLocation(ctx context.Context) (*message.Location, error)
	StartRecording(ctx context.Context) (Recording, error)
	// Open reads a payload produced by the device and reports its content type.
	Open(uri string) (io.ReadCloser, string, error)
}

// Uploader is the object store boundary.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	DownloadURL(ctx context.Context, key string) (string, error)
}

// Fallback is the recovery choice after a failed upload.
type Fallback int

const (
	Abandon Fallback = iota
	SendAsText
)

// RecordingChoice ends an active recording.
type RecordingChoice int

const (
	Discard RecordingChoice = iota
	StopAndSend
)

// Prompter asks the user the composer's modal questions.
type Prompter interface {
	// UploadFailed shows reason and offers a text fallback for name.
	UploadFailed(ctx context.Context, name, reason string) (Fallback, error)
	// RecordingControl blocks while a recording runs.
	RecordingControl(ctx context.Context) (RecordingChoice, error)
}
