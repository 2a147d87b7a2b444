// Package device implements the capability boundary for a terminal client:
// permission grants come from configuration, pickers ask for a file path,
// the GPS fix is configured, and recordings are written to disk.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chat-app/internal/attachment"
	"chat-app/internal/message"
)

// Asker prompts the user for one line of input.
type Asker func(ctx context.Context, prompt string) (string, error)

type Options struct {
	// Denied lists capabilities the user refuses.
	Denied map[attachment.Permission]bool
	// Fix is the reported position; nil means no fix is available.
	Fix *message.Location
	// RecordDir receives recordings.
	RecordDir string
	// RecordSource is copied into each stopped recording. When empty the
	// recording captures a short placeholder clip.
	RecordSource string
	Ask          Asker
}

// Local is the device used by the terminal client.
type Local struct {
	opts Options

	mu     sync.Mutex
	active *fileRecording
}

func NewLocal(opts Options) *Local {
	if opts.RecordDir == "" {
		opts.RecordDir = os.TempDir()
	}
	return &Local{opts: opts}
}

func (l *Local) RequestPermission(_ context.Context, p attachment.Permission) (bool, error) {
	return !l.opts.Denied[p], nil
}

// ParsePermissions maps a comma-separated list such as "camera,microphone".
func ParsePermissions(list string) (map[attachment.Permission]bool, error) {
	out := make(map[attachment.Permission]bool)
	for _, raw := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case "library", "media", "media library":
			out[attachment.MediaLibrary] = true
		case "camera":
			out[attachment.Camera] = true
		case "location":
			out[attachment.ForegroundLocation] = true
		case "microphone", "mic":
			out[attachment.Microphone] = true
		default:
			return nil, fmt.Errorf("device: unknown permission %q", raw)
		}
	}
	return out, nil
}

func (l *Local) askFile(ctx context.Context, prompt string) (string, error) {
	ask := l.opts.Ask
	if ask == nil {
		return "", errors.New("device: no input available")
	}
	answer, err := ask(ctx, prompt)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", attachment.ErrCancelled
	}
	path, err := filepath.Abs(expandHome(answer))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("device: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("device: %s is a directory", path)
	}
	return "file://" + filepath.ToSlash(path), nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

func (l *Local) PickImage(ctx context.Context) (string, error) {
	return l.askFile(ctx, "Image path (empty to cancel): ")
}

func (l *Local) TakePhoto(ctx context.Context) (string, error) {
	return l.askFile(ctx, "Captured photo path (empty to cancel): ")
}

func (l *Local) CurrentLocation(context.Context) (*message.Location, error) {
	if l.opts.Fix == nil {
		return nil, nil
	}
	fix := *l.opts.Fix
	return &fix, nil
}

// StartRecording opens a new recording file. Only one may be active.
func (l *Local) StartRecording(context.Context) (attachment.Recording, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return nil, attachment.ErrRecordingActive
	}
	if err := os.MkdirAll(l.opts.RecordDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(l.opts.RecordDir, "recording-*.m4a")
	if err != nil {
		return nil, err
	}
	rec := &fileRecording{owner: l, file: f, source: l.opts.RecordSource}
	l.active = rec
	return rec, nil
}

func (l *Local) release(rec *fileRecording) {
	l.mu.Lock()
	if l.active == rec {
		l.active = nil
	}
	l.mu.Unlock()
}

// Open reads a file:// uri and sniffs its content type.
func (l *Local) Open(uri string) (io.ReadCloser, string, error) {
	path := filepath.FromSlash(strings.TrimPrefix(uri, "file://"))
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", err
	}
	return f, http.DetectContentType(buf[:n]), nil
}

// placeholderClip stands in for microphone input when no source is set.
var placeholderClip = []byte("\x00\x00\x00\x18ftypM4A \x00\x00\x00\x00M4A mp42isom")

type fileRecording struct {
	owner  *Local
	file   *os.File
	source string
	once   sync.Once

	mu      sync.Mutex
	stopped string
}

func (r *fileRecording) Stop(context.Context) (string, error) {
	var (
		uri string
		err error
	)
	done := false
	r.once.Do(func() {
		done = true
		defer r.owner.release(r)
		err = r.capture()
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(r.file.Name())
			return
		}
		uri = "file://" + filepath.ToSlash(r.file.Name())
		r.mu.Lock()
		r.stopped = r.file.Name()
		r.mu.Unlock()
	})
	if !done {
		return "", errors.New("device: recording already released")
	}
	return uri, err
}

func (r *fileRecording) capture() error {
	if r.source == "" {
		_, err := r.file.Write(placeholderClip)
		return err
	}
	src, err := os.Open(r.source)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(r.file, src)
	return err
}

// Discard drops an active recording, or deletes the file of a stopped one.
func (r *fileRecording) Discard() error {
	var err error
	active := false
	r.once.Do(func() {
		active = true
		defer r.owner.release(r)
		_ = r.file.Close()
		err = os.Remove(r.file.Name())
	})
	if active {
		return err
	}
	r.mu.Lock()
	path := r.stopped
	r.stopped = ""
	r.mu.Unlock()
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("device: remove recording: %w", err)
	}
	return nil
}
