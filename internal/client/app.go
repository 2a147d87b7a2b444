package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"chat-app/internal/attachment"
	"chat-app/internal/backendclient"
	"chat-app/internal/chaterr"
	"chat-app/internal/conversation"
	"chat-app/internal/device"
	"chat-app/internal/network"
	"chat-app/internal/session"
	"chat-app/internal/storage"
	"chat-app/internal/ui"
)

const (
	startTitle    = "Let's Chat"
	signedIn      = "Signed in Successfully!"
	connLost      = "Connection Lost!"
	chatHelp      = "Type a message and press Enter. /attach or + opens attachments, /leave returns to the start screen, /quit exits."
	askName       = "Your Name:"
	askColor      = "Choose Background Color (1-4 or #RRGGBB, Enter for default):"
	askRetry      = "Press Enter to try again."
	offlineNotice = "You are offline. Messages are read-only until the connection returns."
)

var (
	errLeave = errors.New("client: leave chat")
	errQuit  = errors.New("client: quit")
)

// App wires the terminal client: start screen, chat screen and the
// capability boundary.
type App struct {
	Cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	Cache     *storage.Cache
	API       *backendclient.Client
	Device    *device.Local
	Monitor   *network.Monitor
	Initiator *session.Initiator

	sink     ui.Sink
	cli      *ui.CLIDisplay
	tui      *ui.TUIDisplay
	in       io.Reader
	lineCh   chan string
	lines    <-chan string
	prompter *ui.LinePrompter
	logFile  *os.File

	mu   sync.Mutex
	chat *chatScreen
	once sync.Once
}

// chatScreen is one mount of the chat screen.
type chatScreen struct {
	session  session.Context
	sync     *conversation.Synchronizer
	composer *attachment.Composer
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	online bool
}

// NewApp wires all client dependencies. in and out back the CLI display and
// are ignored in TUI mode.
func NewApp(cfg *Config, in io.Reader, out io.Writer) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("client: data dir: %w", err)
	}
	cache, err := storage.OpenCache(cfg.CachePath())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	api := backendclient.New(cfg.BackendURL, cache)

	app := &App{
		Cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		Cache:   cache,
		API:     api,
		Monitor: network.NewMonitor(network.HTTPProbe{URL: api.HealthURL()}, cfg.ProbeEvery),
		in:      in,
	}

	if cfg.UseTUI {
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			cancel()
			_ = cache.Close()
			return nil, fmt.Errorf("client: log file: %w", err)
		}
		log.SetOutput(f)
		app.logFile = f
		app.tui = ui.NewTUIDisplay()
		app.sink = ui.NewMultiSink(app.tui)
		app.lines = app.tui.Lines()
	} else {
		app.cli = ui.NewCLIDisplay(out, ui.ShouldUseColor(cfg.NoColor))
		app.sink = ui.NewMultiSink(app.cli)
		app.lineCh = make(chan string)
		app.lines = app.lineCh
	}
	app.prompter = ui.NewLinePrompter(app.sink, app.lines)

	recordDir := cfg.RecordDir()
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		log.Printf("recording dir unavailable (%v), using temp dir", err)
		recordDir = ""
	}
	app.Device = device.NewLocal(device.Options{
		Denied:       cfg.Denied,
		Fix:          cfg.Fix,
		RecordDir:    recordDir,
		RecordSource: cfg.RecordSource,
		Ask:          app.prompter.Ask,
	})
	app.Initiator = session.NewInitiator(api, app)
	return app, nil
}

// Run shows the start screen and the chat screen until the user quits, the
// input closes or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.tui != nil {
		go func() {
			if err := a.tui.Run(ctx); err != nil {
				log.Printf("tui exited: %v", err)
			}
			cancel()
		}()
	} else {
		go ui.ReadLines(a.in, a.lineCh)
	}

	a.Monitor.Check(ctx)
	go a.Monitor.Run(ctx)

	name, color := a.Cfg.Name, a.Cfg.Color
	for {
		chat, err := a.startScreen(ctx, name, color)
		name, color = "", ""
		if err != nil {
			return quitErr(err)
		}
		a.sink.ShowNotification(ui.Alert(signedIn))
		err = a.chatLoop(ctx, chat)
		a.closeChat()
		if errors.Is(err, errLeave) {
			continue
		}
		return quitErr(err)
	}
}

func quitErr(err error) error {
	if errors.Is(err, errQuit) || errors.Is(err, ui.ErrInputClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startScreen collects the display name and color and signs in. Flag values
// are used for the first attempt only.
func (a *App) startScreen(ctx context.Context, name, color string) (*chatScreen, error) {
	preset := name != ""
	a.sink.UpdateStatus(ui.Status{
		Title:           startTitle,
		BackgroundColor: session.DefaultColor,
		Online:          a.Monitor.State() == network.Connected,
	})
	for {
		var err error
		if name == "" {
			if name, err = a.prompter.Ask(ctx, askName); err != nil {
				return nil, err
			}
		}
		if !preset && color == "" {
			if color, err = a.prompter.Ask(ctx, askColor); err != nil {
				return nil, err
			}
		}
		_, err = a.Initiator.Start(ctx, name, color)
		switch {
		case err == nil:
			a.mu.Lock()
			chat := a.chat
			a.mu.Unlock()
			return chat, nil
		case chaterr.Is(err, chaterr.Validation):
			a.sink.ShowNotification(ui.Alert(chaterr.Reason(err)))
			name, color, preset = "", "", false
		case chaterr.Is(err, chaterr.Auth):
			log.Printf("sign in: %v", err)
			a.sink.ShowNotification(ui.Alert(chaterr.Reason(err)))
			if _, err := a.prompter.Ask(ctx, askRetry); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

// OpenChat mounts the chat screen for sc. The screen reacts to connectivity
// changes until it is closed.
func (a *App) OpenChat(ctx context.Context, sc session.Context) error {
	a.closeChat()
	if a.cli != nil {
		a.cli.SetSelf(sc.UserID)
	}
	syncer := conversation.New(conversation.Options{
		Store:    a.API,
		Cache:    a.Cache,
		Session:  sc,
		Room:     a.Cfg.Room,
		OnChange: a.sink.ShowMessages,
	})
	chatCtx, cancel := context.WithCancel(ctx)
	chat := &chatScreen{
		session: sc,
		sync:    syncer,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	chat.composer = attachment.New(attachment.Options{
		Device:   a.Device,
		Uploader: a.API,
		Sender:   syncer,
		Prompter: a.prompter,
		Session:  sc,
	})

	state := a.Monitor.State()
	if err := syncer.Mount(chatCtx, state); err != nil {
		log.Printf("chat mount: %v", err)
	}
	chat.online = syncer.Mode() == conversation.Live

	a.mu.Lock()
	a.chat = chat
	a.mu.Unlock()

	a.updateStatus(chat)
	go a.watchConnectivity(chatCtx, chat)
	return nil
}

func (a *App) watchConnectivity(ctx context.Context, chat *chatScreen) {
	defer close(chat.done)
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-a.Monitor.Changes():
			chat.mu.Lock()
			wasOnline := chat.online
			chat.mu.Unlock()
			if state == network.Disconnected && wasOnline {
				a.sink.ShowNotification(ui.Alert(connLost))
			}
			if err := chat.sync.SetConnectivity(ctx, state); err != nil {
				log.Printf("chat connectivity: %v", err)
			}
			chat.mu.Lock()
			chat.online = chat.sync.Mode() == conversation.Live
			chat.mu.Unlock()
			a.updateStatus(chat)
		}
	}
}

func (a *App) updateStatus(chat *chatScreen) {
	chat.mu.Lock()
	online := chat.online
	chat.mu.Unlock()
	a.sink.UpdateStatus(ui.Status{
		Title:           chat.session.DisplayName,
		BackgroundColor: chat.session.BackgroundColor,
		Online:          online,
	})
	if !online {
		a.sink.ShowSystem(offlineNotice)
	}
}

func (a *App) closeChat() {
	a.mu.Lock()
	chat := a.chat
	a.chat = nil
	a.mu.Unlock()
	if chat == nil {
		return
	}
	chat.cancel()
	<-chat.done
	chat.sync.Unmount()
}

func (a *App) chatLoop(ctx context.Context, chat *chatScreen) error {
	if chat == nil {
		return errors.New("client: chat screen not open")
	}
	a.sink.ShowSystem(chatHelp)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-a.lines:
			if !ok {
				return ui.ErrInputClosed
			}
			if err := a.handleLine(ctx, chat, line); err != nil {
				return err
			}
		}
	}
}

func (a *App) handleLine(ctx context.Context, chat *chatScreen, line string) error {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil
	case "/quit":
		return errQuit
	case "/leave":
		return errLeave
	case "/help":
		a.sink.ShowSystem(chatHelp)
		return nil
	case "/attach", "+":
		return a.attach(ctx, chat)
	}
	return a.report(chat.sync.Append(ctx, conversation.OutgoingMessage{Text: line}))
}

func (a *App) attach(ctx context.Context, chat *chatScreen) error {
	if chat.sync.Mode() != conversation.Live {
		a.sink.ShowNotification(ui.Alert(offlineNotice))
		return nil
	}
	action, err := a.prompter.ChooseAction(ctx)
	if err != nil {
		return err
	}
	outcome, err := chat.composer.Run(ctx, action)
	if err != nil {
		return a.report(err)
	}
	log.Printf("attachment %s: %s", action, outcome)
	return nil
}

// report shows a user-facing failure. Input loss and shutdown are returned
// to end the screen.
func (a *App) report(err error) error {
	if chaterr.Silent(err) {
		return nil
	}
	if errors.Is(err, ui.ErrInputClosed) || errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("chat: %v", err)
	a.sink.ShowNotification(ui.Alert(chaterr.Reason(err)))
	return nil
}

// Shutdown stops background routines and releases resources.
func (a *App) Shutdown() {
	a.once.Do(func() {
		a.cancel()
		a.closeChat()
		if a.tui != nil {
			a.tui.Stop()
		}
		if a.Cache != nil {
			_ = a.Cache.Close()
		}
		if a.logFile != nil {
			log.SetOutput(os.Stderr)
			_ = a.logFile.Close()
		}
	})
}
