// Package conversation owns the message list of one chat room. While online
// it follows a single live subscription and writes every snapshot through to
// the local cache; while offline it shows the last cached snapshot.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chat-app/internal/chaterr"
	"chat-app/internal/message"
	"chat-app/internal/network"
	"chat-app/internal/session"
)

// DefaultRoom is the collection every chat screen joins.
const DefaultRoom = "messages"

const reasonOffline = "You are offline. Messages can't be sent right now."

// maxResubscribe bounds the attempts made after a live stream ends on its own.
const maxResubscribe = 3

var ErrNotMounted = errors.New("conversation: not mounted")

// Subscription is one live query. Close releases it and closes Snapshots.
type Subscription interface {
	Snapshots() <-chan message.Snapshot
	Close() error
}

// Store is the real-time document store boundary.
type Store interface {
	Subscribe(ctx context.Context, room string) (Subscription, error)
	Append(ctx context.Context, room string, msg message.Message) error
}

// Cache is the local durable cache boundary.
type Cache interface {
	Write(key string, msgs []message.Message) error
	Read(key string) ([]message.Message, bool, error)
}

// OutgoingMessage is what the user composes; the author is filled in from
// the session and createdAt is assigned by the store.
type OutgoingMessage struct {
	Text     string
	Image    string
	Audio    string
	Location *message.Location
}

type Options struct {
	Store   Store
	Cache   Cache
	Session session.Context
	// Room defaults to DefaultRoom; it is also the cache key.
	Room string
	// OnChange receives a copy of the list after every replacement.
	OnChange func([]message.Message)
	// RetryDelay is the first pause between resubscribe attempts after a
	// live stream ends; it doubles per attempt. Defaults to 500ms.
	RetryDelay time.Duration
}

// Mode is the synchronizer state for the current mount.
type Mode int

const (
	Unmounted Mode = iota
	Live
	Offline
)

func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case Offline:
		return "offline"
	}
	return "unmounted"
}

// Stats counts subscription acquisitions and releases.
type Stats struct {
	Opens  int
	Closes int
}

type Synchronizer struct {
	opts Options

	// transition serializes Mount, SetConnectivity, Unmount and stream
	// recovery.
	transition sync.Mutex
	// deliver orders list replacements with their cache write and notify.
	deliver sync.Mutex

	mu       sync.Mutex
	mode     Mode
	sub      Subscription
	cancel   context.CancelFunc
	gen      uint64
	messages []message.Message
	stats    Stats
}

func New(opts Options) *Synchronizer {
	if opts.Room == "" {
		opts.Room = DefaultRoom
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &Synchronizer{opts: opts, messages: []message.Message{}}
}

// Mount enters Live or Offline for a freshly shown chat screen.
func (s *Synchronizer) Mount(ctx context.Context, state network.State) error {
	s.transition.Lock()
	defer s.transition.Unlock()
	s.mu.Lock()
	if s.mode != Unmounted {
		s.mu.Unlock()
		return s.switchTo(ctx, state)
	}
	s.messages = []message.Message{}
	s.mu.Unlock()
	if state == network.Connected {
		return s.goLive(ctx)
	}
	s.goOffline(false)
	return nil
}

// SetConnectivity reacts to a connectivity transition. Repeating the current
// state is a no-op, as is any call while unmounted.
func (s *Synchronizer) SetConnectivity(ctx context.Context, state network.State) error {
	s.transition.Lock()
	defer s.transition.Unlock()
	return s.switchTo(ctx, state)
}

func (s *Synchronizer) switchTo(ctx context.Context, state network.State) error {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	switch {
	case mode == Unmounted:
		return nil
	case state == network.Connected && mode == Live:
		return nil
	case state == network.Disconnected && mode == Offline:
		return nil
	case state == network.Connected:
		return s.goLive(ctx)
	default:
		s.teardown()
		s.goOffline(true)
		return nil
	}
}

// Unmount releases the active subscription, if any. It is safe to call more
// than once.
func (s *Synchronizer) Unmount() {
	s.transition.Lock()
	defer s.transition.Unlock()
	s.teardown()
	s.mu.Lock()
	s.mode = Unmounted
	s.mu.Unlock()
}

func (s *Synchronizer) goLive(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(context.Background())
	sub, err := s.opts.Store.Subscribe(ctx, s.opts.Room)
	if err != nil {
		cancel()
		log.Printf("conversation: subscribe %s: %v", s.opts.Room, err)
		s.goOffline(true)
		return fmt.Errorf("conversation: subscribe: %w", err)
	}
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.sub = sub
	s.cancel = cancel
	s.mode = Live
	s.stats.Opens++
	s.mu.Unlock()
	go s.follow(subCtx, gen, sub)
	return nil
}

func (s *Synchronizer) follow(ctx context.Context, gen uint64, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				s.recover(gen)
				return
			}
			s.apply(gen, snap)
		}
	}
}

// current reports whether gen is still the active generation in mode.
func (s *Synchronizer) current(gen uint64, mode Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.mode == mode
}

// recover handles a live stream that ended while still active. The dead
// subscription is released and a new one is requested; each failed attempt
// leaves the synchronizer Offline on the cache until the next attempt. Any
// external transition in between ends recovery.
func (s *Synchronizer) recover(gen uint64) {
	s.transition.Lock()
	if !s.current(gen, Live) {
		s.transition.Unlock()
		return
	}
	log.Printf("conversation: live stream for %s ended, resubscribing", s.opts.Room)
	s.teardown()
	err := s.goLive(context.Background())
	s.mu.Lock()
	token := s.gen
	s.mu.Unlock()
	s.transition.Unlock()

	delay := s.opts.RetryDelay
	for attempt := 1; err != nil && attempt < maxResubscribe; attempt++ {
		time.Sleep(delay)
		delay *= 2
		s.transition.Lock()
		if !s.current(token, Offline) {
			s.transition.Unlock()
			return
		}
		err = s.goLive(context.Background())
		s.transition.Unlock()
	}
	if err != nil {
		log.Printf("conversation: giving up on live stream for %s: %v", s.opts.Room, err)
	}
}

// apply replaces the list with snap unless the subscription that produced it
// has been torn down.
func (s *Synchronizer) apply(gen uint64, snap message.Snapshot) {
	list := message.Clone(snap.Messages)
	s.deliver.Lock()
	defer s.deliver.Unlock()
	s.mu.Lock()
	if gen != s.gen || s.mode != Live {
		s.mu.Unlock()
		return
	}
	s.messages = list
	s.mu.Unlock()

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Write(s.opts.Room, list); err != nil {
			log.Printf("conversation: %v", chaterr.New(chaterr.CacheWrite, "cache write failed", err))
		}
	}
	s.notify(list)
}

func (s *Synchronizer) teardown() {
	s.mu.Lock()
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.gen++
	if sub != nil {
		s.stats.Closes++
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Printf("conversation: close subscription: %v", err)
		}
	}
}

// goOffline shows the cached snapshot. On a transition from Live the
// current list is kept when the cache has nothing usable.
func (s *Synchronizer) goOffline(keepOnMiss bool) {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	var (
		cached []message.Message
		ok     bool
		err    error
	)
	if s.opts.Cache != nil {
		cached, ok, err = s.opts.Cache.Read(s.opts.Room)
		if err != nil {
			log.Printf("conversation: read cache %s: %v", s.opts.Room, err)
		}
	}
	s.mu.Lock()
	s.mode = Offline
	switch {
	case ok && err == nil:
		s.messages = message.Clone(cached)
	case !keepOnMiss:
		s.messages = []message.Message{}
	}
	list := message.Clone(s.messages)
	s.mu.Unlock()
	s.notify(list)
}

func (s *Synchronizer) notify(list []message.Message) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(list)
	}
}

// Append writes a message authored by the session user. It never retries
// and never echoes locally; the next snapshot carries the stored message.
func (s *Synchronizer) Append(ctx context.Context, out OutgoingMessage) error {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	switch mode {
	case Unmounted:
		return chaterr.New(chaterr.Write, "Chat is not open.", ErrNotMounted)
	case Offline:
		return chaterr.New(chaterr.Write, reasonOffline, nil)
	}
	msg := message.Message{
		Text:     out.Text,
		Image:    out.Image,
		Audio:    out.Audio,
		Location: out.Location,
		Author: message.Author{
			ID:   s.opts.Session.UserID,
			Name: s.opts.Session.DisplayName,
		},
	}
	if err := msg.Validate(); err != nil {
		return chaterr.New(chaterr.Validation, "Message is empty or has more than one attachment.", err)
	}
	if err := s.opts.Store.Append(ctx, s.opts.Room, msg); err != nil {
		return chaterr.New(chaterr.Write, "Message could not be sent.", err)
	}
	return nil
}

// Messages returns a copy of the displayed list, newest first.
func (s *Synchronizer) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return message.Clone(s.messages)
}

func (s *Synchronizer) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
