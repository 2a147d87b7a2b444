// Package session validates the Start screen input, signs the user in
// anonymously and hands the resulting identity to the chat screen.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chat-app/internal/chaterr"
)

// DefaultColor is the background preselected on the Start screen.
const DefaultColor = "#090C08"

// Palette lists the background colors offered on the Start screen.
var Palette = []string{DefaultColor, "#474056", "#8A95A5", "#B9C6AE"}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const (
	reasonEmptyName = "Please enter your name"
	reasonBadColor  = "Please choose a valid background color"
	reasonSignIn    = "Unable to sign in, try again later."
)

// Context is the identity carried from the Start screen to the chat screen.
type Context struct {
	UserID          string
	DisplayName     string
	BackgroundColor string
}

// Authenticator performs anonymous sign-in and returns the assigned user id.
type Authenticator interface {
	SignInAnonymously(ctx context.Context) (string, error)
}

// Navigator opens the chat screen for a signed-in session.
type Navigator interface {
	OpenChat(ctx context.Context, sc Context) error
}

type Initiator struct {
	auth Authenticator
	nav  Navigator
}

func NewInitiator(auth Authenticator, nav Navigator) *Initiator {
	return &Initiator{auth: auth, nav: nav}
}

// NormalizeColor resolves a Start screen color choice. Empty selects the
// default; a 1-based palette index or any #RRGGBB value is accepted.
func NormalizeColor(choice string) (string, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return DefaultColor, nil
	}
	if len(choice) == 1 && choice[0] >= '1' && int(choice[0]-'0') <= len(Palette) {
		return Palette[choice[0]-'1'], nil
	}
	if !hexColor.MatchString(choice) {
		return "", chaterr.New(chaterr.Validation, reasonBadColor, fmt.Errorf("color %q", choice))
	}
	return strings.ToUpper(choice), nil
}

// Start validates input, signs in and opens the chat screen. Invalid input
// is rejected before the authenticator is contacted.
func (i *Initiator) Start(ctx context.Context, displayName, color string) (Context, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return Context{}, chaterr.New(chaterr.Validation, reasonEmptyName, nil)
	}
	bg, err := NormalizeColor(color)
	if err != nil {
		return Context{}, err
	}
	uid, err := i.auth.SignInAnonymously(ctx)
	if err != nil {
		return Context{}, chaterr.New(chaterr.Auth, reasonSignIn, err)
	}
	if uid == "" {
		return Context{}, chaterr.New(chaterr.Auth, reasonSignIn, fmt.Errorf("empty user id"))
	}
	sc := Context{UserID: uid, DisplayName: name, BackgroundColor: bg}
	if i.nav != nil {
		if err := i.nav.OpenChat(ctx, sc); err != nil {
			return sc, fmt.Errorf("session: open chat: %w", err)
		}
	}
	return sc, nil
}
