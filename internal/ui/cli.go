package ui

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"chat-app/internal/message"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiSelf  = "\x1b[35m"
	ansiSys   = "\x1b[32m"
	ansiAlert = "\x1b[31m"
)

// CLIDisplay renders chat events as lines of text. Snapshots are full lists,
// so only messages not printed before are written.
type CLIDisplay struct {
	out   io.Writer
	color bool
	self  string

	mu   sync.Mutex
	seen map[string]bool
}

func NewCLIDisplay(out io.Writer, color bool) *CLIDisplay {
	if out == nil {
		out = os.Stdout
	}
	return &CLIDisplay{out: out, color: color, seen: make(map[string]bool)}
}

// SetSelf marks messages from uid as the user's own and starts a fresh
// chat screen, so the next snapshot is printed in full.
func (c *CLIDisplay) SetSelf(uid string) {
	c.mu.Lock()
	c.self = uid
	c.seen = make(map[string]bool)
	c.mu.Unlock()
}

func (c *CLIDisplay) ShowMessages(msgs []message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range chronological(msgs) {
		if msg.ID != "" && c.seen[msg.ID] {
			continue
		}
		c.seen[msg.ID] = true
		fmt.Fprintln(c.out, c.formatLine(msg))
	}
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Fprintf(c.out, "%s[%s]%s %sSYSTEM%s: %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Fprintf(c.out, "[%s] SYSTEM: %s\n", ts, text)
}

func (c *CLIDisplay) ShowNotification(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := n.Timestamp.Format("15:04:05")
	prefix := "NOTIFY"
	if n.Level != "" {
		prefix = strings.ToUpper(n.Level)
	}
	line := fmt.Sprintf("[%s] %s: %s", ts, prefix, n.Text)
	if c.color {
		fmt.Fprintf(c.out, "%s%s%s\n", ansiAlert, line, ansiReset)
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *CLIDisplay) UpdateStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := "offline"
	if s.Online {
		state = "online"
	}
	if c.color {
		fmt.Fprintf(c.out, "%s== %s (%s) ==%s\n", ansiSys, s.Title, state, ansiReset)
		return
	}
	fmt.Fprintf(c.out, "== %s (%s) ==\n", s.Title, state)
}

func (c *CLIDisplay) formatLine(msg message.Message) string {
	ts := msg.CreatedAt.Local().Format("15:04:05")
	name := msg.Author.Name
	if name == "" {
		name = msg.Author.ID
	}
	if c.color {
		nameColor := ansiName
		if c.self != "" && msg.Author.ID == c.self {
			nameColor = ansiSelf
		}
		return fmt.Sprintf("%s[%s]%s %s%s%s: %s", ansiTime, ts, ansiReset, nameColor, name, ansiReset, body(msg))
	}
	return fmt.Sprintf("[%s] %s: %s", ts, name, body(msg))
}

// ReadLines forwards trimmed input lines to out and closes it at EOF.
func ReadLines(reader io.Reader, out chan<- string) {
	defer close(out)
	buf := bufio.NewReader(reader)
	for {
		line, err := buf.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" || err == nil {
			out <- trimmed
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("stdin err: %v", err)
			}
			return
		}
	}
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
