package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/voice"
)

const helpText = `Commands:
  /chat      switch to chat mode
  /search    switch to search mode
  /voice     start or stop a voice session
  /history   show the history of the current mode
  /clear     clear the history of the current mode
  /quit      exit
Any other line is sent to the current mode.`

// modes is the part of the application the console drives.
type modes interface {
	Chat() *conversation.Service
	Search() *conversation.Service
	Voice() *voice.Controller
}

// console is the line-oriented front end. Voice snapshots arrive on another
// goroutine, so every write goes through mu.
type console struct {
	out io.Writer
	app modes

	mu   sync.Mutex
	mode conversation.Mode

	// Voice rendering state, touched only by renderVoice.
	last    voice.Snapshot
	speaker string
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// attach binds the console to the application and picks the first
// configured text mode.
func (c *console) attach(a modes) {
	c.app = a
	c.mode = conversation.ModeChat
	if a.Chat() == nil && a.Search() != nil {
		c.mode = conversation.ModeSearch
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads lines from r until EOF, /quit, or ctx is done.
func (c *console) run(ctx context.Context, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("%s\n", helpText)
	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.handle(ctx, line) {
				return
			}
			c.prompt()
		}
	}
}

func (c *console) prompt() {
	c.printf("%s> ", c.currentMode())
}

func (c *console) currentMode() conversation.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *console) service() *conversation.Service {
	if c.currentMode() == conversation.ModeSearch {
		return c.app.Search()
	}
	return c.app.Chat()
}

// handle executes one input line and reports whether the console should exit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, line)
		return false
	}

	switch cmd := strings.Fields(line)[0]; cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printf("%s\n", helpText)
	case "/chat":
		c.switchMode(conversation.ModeChat, c.app.Chat())
	case "/search":
		c.switchMode(conversation.ModeSearch, c.app.Search())
	case "/voice":
		c.toggleVoice(ctx)
	case "/history":
		c.printHistory()
	case "/clear":
		if svc := c.service(); svc != nil {
			svc.Clear()
			c.printf("%s history cleared\n", c.currentMode())
		}
	default:
		c.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func (c *console) switchMode(m conversation.Mode, svc *conversation.Service) {
	if svc == nil {
		c.printf("%s mode is not configured\n", m)
		return
	}
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.printf("switched to %s mode\n", m)
}

func (c *console) send(ctx context.Context, text string) {
	svc := c.service()
	if svc == nil {
		c.printf("%s mode is not configured\n", c.currentMode())
		return
	}
	reply, err := svc.Send(ctx, text)
	switch {
	case errors.Is(err, conversation.ErrBusy):
		c.printf("still waiting for the previous answer\n")
		return
	case err != nil:
		return
	}
	c.printMessage(reply)
}

func (c *console) printMessage(m conversation.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	who := "you"
	if m.Role == conversation.RoleAssistant {
		who = "model"
	}
	fmt.Fprintf(c.out, "%s %s: %s\n", m.Timestamp.Format("15:04"), who, m.Content)
	for i, s := range m.Sources {
		fmt.Fprintf(c.out, "    [%d] %s <%s>\n", i+1, s.Title, s.URI)
	}
}

func (c *console) printHistory() {
	svc := c.service()
	if svc == nil {
		c.printf("%s mode is not configured\n", c.currentMode())
		return
	}
	h := svc.History()
	if len(h) == 0 {
		c.printf("no messages yet\n")
		return
	}
	for _, m := range h {
		c.printMessage(m)
	}
}

func (c *console) toggleVoice(ctx context.Context) {
	v := c.app.Voice()
	if v == nil {
		c.printf("voice is not configured\n")
		return
	}
	if err := v.Toggle(ctx); errors.Is(err, voice.ErrBusy) {
		c.printf("voice session is still connecting\n")
	}
	// Other failures are shown through the snapshot's error message.
}

// renderVoice prints state changes and streams transcript deltas. It is the
// voice observer, so calls are serialised.
func (c *console) renderVoice(s voice.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.SessionID != c.last.SessionID {
		c.last = voice.Snapshot{SessionID: s.SessionID}
		c.speaker = ""
	}
	if s.State != c.last.State {
		c.endLine()
		switch s.State {
		case voice.StateConnecting:
			fmt.Fprintln(c.out, "voice: Connecting...")
		case voice.StateActive:
			fmt.Fprintln(c.out, "voice: Listening...")
		case voice.StateClosed:
			fmt.Fprintln(c.out, "voice: stopped")
		case voice.StateErrored:
			fmt.Fprintln(c.out, "voice: "+s.Error)
		}
	}
	if s.Error == "" {
		c.streamDelta("you", c.last.UserText, s.UserText)
		c.streamDelta("model", c.last.AIText, s.AIText)
	}
	c.last = s
}

// streamDelta writes the part of cur that extends prev. A transcript that
// does not extend prev was reset and is ignored.
func (c *console) streamDelta(who, prev, cur string) {
	if len(cur) <= len(prev) || !strings.HasPrefix(cur, prev) {
		return
	}
	if c.speaker != who {
		c.endLine()
		fmt.Fprintf(c.out, "  %s: ", who)
		c.speaker = who
	}
	fmt.Fprint(c.out, cur[len(prev):])
}

func (c *console) endLine() {
	if c.speaker != "" {
		fmt.Fprintln(c.out)
		c.speaker = ""
	}
}
