package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/app/call"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/media"
)

var errQuit = errors.New("quit")

const help = "commands: call <id> | accept | reject | hangup | mute | camera | status | whoami | quit"

type whoAmIer interface {
	WhoAmI() error
}

// control is the text control surface of the peer: it prints notifications
// and turns input lines into endpoint commands.
type control struct {
	out        io.Writer
	autoAnswer bool
	echo       *media.Echo
	ep         *call.Endpoint
	client     whoAmIer

	mu sync.Mutex
}

func (c *control) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Notify runs on the endpoint goroutine, so commands are issued from a new one.
func (c *control) Notify(n domain.Notification) {
	line := fmt.Sprintf("[%s] %s", n.State, n.Remote)
	if n.Reason != domain.ReasonNone {
		line += " (" + string(n.Reason) + ")"
	}
	c.printf("%s", line)

	switch n.State {
	case domain.StateRinging:
		if c.autoAnswer {
			go func() {
				if err := c.ep.Respond(context.Background(), true); err != nil {
					c.printf("auto-answer failed: %v", err)
				}
			}()
			return
		}
		c.printf("incoming call from %s, type accept or reject", n.Remote)
	case domain.StateIdle:
		if c.echo != nil {
			c.echo.Stop(n.Remote)
		}
	}
}

func (c *control) readCommands(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("%s", help)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep serving calls until canceled.
				<-ctx.Done()
				return ctx.Err()
			}
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				c.printf("error: %v", err)
			}
		}
	}
}

func (c *control) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "call":
		if len(fields) != 2 {
			return errors.New("usage: call <id>")
		}
		target, err := domain.ParseSessionID(fields[1])
		if err != nil {
			return err
		}
		return c.ep.Initiate(ctx, target)
	case "accept":
		return c.ep.Respond(ctx, true)
	case "reject":
		return c.ep.Respond(ctx, false)
	case "hangup":
		return c.ep.Hangup(ctx)
	case "mute":
		muted, err := c.ep.ToggleMute(ctx)
		if err == nil {
			c.printf("muted: %t", muted)
		}
		return err
	case "camera":
		off, err := c.ep.ToggleCamera(ctx)
		if err == nil {
			c.printf("camera off: %t", off)
		}
		return err
	case "status":
		s, err := c.ep.Session(ctx)
		if err == nil {
			c.printf("%s %s %s muted=%t camera_off=%t", s.State, s.Direction, s.Remote, s.Toggles.Muted, s.Toggles.CameraOff)
		}
		return err
	case "whoami":
		return c.client.WhoAmI()
	case "quit", "exit":
		return errQuit
	default:
		c.printf("%s", help)
		return nil
	}
}
