package surface

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/holdscribe/internal/actor"
	"github.com/MrWong99/holdscribe/internal/message"
)

// Console is a terminal surface. An empty line toggles recording: it starts
// a session when none is active and ends the capture phase otherwise.
// "test" starts a microphone test. Notifications are written to out as
// plain lines.
type Console struct {
	ctrl  Controller
	in    io.Reader
	out   io.Writer
	inbox *actor.Mailbox[message.Message]

	// active is true from the moment a session is requested until its
	// terminal notification arrives. Owned by Run.
	active bool
}

// NewConsole creates a console reading commands from in and writing
// notifications to out. [Console.Bind] must be called before Run.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:    in,
		out:   out,
		inbox: actor.NewMailbox[message.Message](),
	}
}

// Bind sets the controller that receives console requests.
func (c *Console) Bind(ctrl Controller) { c.ctrl = ctrl }

// Deliver implements [Deliverer].
func (c *Console) Deliver(m message.Message) { c.inbox.Post(m) }

// Run processes input lines and notifications until ctx is cancelled or in
// reaches EOF.
func (c *Console) Run(ctx context.Context) error {
	defer c.inbox.Close()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	c.printf("press Enter to start recording, Enter again to stop, \"test\" to test the microphone")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			c.flush()
			return err
		case line := <-lines:
			c.command(line)
		case <-c.inbox.Ready():
			c.flush()
		}
	}
}

func (c *Console) flush() {
	for _, m := range c.inbox.Drain() {
		c.show(m)
	}
}

func (c *Console) command(line string) {
	switch strings.ToLower(line) {
	case "":
		if c.active {
			c.ctrl.Handle(message.Message{Type: message.EndSession})
			return
		}
		c.active = true
		c.ctrl.Handle(message.Message{Type: message.StartSession})
	case "test":
		if c.active {
			c.printf("a session is already running")
			return
		}
		c.active = true
		c.ctrl.Handle(message.Message{Type: message.TestMic})
	default:
		c.printf("unknown command %q", line)
	}
}

func (c *Console) show(m message.Message) {
	switch m.Type {
	case message.SessionState:
		switch m.State {
		case message.Capturing:
			c.active = true
			c.printf("recording, press Enter to stop")
		case message.AwaitingEngine:
			c.printf("loading model")
		case message.Transcribing:
			c.printf("transcribing")
		case message.Idle:
			c.active = false
		}
	case message.Progress:
		c.printf("transcribing %d%%", m.Percent)
	case message.SessionResult:
		c.active = false
		c.printf("> %s", m.Text)
	case message.SessionError:
		c.active = false
		c.printf("error: %s (%s)", m.Reason.Description(), m.Reason)
	case message.OpenMicSettings:
		c.printf("check the microphone permissions in your system settings")
	}
}

func (c *Console) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(c.out, format+"\n", args...); err != nil {
		slog.Debug("console write failed", "err", err)
	}
}
