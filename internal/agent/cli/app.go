package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/propcheck/internal/agent/services"
	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
	"golang.org/x/term"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Connectivity is the part of the connectivity monitor the REPL reads.
type Connectivity interface {
	Online() bool
	ConsumeRestored() bool
}

// QueueView exposes upload queue state for display.
type QueueView interface {
	Status() uploadqueue.Status
	Items() []uploadqueue.ItemView
}

type App struct {
	jobs     services.JobService
	conn     Connectivity
	queue    QueueView
	assignee string
	session  *services.JobSession
	out      io.Writer

	// publicURL prefixes uploaded paths when listing
	publicURL string

	// readFile is swapped in tests
	readFile func(string) ([]byte, error)
}

func NewApp(jobs services.JobService, conn Connectivity, queue QueueView, assignee, publicURL string, out io.Writer) *App {
	if out == nil {
		out = os.Stdout
	}
	return &App{
		jobs:      jobs,
		conn:      conn,
		queue:     queue,
		assignee:  assignee,
		publicURL: publicURL,
		out:       out,
		readFile:  os.ReadFile,
	}
}

// Run reads commands from in until EOF or "exit". The prompt is shown only
// when in is a terminal.
func (a *App) Run(ctx context.Context, in *os.File) {
	interactive := term.IsTerminal(int(in.Fd()))
	if interactive {
		fmt.Fprintln(a.out, "Welcome to propcheck agent (type 'help' for commands)")
	}

	prompt := func() string { return "" }
	if interactive {
		prompt = a.prompt
	}

	runREPL(ctx, a, prompt, bufio.NewScanner(in))
}

func (a *App) mode() Mode {
	if a.conn.Online() {
		return ModeOnline
	}
	return ModeOffline
}

func (a *App) prompt() string {
	s := string(a.mode())
	if a.session != nil {
		s = fmt.Sprintf("%s %s %s", a.session.JobID(), a.session.Stage(), s)
	}
	if st := a.queue.Status(); st.Pending+st.Uploading > 0 {
		s = fmt.Sprintf("%s, %d uploading", s, st.Pending+st.Uploading)
	}
	return fmt.Sprintf("pc (%s)> ", s)
}

func (a *App) hasSession() bool {
	return a.session != nil
}

func (a *App) notices() []string {
	if a.conn.ConsumeRestored() {
		return []string{"Connection restored"}
	}
	return nil
}
