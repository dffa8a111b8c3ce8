package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	open    bool
	pending []string

	calls []string
	args  [][]string
	err   error
}

func (f *fakeExec) hasSession() bool { return f.open }

func (f *fakeExec) notices() []string {
	n := f.pending
	f.pending = nil
	return n
}

func (f *fakeExec) rec(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.err
}

func (f *fakeExec) Open(_ context.Context, args []string) error {
	f.open = true
	return f.rec("open", args)
}
func (f *fakeExec) Attach(_ context.Context, args []string) error    { return f.rec("attach", args) }
func (f *fakeExec) SetStatus(_ context.Context, args []string) error { return f.rec("status", args) }
func (f *fakeExec) Note(_ context.Context, args []string) error      { return f.rec("note", args) }
func (f *fakeExec) Remove(_ context.Context, args []string) error    { return f.rec("remove", args) }
func (f *fakeExec) Retry(_ context.Context, args []string) error     { return f.rec("retry", args) }
func (f *fakeExec) List(context.Context) error                       { return f.rec("list", nil) }
func (f *fakeExec) Queue(context.Context) error                      { return f.rec("queue", nil) }
func (f *fakeExec) Save(context.Context) error                       { return f.rec("save", nil) }
func (f *fakeExec) Submit(context.Context) error {
	f.open = false
	return f.rec("submit", nil)
}
func (f *fakeExec) Discard(context.Context) error { return f.rec("discard", nil) }
func (f *fakeExec) Drafts(context.Context) error  { return f.rec("drafts", nil) }

func capturePrint(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	capturePrint(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"open J1 inspector",
		`attach "Master Bedroom" Walls /tmp/a.jpg`,
		"status Kitchen Flooring Damaged",
		"note Kitchen Flooring loose tiles",
		"l",
		"queue",
		"save",
		"retry q1",
		"remove a1",
		"submit",
		"drafts",
		"discard",
		"exit",
		"list",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "pc> " }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"open", "attach", "status", "note", "list", "queue", "save",
		"retry", "remove", "submit", "drafts", "discard",
	}, exec.calls)
	assert.Equal(t, []string{"Master Bedroom", "Walls", "/tmp/a.jpg"}, exec.args[1])
	assert.Equal(t, []string{"Kitchen", "Flooring", "loose", "tiles"}, exec.args[3])
}

func TestRunREPL_PrintsErrorsAndNotices(t *testing.T) {
	lines := capturePrint(t)

	exec := &fakeExec{
		pending: []string{"Connection restored"},
		err:     errors.New("boom"),
	}
	input := strings.NewReader("save\nfoobar\n\"open\nquit\n")
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"Connection restored",
		"Error: boom",
		"Unknown command: foobar",
		"Error: unterminated quote",
		"Bye!",
	}, *lines)
}

func TestRunREPL_EOF(t *testing.T) {
	capturePrint(t)
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("")))
	assert.Empty(t, exec.calls)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "empty", in: "   ", want: nil},
		{name: "plain", in: "open J1  qa", want: []string{"open", "J1", "qa"}},
		{name: "quoted", in: `status "Living Room" Walls "Needs paint"`, want: []string{"status", "Living Room", "Walls", "Needs paint"}},
		{name: "empty quotes", in: `note A B ""`, want: []string{"note", "A", "B", ""}},
		{name: "tabs", in: "list\t\t", want: []string{"list"}},
		{name: "unterminated", in: `open "J1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitArgs(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
