package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a stub.
type execIface interface {
	hasSession() bool
	notices() []string
	Open(ctx context.Context, args []string) error
	Attach(ctx context.Context, args []string) error
	SetStatus(ctx context.Context, args []string) error
	Note(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
	List(ctx context.Context) error
	Queue(ctx context.Context) error
	Save(ctx context.Context) error
	Submit(ctx context.Context) error
	Discard(ctx context.Context) error
	Drafts(ctx context.Context) error
}

// runREPL reads commands from scanner until EOF or "exit".
//
// Before every prompt pending notices (e.g. "connection restored") are
// printed once. An empty prompt from promptFn suppresses the prompt line,
// which keeps piped input quiet.
//
//	No job open:
//	  - open <job> <stage>                    open or resume a job
//	  - drafts                                list saved drafts
//	  - queue                                 upload queue summary
//	  - exit | quit
//
//	Job open:
//	  - attach <location> <attribute> <file>  attach a photo
//	  - status <location> <attribute> <label> set the entry status
//	  - note <location> <attribute> <text>    set the entry notes
//	  - remove <id> | retry <id>              manage an attachment
//	  - (l)ist                                show the checklist
//	  - save | submit | discard
//
// Handler errors are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, promptFn func() string, scanner *bufio.Scanner) {
	for {
		for _, n := range a.notices() {
			printlnFn(n)
		}
		if p := promptFn(); p != "" {
			printlnFn(p)
		}
		if !scanner.Scan() {
			return
		}

		parts, err := splitArgs(scanner.Text())
		if err != nil {
			printlnFn("Error:", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.hasSession() {
				printlnFn("Available commands: attach, status, note, remove, retry, (l)ist, queue, save, submit, discard, exit")
			} else {
				printlnFn("Available commands: open, drafts, queue, exit")
			}

		case "open":
			err = a.Open(ctx, args)
		case "attach":
			err = a.Attach(ctx, args)
		case "status":
			err = a.SetStatus(ctx, args)
		case "note":
			err = a.Note(ctx, args)
		case "remove":
			err = a.Remove(ctx, args)
		case "retry":
			err = a.Retry(ctx, args)
		case "l", "list":
			err = a.List(ctx)
		case "queue":
			err = a.Queue(ctx)
		case "save":
			err = a.Save(ctx)
		case "submit":
			err = a.Submit(ctx)
		case "discard":
			err = a.Discard(ctx)
		case "drafts":
			err = a.Drafts(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

// splitArgs splits line on whitespace, keeping double-quoted runs together
// so that names like "Master Bedroom" survive as one argument.
func splitArgs(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t'):
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		out = append(out, cur.String())
	}
	return out, nil
}
