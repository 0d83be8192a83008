package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a recording stub.
type execIface interface {
	hasSession() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
	Add(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	Queue(ctx context.Context) error
	Receipt(ctx context.Context, args []string) error
}

const (
	helpNoSession = "Available commands: login [token], status, help, exit"
	helpSession   = "Available commands: add <type>, edit <type> <id>, (l)ist <type>, show <type> <id>, " +
		"delete <type> <id>, sync [force], status, queue, receipt upload|url <id> [file], logout, help, exit\n" +
		"Types: transaction, budget, loan"
)

// runREPL reads commands line by line from reader and dispatches them to a.
// It returns on EOF, "exit" or "quit". Handler errors are printed and the
// loop keeps going.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "fk %s> ", statusFn())
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if ctx.Err() != nil {
			return
		}

		var cmdErr error
		switch cmd {
		case "help":
			if a.hasSession() {
				fmt.Fprintln(w, helpSession)
			} else {
				fmt.Fprintln(w, helpNoSession)
			}
		case "login":
			cmdErr = a.Login(ctx, args)
		case "status":
			cmdErr = a.Status(ctx)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			if !a.hasSession() {
				fmt.Fprintln(w, "Please login first (type 'help' for commands)")
				continue
			}
			cmdErr = dispatch(ctx, a, cmd, args, w)
		}

		if cmdErr != nil {
			fmt.Fprintln(w, "error:", cmdErr)
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmd string, args []string, w io.Writer) error {
	switch cmd {
	case "logout":
		return a.Logout(ctx)
	case "add":
		return a.Add(ctx, args)
	case "edit":
		return a.Edit(ctx, args)
	case "l", "list":
		return a.List(ctx, args)
	case "show":
		return a.Show(ctx, args)
	case "delete", "rm":
		return a.Delete(ctx, args)
	case "sync":
		return a.Sync(ctx, args)
	case "queue":
		return a.Queue(ctx)
	case "receipt":
		return a.Receipt(ctx, args)
	default:
		fmt.Fprintln(w, "Unknown command:", cmd)
		return nil
	}
}
