package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tracejournal/trace"
)

// turnProcessor is the part of *trace.Journal the terminal loop uses.
type turnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID, text string) (*trace.TurnResult, error)
	NewSessionID() string
}

// runCLI journals one session over in and out until exit, quit or EOF.
func runCLI(ctx context.Context, j turnProcessor, in io.Reader, out io.Writer) error {
	sessionID := j.NewSessionID()
	ctx = trace.ContextWithUserID(ctx, "cli")

	fmt.Fprintln(out, "Trace journal. Type 'exit' or 'quit' to stop.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := j.ProcessTurn(ctx, sessionID, line)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return nil
		case trace.IsRetryable(err):
			fmt.Fprintln(out, "(busy, please try again in a moment)")
			continue
		default:
			return err
		}

		if res.Empty {
			fmt.Fprintln(out, "(no reply)")
			continue
		}
		fmt.Fprintln(out, res.Text)
	}
}
