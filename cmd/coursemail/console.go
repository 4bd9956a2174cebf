package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"coursemail-engine/internal/watcher"
)

type consoleWatcher interface {
	Trigger() bool
	Status() watcher.Status
}

// runConsole reads operator commands line by line until quit, EOF or ctx
// is done. Only the quit command calls quit; EOF just ends the console.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, w consoleWatcher, quit func()) {
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

	fmt.Fprintln(out, "commands: check, status, quit")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
			case "check", "c":
				switch {
				case w.Trigger():
					fmt.Fprintln(out, "check started")
				case !w.Status().Running:
					st := w.Status()
					if st.LastError != "" {
						fmt.Fprintf(out, "the watcher is stopped: %s\n", st.LastError)
					} else {
						fmt.Fprintln(out, "the watcher is stopped")
					}
				default:
					fmt.Fprintln(out, "a check is already running")
				}
			case "status", "s":
				b, _ := json.MarshalIndent(w.Status(), "", "  ")
				fmt.Fprintln(out, string(b))
			case "quit", "q", "exit":
				quit()
				return
			default:
				fmt.Fprintf(out, "unknown command %q (check, status, quit)\n", line)
			}
		}
	}
}
