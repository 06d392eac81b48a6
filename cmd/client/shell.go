package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands are the subcommands available inside the shell.
var shellCommands = map[string]func(*app) *cobra.Command{
	"add":     newAddCmd,
	"edit":    newEditCmd,
	"list":    newListCmd,
	"delete":  newDeleteCmd,
	"sync":    newSyncCmd,
	"enable":  newEnableCmd,
	"disable": newDisableCmd,
	"status":  newStatusCmd,
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with background sync",
		Long: `Start an interactive session. While it runs, sync is attempted every
--sync-interval when it is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a.sync.StartAutoSync(ctx, a.opts.SyncInterval.Duration)
			repl(ctx, a)
			return nil
		},
	}
}

// repl runs the interactive shell loop until "exit" or end of input.
func repl(ctx context.Context, a *app) {
	in := &lineReader{r: bufio.NewReader(a.in)}
	a.in = in
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(a.out, "glucosync> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Fprintln(a.out, "Available commands: help, add, edit <id>, list, delete <id>, sync, enable, disable, status, exit")
		case "exit", "quit":
			fmt.Fprintln(a.out, "Bye")
			return
		default:
			build, ok := shellCommands[args[0]]
			if !ok {
				fmt.Fprintln(a.out, "Unknown command. Type 'help' for a list of commands.")
				continue
			}
			cmd := build(a)
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			cmd.SetArgs(args[1:])
			cmd.SetOut(a.out)
			cmd.SetErr(a.out)
			if err := cmd.ExecuteContext(ctx); err != nil {
				fmt.Fprintf(a.out, "Error: %v\n", confirmationHint(err))
			}
		}
	}
}

// lineReader hands out at most one line per Read, so the shell and the
// prompts can each wrap the input in their own scanner without one of them
// buffering lines meant for the other.
type lineReader struct {
	r    *bufio.Reader
	rest []byte
}

func (l *lineReader) Read(p []byte) (int, error) {
	if len(l.rest) == 0 {
		line, err := l.r.ReadBytes('\n')
		if len(line) == 0 {
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		l.rest = line
	}
	n := copy(p, l.rest)
	l.rest = l.rest[n:]
	return n, nil
}
