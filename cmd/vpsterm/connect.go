package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vpsdeck/panel/internal/termclient"
	"golang.org/x/term"
)

func errMissing(flag, env string) error {
	return fmt.Errorf("%s is required (or set %s)", flag, env)
}

func parseServerID(arg string) (uint, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid server id %q", arg)
	}
	return uint(n), nil
}

const hint = "\r\nPress Ctrl-] r to reconnect or Ctrl-] q to quit.\r\n"

func newConnectCmd(opts *globalOpts) *cobra.Command {
	var fullscreen bool
	cmd := &cobra.Command{
		Use:   "connect <server-id>",
		Short: "Open an interactive shell on a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, err := parseServerID(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			api := opts.api()
			user, err := api.CurrentUser(ctx)
			if err != nil {
				return fmt.Errorf("resolve current user: %w", err)
			}
			server, err := api.Server(ctx, serverID)
			if err != nil {
				return fmt.Errorf("load server %d: %w", serverID, err)
			}
			return runTerminal(ctx, api.Dialer(), server, user, fullscreen)
		},
	}
	cmd.Flags().BoolVar(&fullscreen, "fullscreen", false, "start in the alternate screen")
	return cmd
}

// runTerminal drives a Controller from the process's own terminal until the
// user quits or ctx ends.
func runTerminal(ctx context.Context, dialer termclient.Dialer, server termclient.ServerRef, user termclient.UserRef, fullscreen bool) error {
	inFd := int(os.Stdin.Fd())
	if !term.IsTerminal(inFd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(inFd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(inFd, oldState)

	surface := termclient.NewTTY(os.Stdout, int(os.Stdout.Fd()))
	ctrl := termclient.NewController(dialer, surface, termclient.Options{
		OnStateChange: func(state termclient.ConnState, _ string) {
			if state == termclient.StateError || state == termclient.StateDisconnected {
				io.WriteString(surface, hint)
			}
		},
	})
	defer ctrl.Close()

	if fullscreen {
		ctrl.ToggleFullscreen()
	}
	// An Open failure is already shown inline; the user can still reconnect.
	ctrl.Open(ctx, server, user)

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			ctrl.Resize(surface.Size())
		}
	}()

	keys := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				select {
				case keys <- append([]byte(nil), buf[:n]...):
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var esc escapeReader
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return err
		case p := <-keys:
			data, cmds := esc.feed(p)
			if len(data) > 0 {
				ctrl.OnUserInput(data)
			}
			for _, c := range cmds {
				switch c {
				case cmdFullscreen:
					ctrl.ToggleFullscreen()
				case cmdReconnect:
					go ctrl.Reconnect(ctx)
				case cmdQuit:
					return nil
				}
			}
		}
	}
}
