// Command vpsterm opens a panel terminal session from a local shell.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/vpsdeck/panel/internal/termclient"
)

var version = "dev" // set by the linker

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}

type globalOpts struct {
	url   string
	token string
}

func (o *globalOpts) api() *termclient.APIClient {
	return &termclient.APIClient{BaseURL: o.url, Token: o.token}
}

// newRootCmd builds the command tree. Tests create fresh trees with it.
func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	cmd := &cobra.Command{
		Use:   "vpsterm",
		Short: "Terminal access to your panel servers",
		Long: `vpsterm opens an interactive shell on a server through the panel's
terminal bridge. Authenticate with an API token issued by the panel
(vpsdeck --issue-token --username <name>).

While connected, press Ctrl-] followed by:
  f  toggle fullscreen (alternate screen)
  r  reconnect
  q  quit`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.url == "" {
				return errMissing("--url", "VPSTERM_URL")
			}
			if opts.token == "" {
				return errMissing("--token", "VPSTERM_TOKEN")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.url, "url", os.Getenv("VPSTERM_URL"), "panel base URL (env VPSTERM_URL)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("VPSTERM_TOKEN"), "panel API token (env VPSTERM_TOKEN)")

	cmd.AddCommand(newConnectCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	return cmd
}
