package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *globalOpts) *cobra.Command {
	var kill string
	cmd := &cobra.Command{
		Use:   "sessions <server-id>",
		Short: "List live terminal sessions on a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, err := parseServerID(args[0])
			if err != nil {
				return err
			}
			api := opts.api()
			ctx := cmd.Context()

			if kill != "" {
				if err := api.CloseSession(ctx, serverID, kill); err != nil {
					return fmt.Errorf("close session %s: %w", kill, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Closed session %s\n", kill)
				return nil
			}

			sessions, err := api.Sessions(ctx, serverID)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No live sessions.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tSTATE\tSIZE\tSOURCE\tSTARTED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%dx%d\t%s\t%s\n",
					s.ID, s.UserID, s.State, s.Cols, s.Rows, s.SourceIP,
					s.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kill, "close", "", "close the session with this ID instead of listing")
	return cmd
}
