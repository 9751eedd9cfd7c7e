package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current scan and its cached slices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			sess, ok := rt.app.Restore(ctx)
			if !ok {
				if !rt.tokens.Authenticated() {
					fmt.Fprintln(out, "Not logged in")
				} else {
					fmt.Fprintln(out, "No scan uploaded")
				}
				return nil
			}

			fmt.Fprintln(out, "Current scan:")
			fmt.Fprintln(out, "=============")
			fmt.Fprintf(out, "File:     %s (%s)\n", sess.SourceFilename, humanize.IBytes(uint64(max(sess.SourceSizeBytes, 0))))
			fmt.Fprintf(out, "Uploaded: %s (%s)\n", sess.CreatedAt.Local().Format("2006-01-02 15:04"), humanize.Time(sess.CreatedAt))
			fmt.Fprintf(out, "Session:  %s\n", sess.SessionID)
			fmt.Fprintf(out, "Slices:   %d\n", sess.SliceCount)

			indexes, err := rt.slices.Indexes(ctx, sess.SessionID)
			if err != nil {
				return err
			}
			if len(indexes) == 0 {
				fmt.Fprintln(out, "Cached:   none")
				return nil
			}
			parts := make([]string, len(indexes))
			for i, idx := range indexes {
				parts[i] = fmt.Sprint(idx)
			}
			fmt.Fprintf(out, "Cached:   %s\n", strings.Join(parts, ", "))
			return nil
		},
	}
}
