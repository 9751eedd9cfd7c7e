package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewClearCommand creates the clear command
func NewClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the current scan and drop its cached slices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			sess, ok := rt.app.Restore(ctx)
			if err := rt.app.Clear(ctx); err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", sess.SourceFilename)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clear")
			}
			return nil
		},
	}
}
