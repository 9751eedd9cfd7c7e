package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/strrl/ctslice/pkg/models"
)

// NewDebugCommand creates the debug-cache command
func NewDebugCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "debug-cache",
		Short: "Verify the cached slices of the current scan",
		Long: `Read back every cached slice of the current scan. Unreadable records are
dropped, so the next request fetches them again. Cache metrics are printed
when metrics are enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.restore(ctx); err != nil {
				return err
			}
			sess, _ := rt.app.Current()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Debugging session: %s\n", sess.SessionID)
			fmt.Fprintln(out, "==========================================")

			indexes, err := rt.slices.Indexes(ctx, sess.SessionID)
			if err != nil {
				return err
			}
			if len(indexes) == 0 {
				fmt.Fprintln(out, "No cached slices")
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Slice", "Size", "Status"})

			bad := 0
			for _, idx := range indexes {
				h, ok := rt.cache.Lookup(ctx, models.SliceKey{SessionID: sess.SessionID, Index: idx})
				if !ok {
					bad++
					tw.AppendRow(table.Row{idx, "-", "unreadable, dropped"})
					continue
				}
				tw.AppendRow(table.Row{idx, humanize.IBytes(uint64(h.Size())), "ok"})
			}
			if len(indexes) > 0 {
				tw.Render()
			}
			fmt.Fprintf(out, "\n%d cached, %d dropped\n", len(indexes)-bad, bad)

			if rt.metrics != nil {
				fmt.Fprintln(out, "\n--- Metrics ---")
				return rt.metrics.Write(out)
			}
			return nil
		},
	}
}
