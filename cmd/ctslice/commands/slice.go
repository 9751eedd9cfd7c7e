package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSliceCommand creates the slice command group
func NewSliceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slice",
		Short: "Download or save slices of the current scan",
	}
	cmd.AddCommand(newSliceGetCommand(), newSliceSaveCommand())
	return cmd
}

func parseIndex(arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("slice index must be a number, got %q", arg)
	}
	return index, nil
}

func newSliceGetCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "get <index>",
		Short: "Download a slice as ct_slice_<index>.png",
		Long: `Download one rendered slice. Slices fetched before are served from the
local cache without contacting the service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.restore(ctx); err != nil {
				return err
			}
			s := newSpinner(cmd, fmt.Sprintf(" Loading slice %d", index))
			_, err = rt.app.ShowSlice(ctx, index)
			s.Stop()
			if err != nil {
				return fmt.Errorf("failed to get slice %d: %w", index, err)
			}
			path, err := rt.app.Export(outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write the image to")
	return cmd
}

func newSliceSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <index>",
		Short: "Save a slice to your profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.restore(ctx); err != nil {
				return err
			}
			// the save runs in the background; Close waits for it and failures are logged
			if err := rt.app.Save(ctx, index); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saving slice %d to your profile\n", index)
			return nil
		},
	}
}
