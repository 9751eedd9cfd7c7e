package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/strrl/ctslice/internal/tui"
)

var (
	configPath string
	serverURL  string
	debugMode  bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	var exportDir string

	rootCmd := &cobra.Command{
		Use:   "ctslice",
		Short: "Upload CT scans and browse their slices",
		Long: `ctslice uploads volumetric .nii scans to the slice rendering service and
lets you browse, download and save the rendered slices. Without a subcommand
it opens the interactive viewer for the current scan.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), exportDir)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./ctslice.yaml or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Slice service base URL (overrides server.base_url)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&exportDir, "out", "o", ".", "Directory for downloaded slices")

	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewSliceCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewClearCommand())
	rootCmd.AddCommand(NewLoginCommand())
	rootCmd.AddCommand(NewLogoutCommand())
	rootCmd.AddCommand(NewDebugCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runTUI(ctx context.Context, exportDir string) error {
	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.app.Restore(ctx)
	if err := tui.Run(ctx, rt.app, exportDir); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
