package commands

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <scan.nii>",
		Short: "Upload a scan and make it the current session",
		Long: `Upload a .nii scan to the slice service. The new session replaces the
current one, whose cached slices are dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.app.Restore(ctx)
			file, err := rt.app.Select(args[0])
			if err != nil {
				return err
			}

			s := newSpinner(cmd, fmt.Sprintf(" Uploading %s", file.Name))
			sess, err := rt.app.Upload(ctx)
			s.Stop()
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s: session %s with %d slices\n",
				sess.SourceFilename, sess.SessionID, sess.SliceCount)
			return nil
		},
	}
}

// newSpinner starts a progress spinner on the command's stderr
func newSpinner(cmd *cobra.Command, suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = suffix
	s.Start()
	return s
}
