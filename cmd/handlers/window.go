package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/core"
)

// NewWindowCmd creates the command that processes a single window.
func NewWindowCmd() *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Process one window",
		Long: `Process a single window, by default last week. The window must follow
the last committed one for drift labels to be meaningful; an already
committed window is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			from := weekStart(time.Now()).AddDate(0, 0, -7)
			if start != "" {
				if from, err = time.Parse(dateLayout, start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			o, err := a.orchestrator(ctx, false)
			if err != nil {
				return err
			}
			w := core.NewWindow(from, a.cfg.PipelineSettings().Pipeline.WindowSize)
			res, err := o.RunWindow(ctx, w)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), res, func() string { return renderWindow(res) })
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start (YYYY-MM-DD, default: Monday of last week)")
	return cmd
}
