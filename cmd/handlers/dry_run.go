package handlers

import (
	"time"

	"github.com/spf13/cobra"
)

// NewDryRunCmd creates the cost forecasting command.
func NewDryRunCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Forecast calls, cost and duration without calling any provider",
		Long: `Walk the same windows a run would, using only cached embeddings and
responses, and report how many provider calls the run would make and what
they would cost. Nothing is written and no provider is contacted, so the
command also works before API keys are configured.

Weeks whose articles are all embedded already are projected exactly.
Other weeks are bounded by the configured clusters per window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			from, to, err := rf.resolve(time.Now(), a.cfg.Pipeline.Months)
			if err != nil {
				return err
			}
			o, err := a.orchestrator(ctx, true)
			if err != nil {
				return err
			}
			p, err := o.DryRun(ctx, from, to)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), p, func() string { return renderProjection(p) })
		},
	}
	rf.register(cmd)
	return cmd
}
