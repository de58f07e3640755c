package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/ledger"
	"driftwatch/internal/pipeline"
)

// runOutput is the YAML shape of `run`.
type runOutput struct {
	Result *pipeline.RunResult         `yaml:"result"`
	Calls  map[string]ledger.TaskTally `yaml:"calls"`
}

// NewRunCmd creates the command that processes a range of windows.
func NewRunCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Cluster, track and classify every window in a date range",
		Long: `Process each week in the range in order: embed the week's articles,
cluster them, link clusters to narratives, label drift events and write
weekly reports. Weeks that were already committed are skipped, so a run
that stopped part way can simply be started again.

Examples:
  driftwatch run --months 2
  driftwatch run --since 2025-01-06 --until 2025-03-03
  driftwatch run --weeks 4 -o yaml`,
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
			o, err := a.orchestrator(ctx, false)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Processing %s to %s\n", from.Format(dateLayout), to.Format(dateLayout))
			res, err := o.Run(ctx, from, to)
			if res == nil {
				return err
			}
			tally := o.Ledger().Tally()
			if outErr := emit(cmd.OutOrStdout(), runOutput{Result: res, Calls: tally}, func() string {
				return renderRun(res, tally)
			}); outErr != nil {
				return outErr
			}
			return err
		},
	}
	rf.register(cmd)
	return cmd
}
