package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"driftwatch/internal/core"
	"driftwatch/internal/persistence"
)

// NewNarrativesCmd creates the narrative inspection commands.
func NewNarrativesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "narratives",
		Aliases: []string{"narrative"},
		Short:   "Inspect tracked narratives",
	}
	cmd.AddCommand(newNarrativesListCmd())
	cmd.AddCommand(newNarrativesShowCmd())
	return cmd
}

func newNarrativesListCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List narratives of a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := core.Namespace(namespace)
			if ns != core.NamespaceArticle && ns != core.NamespaceStatement {
				return fmt.Errorf("unknown namespace %q (article or statement)", namespace)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			narratives, err := a.store.LoadNarratives(ctx, ns)
			if err != nil {
				return fmt.Errorf("failed to load narratives: %w", err)
			}
			return emit(cmd.OutOrStdout(), narratives, func() string { return renderNarratives(narratives) })
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", string(core.NamespaceArticle), "narrative namespace: article or statement")
	return cmd
}

func newNarrativesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <narrative-id>",
		Short: "Show a narrative with its timeline and weekly reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := findNarrative(cmd, a, args[0])
			if err != nil {
				return err
			}
			events, err := a.store.Events(ctx, n.ID)
			if err != nil {
				return fmt.Errorf("failed to load events: %w", err)
			}
			reports, err := a.store.Reports(ctx, n.ID)
			if err != nil {
				return fmt.Errorf("failed to load reports: %w", err)
			}
			d := narrativeDetail{Narrative: n, Events: events, Reports: reports}
			return emit(cmd.OutOrStdout(), d, func() string { return renderNarrative(d) })
		},
	}
}

func findNarrative(cmd *cobra.Command, a *app, id string) (*core.Narrative, error) {
	for _, ns := range []core.Namespace{core.NamespaceArticle, core.NamespaceStatement} {
		narratives, err := a.store.LoadNarratives(cmd.Context(), ns)
		if err != nil {
			return nil, fmt.Errorf("failed to load narratives: %w", err)
		}
		for _, n := range narratives {
			if n.ID == id {
				return n, nil
			}
		}
	}
	return nil, fmt.Errorf("narrative %s: %w", id, persistence.ErrNotFound)
}
