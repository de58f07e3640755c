/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"driftwatch/internal/config"
	"driftwatch/internal/logger"
)

var (
	cfgFile      string
	outputFormat string
)

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driftwatch",
		Short: "Driftwatch tracks news narratives and how they drift over time.",
		Long: `Driftwatch groups news articles into weekly clusters, links them into
narratives that persist across weeks, and labels each week of a narrative's
life as emergence, shift, peak or decline.

Examples:
  driftwatch dry-run --months 2
  driftwatch run --since 2025-01-06 --until 2025-03-03
  driftwatch window --start 2025-03-03
  driftwatch narratives list`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.driftwatch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or yaml")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewDryRunCmd())
	rootCmd.AddCommand(NewWindowCmd())
	rootCmd.AddCommand(NewImportCmd())
	rootCmd.AddCommand(NewNarrativesCmd())
	rootCmd.AddCommand(NewCacheCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
}
